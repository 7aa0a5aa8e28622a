package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive"
	"github.com/sagarc03/stowdrive/config"
	"github.com/sagarc03/stowdrive/database"
	drivehttp "github.com/sagarc03/stowdrive/http"
	"github.com/sagarc03/stowdrive/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the stowdrive HTTP server.

The drive is served under server.base_path, public shares under
server.share_path and the management API under /api. When configured,
a cron schedule regenerates thumbnails and purges expired shares.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 5708, "HTTP server port")
	serveCmd.Flags().String("base-path", "/dav", "URL prefix of the drive")
	serveCmd.Flags().String("public-url", "", "origin the server is reachable at, e.g. https://drive.example.com")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromContext(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	slog.Info("opened object store", "type", cfg.Store.Type)

	registry, shareStore, closeShares, err := openShares(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeShares()

	drive, err := newDrive(cfg, store)
	if err != nil {
		return fmt.Errorf("create drive: %w", err)
	}

	signer := newSigner(cfg)
	if !signer.Configured() {
		slog.Warn("no credential or secret configured, the drive will refuse every request")
	}

	thumbnails, err := newThumbnails(cfg, store, signer)
	if err != nil {
		return fmt.Errorf("create thumbnail pipeline: %w", err)
	}

	handlerConfig := drivehttp.HandlerConfig{
		BasePath:      cfg.Server.BasePath,
		SharePath:     cfg.Server.SharePath,
		MaxUploadSize: cfg.Server.MaxUploadSize,
		Signer:        signer,
		CORS:          cfg.CORS,
		Logger:        slog.Default(),
	}

	// a nil pipeline must reach the handler as a nil interface
	var thumbs drivehttp.Thumbnails
	if thumbnails != nil {
		thumbs = thumbnails
	}
	handler := drivehttp.NewHandler(&handlerConfig, drive, registry, thumbs)

	sched, err := newScheduler(ctx, cfg, shareStore, thumbnails)
	if err != nil {
		return err
	}
	sched.Start()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	// no write timeout: large downloads and part uploads may take long
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "base_path", cfg.Server.BasePath, "share_path", cfg.Server.SharePath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "err", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		slog.Error("scheduler shutdown error", "err", err)
	}

	return nil
}

func newScheduler(ctx context.Context, cfg *config.Config, shares stowdrive.ShareStore, thumbnails *stowdrive.ThumbnailPipeline) (*scheduler.Scheduler, error) {
	sched := scheduler.New(slog.Default())

	if spec := cfg.Shares.MaintenanceSchedule; spec != "" {
		err := sched.Add(ctx, scheduler.Job{
			Name: "purge-shares",
			Spec: spec,
			Run: func(ctx context.Context) error {
				n, err := database.Maintain(ctx, shares)
				if err != nil {
					return err
				}
				if n > 0 {
					slog.Info("purged expired shares", "count", n)
				}
				return nil
			},
		})
		if err != nil {
			return nil, err
		}
	}

	if spec := cfg.Thumbnails.Schedule; spec != "" && thumbnails != nil {
		err := sched.Add(ctx, scheduler.Job{
			Name: "thumbnails",
			Spec: spec,
			Run: func(ctx context.Context) error {
				report, err := thumbnails.GenerateAll(ctx, "", false)
				if err != nil {
					return err
				}
				slog.Info("thumbnail pass complete", "outcomes", report.Outcomes, "failed", report.Failed)
				return nil
			},
		})
		if err != nil {
			return nil, err
		}
	}

	return sched, nil
}
