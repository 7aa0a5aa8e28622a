package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sagarc03/stowdrive"
	"github.com/sagarc03/stowdrive/config"
	"github.com/sagarc03/stowdrive/database"
	"github.com/sagarc03/stowdrive/filesystem"
	"github.com/sagarc03/stowdrive/resize"
	"github.com/sagarc03/stowdrive/s3store"
)

// openStore opens the configured object store. The cleanup function
// releases the filesystem root.
func openStore(ctx context.Context, cfg *config.Config) (stowdrive.ObjectStore, func(), error) {
	switch cfg.Store.Type {
	case "filesystem":
		if err := os.MkdirAll(cfg.Store.Path, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create storage directory: %w", err)
		}

		root, err := os.OpenRoot(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open storage root: %w", err)
		}

		store, err := filesystem.NewFileStorage(root)
		if err != nil {
			_ = root.Close()
			return nil, nil, fmt.Errorf("open file storage: %w", err)
		}

		return store, func() { _ = root.Close() }, nil

	case "s3":
		client, err := s3store.NewClient(ctx, cfg.Store.S3)
		if err != nil {
			return nil, nil, err
		}

		store, err := s3store.New(client, cfg.Store.S3.Bucket, cfg.Store.S3.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}

		return store, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store type: %s", cfg.Store.Type)
	}
}

func openShares(ctx context.Context, cfg *config.Config) (*stowdrive.ShareRegistry, stowdrive.ShareStore, func(), error) {
	if cfg.Shares.Type != "badger" {
		if err := (stowdrive.Tables{Shares: cfg.Shares.Table}).Validate(); err != nil {
			return nil, nil, nil, fmt.Errorf("invalid shares config: %w", err)
		}
	}

	store, closeDB, err := database.Connect(ctx, cfg.Shares.Config)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect share backend: %w", err)
	}

	slog.Debug("connected to share backend", "type", cfg.Shares.Type)
	return stowdrive.NewShareRegistry(store, nil), store, closeDB, nil
}

func newSigner(cfg *config.Config) *stowdrive.Signer {
	return stowdrive.NewSigner(stowdrive.SignerConfig{
		BasePath: cfg.Server.BasePath,
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
		Secret:   cfg.Auth.Secret,
	})
}

func newDrive(cfg *config.Config, store stowdrive.ObjectStore) (*stowdrive.DriveService, error) {
	return stowdrive.NewDriveService(stowdrive.DriveConfig{
		Store:             store,
		CopyConcurrency:   cfg.Gateway.CopyConcurrency,
		DeleteConcurrency: cfg.Gateway.DeleteConcurrency,
		DeleteRate:        cfg.Gateway.DeleteRate,
		Logger:            slog.Default(),
	})
}

// newThumbnails returns nil when thumbnail generation is disabled.
func newThumbnails(cfg *config.Config, store stowdrive.ObjectStore, signer *stowdrive.Signer) (*stowdrive.ThumbnailPipeline, error) {
	if !cfg.Thumbnails.Enabled {
		return nil, nil
	}

	resizer, err := resize.New(resize.Config{
		URL:          cfg.Thumbnails.ResizeURL,
		Token:        cfg.Thumbnails.ResizeToken,
		MarkerHeader: cfg.Thumbnails.MarkerHeader,
	})
	if err != nil {
		return nil, err
	}

	return stowdrive.NewThumbnailPipeline(stowdrive.ThumbnailConfig{
		Store:         store,
		Resizer:       resizer,
		SourceBaseURL: cfg.Thumbnails.SourceBaseURL,
		GatewayURL:    cfg.Server.PublicURL,
		Signer:        signer,
		SignedURLTTL:  cfg.Thumbnails.SignedURLTTL,
		Width:         cfg.Thumbnails.Width,
		Height:        cfg.Thumbnails.Height,
		Concurrency:   cfg.Thumbnails.Concurrency,
		Logger:        slog.Default(),
	})
}
