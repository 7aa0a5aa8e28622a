package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive"
	"github.com/sagarc03/stowdrive/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Prepare the object store and the share backend",
	Long: `Create the storage directory (filesystem store) or check the bucket
is reachable (s3 store), and create the shares table or badger
directory. Running init again is harmless.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromContext(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// a root listing proves the store is reachable and the credentials work
	if _, err := store.List(ctx, stowdrive.ListOptions{Delimiter: "/", Limit: 1}); err != nil {
		return fmt.Errorf("list store: %w", err)
	}
	slog.Info("object store ready", "type", cfg.Store.Type)

	_, _, closeShares, err := openShares(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeShares()

	slog.Info("share backend ready", "type", cfg.Shares.Type, "table", cfg.Shares.Table)
	return nil
}
