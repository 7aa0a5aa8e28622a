package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "stowdrive",
	Short:   "Drive gateway over an object store",
	Long: `stowdrive serves a WebDAV style drive backed by a local directory
or an S3 bucket, with signed capability links, public shares and a
thumbnail cache.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFiles, _ := cmd.Flags().GetStringSlice("config")

		cfg, err := config.Load(configFiles, cmd.Flags())
		if err != nil {
			return err
		}

		setupLogging(cfg)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSlice("config", nil, "config file path, repeatable; later files override earlier ones (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("db-type", "", "share backend: sqlite, postgres, badger (default: sqlite, env: STOWDRIVE_SHARES_TYPE)")
	rootCmd.PersistentFlags().String("db-dsn", "", "share backend connection string or badger directory (default: stowdrive.db, env: STOWDRIVE_SHARES_DSN)")
	rootCmd.PersistentFlags().String("store-type", "", "object store: filesystem, s3 (default: filesystem, env: STOWDRIVE_STORE_TYPE)")
	rootCmd.PersistentFlags().String("store-path", "", "filesystem store directory (default: ./data, env: STOWDRIVE_STORE_PATH)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
