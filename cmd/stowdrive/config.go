package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, config files,
STOWDRIVE_* environment variables and flags. Secrets are redacted unless
--show-secrets is given.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var configShowSecrets bool

func init() {
	configCmd.Flags().BoolVar(&configShowSecrets, "show-secrets", false, "print secrets in clear text")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromContext(cmd.Context())
	if err != nil {
		return err
	}
	return printConfig(cmd.OutOrStdout(), cfg, configShowSecrets)
}

func printConfig(w io.Writer, cfg *config.Config, showSecrets bool) error {
	secret := func(s string) string {
		if s == "" || showSecrets {
			return s
		}
		return "********"
	}

	rows := [][2]string{
		{"env", cfg.Env},
		{"server.port", fmt.Sprint(cfg.Server.Port)},
		{"server.base_path", cfg.Server.BasePath},
		{"server.share_path", cfg.Server.SharePath},
		{"server.public_url", cfg.Server.PublicURL},
		{"server.max_upload_size", fmt.Sprint(cfg.Server.MaxUploadSize)},
		{"auth.username", cfg.Auth.Username},
		{"auth.password", secret(cfg.Auth.Password)},
		{"auth.secret", secret(cfg.Auth.Secret)},
		{"store.type", cfg.Store.Type},
	}

	switch cfg.Store.Type {
	case "filesystem":
		rows = append(rows, [2]string{"store.path", cfg.Store.Path})
	case "s3":
		rows = append(rows,
			[2]string{"store.s3.bucket", cfg.Store.S3.Bucket},
			[2]string{"store.s3.region", cfg.Store.S3.Region},
			[2]string{"store.s3.endpoint", cfg.Store.S3.Endpoint},
			[2]string{"store.s3.key_prefix", cfg.Store.S3.KeyPrefix},
			[2]string{"store.s3.access_key_id", cfg.Store.S3.AccessKeyID},
			[2]string{"store.s3.secret_access_key", secret(cfg.Store.S3.SecretAccessKey)},
		)
	}

	dsn := cfg.Shares.DSN
	if cfg.Shares.Type == "postgres" {
		dsn = secret(dsn)
	}
	rows = append(rows,
		[2]string{"shares.type", cfg.Shares.Type},
		[2]string{"shares.dsn", dsn},
		[2]string{"shares.table", cfg.Shares.Table},
		[2]string{"shares.maintenance_schedule", cfg.Shares.MaintenanceSchedule},
		[2]string{"thumbnails.enabled", fmt.Sprint(cfg.Thumbnails.Enabled)},
	)

	if cfg.Thumbnails.Enabled {
		rows = append(rows,
			[2]string{"thumbnails.resize_url", cfg.Thumbnails.ResizeURL},
			[2]string{"thumbnails.resize_token", secret(cfg.Thumbnails.ResizeToken)},
			[2]string{"thumbnails.size", fmt.Sprintf("%dx%d", cfg.Thumbnails.Width, cfg.Thumbnails.Height)},
			[2]string{"thumbnails.source_base_url", cfg.Thumbnails.SourceBaseURL},
			[2]string{"thumbnails.signed_url_ttl", cfg.Thumbnails.SignedURLTTL.String()},
			[2]string{"thumbnails.schedule", cfg.Thumbnails.Schedule},
		)
	}

	rows = append(rows,
		[2]string{"gateway.copy_concurrency", fmt.Sprint(cfg.Gateway.CopyConcurrency)},
		[2]string{"gateway.delete_concurrency", fmt.Sprint(cfg.Gateway.DeleteConcurrency)},
		[2]string{"gateway.delete_rate", fmt.Sprint(cfg.Gateway.DeleteRate)},
		[2]string{"cors.enabled", fmt.Sprint(cfg.CORS.Enabled)},
		[2]string{"cors.allowed_origins", strings.Join(cfg.CORS.AllowedOrigins, ",")},
		[2]string{"log.level", cfg.Log.Level},
	)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, row := range rows {
		value := row[1]
		if value == "" {
			value = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", row[0], value)
	}
	return tw.Flush()
}
