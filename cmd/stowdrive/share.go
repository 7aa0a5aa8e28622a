package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive"
	"github.com/sagarc03/stowdrive/config"
	"github.com/sagarc03/stowdrive/database"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Manage public shares",
	Long: `Create, list and remove public shares directly in the share backend.

Shares are served without authentication under the share path
(default /s/<sharekey>).`,
}

var shareAddCmd = &cobra.Command{
	Use:   "add [flags] <sharekey> <key>",
	Short: "Create or replace a share",
	Long: `Create or replace a share. A key ending in / shares a directory.

Examples:
  # Share a file for a week
  stowdrive share add report docs/report.pdf --expires 168h

  # Share a directory behind a password, hidden from listing
  stowdrive share add photos photos/2024/ --auth guest:hunter2 --noindex

  # Only allow embedding from one site
  stowdrive share add logo img/logo.png --referer-mode Whitelist --referer 'https://*.example.com'`,
	Args: cobra.ExactArgs(2),
	RunE: runShareAdd,
}

var shareRemoveCmd = &cobra.Command{
	Use:   "remove <sharekey> [sharekey] ...",
	Short: "Remove shares",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runShareRemove,
}

var shareListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List unexpired shares",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShareList,
}

var sharePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired shares from the backend",
	Args:  cobra.NoArgs,
	RunE:  runSharePurge,
}

var (
	shareExpires     time.Duration
	shareAuth        string
	shareDesc        string
	shareNoIndex     bool
	shareCORS        bool
	shareRefererMode string
	shareReferers    []string
)

func init() {
	shareAddCmd.Flags().DurationVar(&shareExpires, "expires", 0, "lifetime of the share, 0 for no expiry")
	shareAddCmd.Flags().StringVar(&shareAuth, "auth", "", "require basic auth as user:password")
	shareAddCmd.Flags().StringVar(&shareDesc, "desc", "", "description")
	shareAddCmd.Flags().BoolVar(&shareNoIndex, "noindex", false, "do not list directory contents")
	shareAddCmd.Flags().BoolVar(&shareCORS, "cors", false, "allow cross-origin reads")
	shareAddCmd.Flags().StringVar(&shareRefererMode, "referer-mode", string(stowdrive.RefererNoLimit), "NoLimit, Whitelist or Blacklist")
	shareAddCmd.Flags().StringSliceVar(&shareReferers, "referer", nil, "referer pattern, repeatable; * matches anything")

	shareCmd.AddCommand(shareAddCmd, shareRemoveCmd, shareListCmd, sharePurgeCmd)
	rootCmd.AddCommand(shareCmd)
}

func shareFromFlags(key string, now time.Time) (stowdrive.ShareObject, error) {
	mode := stowdrive.RefererMode(shareRefererMode)
	switch mode {
	case stowdrive.RefererNoLimit, stowdrive.RefererWhitelist, stowdrive.RefererBlacklist:
	default:
		return stowdrive.ShareObject{}, fmt.Errorf("invalid referer mode %q", shareRefererMode)
	}
	if shareExpires < 0 {
		return stowdrive.ShareObject{}, fmt.Errorf("invalid expiry %s", shareExpires)
	}

	share := stowdrive.ShareObject{
		Key:         key,
		RefererList: shareReferers,
		RefererMode: mode,
		Auth:        shareAuth,
		Desc:        shareDesc,
		NoIndex:     shareNoIndex,
		CORS:        shareCORS,
	}
	if shareExpires > 0 {
		share.Expiration = now.Add(shareExpires).Unix()
	}

	return share, nil
}

func runShareAdd(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromContext(cmd.Context())
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	share, err := shareFromFlags(args[1], time.Now())
	if err != nil {
		return err
	}

	registry, _, closeDB, err := openShares(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	if err = registry.Put(ctx, args[0], share); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Shared %s at %s/%s\n", share.Key, publicBase(cfg)+cfg.Server.SharePath, args[0])
	return nil
}

func runShareRemove(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromContext(cmd.Context())
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	registry, _, closeDB, err := openShares(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	var failed int
	for _, sharekey := range args {
		if err := registry.Delete(ctx, sharekey); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s - %v\n", sharekey, err)
			failed++
			continue
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", sharekey)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d shares failed to remove", failed, len(args))
	}
	return nil
}

func runShareList(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromContext(cmd.Context())
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	var prefix string
	if len(args) == 1 {
		prefix = args[0]
	}

	registry, _, closeDB, err := openShares(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	records, err := registry.List(ctx, prefix)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No shares found")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SHAREKEY\tKEY\tEXPIRES\tFLAGS")
	for _, rec := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.ShareKey, rec.Share.Key, formatExpiry(rec.Share), shareFlags(rec.Share))
	}
	return tw.Flush()
}

func runSharePurge(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromContext(cmd.Context())
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	_, store, closeDB, err := openShares(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	purged, err := database.Maintain(ctx, store)
	if err != nil {
		return fmt.Errorf("purge shares: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired shares\n", purged)
	return nil
}

func formatExpiry(share stowdrive.ShareObject) string {
	if share.Expiration <= 0 {
		return "never"
	}
	return humanize.Time(share.ExpiresAt())
}

func shareFlags(share stowdrive.ShareObject) string {
	var flags []string
	if share.Auth != "" {
		flags = append(flags, "auth")
	}
	if share.NoIndex {
		flags = append(flags, "noindex")
	}
	if share.CORS {
		flags = append(flags, "cors")
	}
	if share.RefererMode != "" && share.RefererMode != stowdrive.RefererNoLimit {
		flags = append(flags, strings.ToLower(string(share.RefererMode)))
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

// publicBase is the origin printed in links; without a public URL it falls
// back to localhost on the configured port.
func publicBase(cfg *config.Config) string {
	if cfg.Server.PublicURL != "" {
		return strings.TrimRight(cfg.Server.PublicURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
}
