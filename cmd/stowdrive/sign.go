package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive"
	"github.com/sagarc03/stowdrive/config"
)

var signCmd = &cobra.Command{
	Use:   "sign [flags] <key>",
	Short: "Mint a capability URL",
	Long: `Print a signed URL granting access to key without the direct credential.

The signature covers the request path, so the link works for key only.
By default it is read-only (GET, HEAD, PROPFIND) and scoped to key itself.
--scope names a folder containing key, which also bounds COPY and MOVE
destinations; --full-control allows every verb.

Examples:
  # A download link valid for one hour
  stowdrive sign docs/report.pdf --ttl 1h

  # Let a client replace one file and move it anywhere under inbox/
  stowdrive sign inbox/draft.txt --scope inbox --full-control --ttl 24h`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

var (
	signTTL         time.Duration
	signScope       string
	signFullControl bool
)

func init() {
	signCmd.Flags().DurationVar(&signTTL, "ttl", time.Hour, "lifetime of the capability, 0 for no expiry")
	signCmd.Flags().StringVar(&signScope, "scope", "", "folder the capability covers (default: the key)")
	signCmd.Flags().BoolVar(&signFullControl, "full-control", false, "allow writes and deletes")
	rootCmd.AddCommand(signCmd)
}

func runSign(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromContext(cmd.Context())
	if err != nil {
		return err
	}

	if cfg.Auth.Secret == "" {
		return errors.New("auth.secret is not configured")
	}

	key := stowdrive.NormalizeKey(args[0])
	if !stowdrive.IsValidKey(key) {
		return fmt.Errorf("invalid key %q", args[0])
	}

	scope := stowdrive.NormalizeKey(signScope)
	if signScope == "" {
		scope = key
	}
	if !stowdrive.IsWithin(key, scope) {
		return fmt.Errorf("key %q is outside scope %q", key, scope)
	}

	link, err := newSigner(cfg).SignKey(key, stowdrive.CapabilityOptions{
		Scope:       scope,
		TTL:         signTTL,
		FullControl: signFullControl,
	})
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), publicBase(cfg)+link)
	return nil
}
