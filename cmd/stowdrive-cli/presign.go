package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive/clientcli"
)

var (
	presignExpires     time.Duration
	presignScope       string
	presignFullControl bool
)

var presignCmd = &cobra.Command{
	Use:   "presign [flags] <remote-path>",
	Short: "Print a capability URL for a path",
	Long: `Print a signed URL that grants access to one path without the
credential. The URL is computed locally from the server's secret.

Examples:
  stowdrive-cli presign docs/report.pdf
  stowdrive-cli presign --expires 24h --full-control inbox/draft.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runPresign,
}

func init() {
	presignCmd.Flags().DurationVar(&presignExpires, "expires", clientcli.DefaultPresignExpiry, "lifetime of the URL")
	presignCmd.Flags().StringVar(&presignScope, "scope", "", "folder the capability covers (default: the path)")
	presignCmd.Flags().BoolVar(&presignFullControl, "full-control", false, "allow writes and deletes")
}

func runPresign(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	link, err := client.Presign(clientcli.PresignOptions{
		Path:        args[0],
		Scope:       presignScope,
		Expires:     presignExpires,
		FullControl: presignFullControl,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd, map[string]string{"url": link})
	}
	_, _ = fmt.Fprintln(stdout(cmd), link)
	return nil
}
