package main

import (
	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive/clientcli"
)

var (
	transferNoOverwrite bool
	transferShallow     bool
)

var copyCmd = &cobra.Command{
	Use:     "copy [flags] <source> <destination>",
	Aliases: []string{"cp"},
	Short:   "Copy a file or directory on the server",
	Long: `Copy a file or directory on the server. Directories are copied with
their contents unless --shallow is given.

Examples:
  stowdrive-cli copy docs/report.pdf archive/report.pdf
  stowdrive-cli copy --no-overwrite photos backup/photos`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(cmd, args, false)
	},
}

var moveCmd = &cobra.Command{
	Use:     "move [flags] <source> <destination>",
	Aliases: []string{"mv"},
	Short:   "Move a file or directory on the server",
	Long: `Move a file or directory on the server. The server copies then deletes,
so an interrupted move can leave both copies.

Examples:
  stowdrive-cli move drafts/post.md published/post.md`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(cmd, args, true)
	},
}

func init() {
	for _, c := range []*cobra.Command{copyCmd, moveCmd} {
		c.Flags().BoolVarP(&transferNoOverwrite, "no-overwrite", "n", false, "fail if the destination exists")
	}
	copyCmd.Flags().BoolVar(&transferShallow, "shallow", false, "copy only the directory itself, not its contents")
}

func runTransfer(cmd *cobra.Command, args []string, move bool) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	opts := clientcli.TransferOptions{
		Source:      args[0],
		Destination: args[1],
		NoOverwrite: transferNoOverwrite,
		Shallow:     transferShallow && !move,
	}

	var result clientcli.ActionResult
	if move {
		result, err = client.Move(cmd.Context(), opts)
	} else {
		result, err = client.Copy(cmd.Context(), opts)
	}
	if err != nil {
		return err
	}

	return getFormatter().FormatAction(stdout(cmd), result)
}
