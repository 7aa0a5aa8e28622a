package main

import (
	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive/clientcli"
)

var mkdirParents bool

var mkdirCmd = &cobra.Command{
	Use:   "mkdir [flags] <path>",
	Short: "Create a directory",
	Long: `Create a directory. The parent must exist unless -p is given.

Examples:
  stowdrive-cli mkdir docs
  stowdrive-cli mkdir -p photos/2024/summer`,
	Args: cobra.ExactArgs(1),
	RunE: runMkdir,
}

func init() {
	mkdirCmd.Flags().BoolVarP(&mkdirParents, "parents", "p", false, "create missing parents; no error if the directory exists")
}

func runMkdir(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	result, err := client.Mkdir(cmd.Context(), clientcli.MkdirOptions{
		Path:    args[0],
		Parents: mkdirParents,
	})
	if err != nil {
		return err
	}

	return getFormatter().FormatAction(stdout(cmd), result)
}
