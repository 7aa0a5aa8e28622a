package main

import (
	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive/clientcli"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <remote-path> [remote-path...]",
	Aliases: []string{"rm"},
	Short:   "Delete files and directories",
	Long: `Delete one or more paths. Directories are deleted with everything
beneath them.

Examples:
  stowdrive-cli delete docs/file.txt
  stowdrive-cli delete old/a.txt old/b.txt old/c.txt
  stowdrive-cli delete -q tmp`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	results, err := client.Delete(cmd.Context(), clientcli.DeleteOptions{Paths: args})
	if err != nil && len(results) == 0 {
		return err
	}

	if fmtErr := getFormatter().FormatDelete(stdout(cmd), results); fmtErr != nil {
		return fmtErr
	}
	if err != nil {
		return err
	}

	if clientcli.HasDeleteErrors(results) {
		var failed int
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		return &exitError{failed: failed}
	}

	return nil
}
