package main

import (
	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive/clientcli"
)

var listRecursive bool

var listCmd = &cobra.Command{
	Use:     "list [path]",
	Aliases: []string{"ls"},
	Short:   "List a directory",
	Long: `List the entries of a directory, or describe a single file.

Examples:
  stowdrive-cli list
  stowdrive-cli list photos/2024
  stowdrive-cli list -r backup`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVarP(&listRecursive, "recursive", "r", false, "list all descendants")
}

func runList(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}

	client, err := getClient()
	if err != nil {
		return err
	}

	result, err := client.List(cmd.Context(), clientcli.ListOptions{
		Path:      path,
		Recursive: listRecursive,
	})
	if err != nil {
		return err
	}

	return getFormatter().FormatList(stdout(cmd), result)
}
