package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive/clientcli"
)

var (
	downloadOutput string
	downloadStdout bool
)

var downloadCmd = &cobra.Command{
	Use:   "download <remote-path> [local-path]",
	Short: "Download a file from the drive",
	Long: `Download a file from the drive.

Examples:
  stowdrive-cli download docs/file.txt
  stowdrive-cli download docs/file.txt ./local-file.txt
  stowdrive-cli download --stdout config.json | jq .
  stowdrive-cli download -o ./output.txt docs/file.txt`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "output file path")
	downloadCmd.Flags().BoolVar(&downloadStdout, "stdout", false, "write to stdout")
}

func runDownload(cmd *cobra.Command, args []string) error {
	localPath := ""
	if len(args) > 1 {
		localPath = args[1]
	}
	if downloadOutput != "" {
		localPath = downloadOutput
	}
	if downloadStdout {
		localPath = "-"
	}

	client, err := getClient()
	if err != nil {
		return err
	}

	result, reader, err := client.Download(cmd.Context(), clientcli.DownloadOptions{
		RemotePath: args[0],
		LocalPath:  localPath,
	})
	if err != nil {
		return err
	}

	if reader != nil {
		defer func() { _ = reader.Close() }()
		if _, err := io.Copy(stdout(cmd), reader); err != nil {
			return err
		}
		// metadata goes to stderr so it does not mix with the content
		if jsonOutput {
			return getFormatter().FormatDownload(os.Stderr, result)
		}
		return nil
	}

	return getFormatter().FormatDownload(stdout(cmd), result)
}
