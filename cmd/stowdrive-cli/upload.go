package main

import (
	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive/clientcli"
)

var (
	uploadRecursive   bool
	uploadContentType string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <local-path> [remote-path]",
	Short: "Upload files to the drive",
	Long: `Upload files to the drive. Files larger than --part-size go up as a
multipart upload; interrupting it aborts the upload on the server.

The remote parent directory must exist; with -r it is created.

Examples:
  stowdrive-cli upload ./file.txt docs/file.txt
  stowdrive-cli upload -r ./images/ media/images
  stowdrive-cli upload --content-type application/json ./data config.json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().BoolVarP(&uploadRecursive, "recursive", "r", false, "upload directory recursively")
	uploadCmd.Flags().StringVarP(&uploadContentType, "content-type", "t", "", "override content-type")
}

func runUpload(cmd *cobra.Command, args []string) error {
	localPath := args[0]
	remotePath := clientcli.NormalizeLocalToRemotePath(localPath)
	if len(args) > 1 {
		remotePath = args[1]
	}

	client, err := getClient()
	if err != nil {
		return err
	}

	results, err := client.Upload(cmd.Context(), clientcli.UploadOptions{
		LocalPath:   localPath,
		RemotePath:  remotePath,
		ContentType: uploadContentType,
		Recursive:   uploadRecursive,
	})
	if err != nil && len(results) == 0 {
		return err
	}

	if fmtErr := getFormatter().FormatUpload(stdout(cmd), results); fmtErr != nil {
		return fmtErr
	}
	if err != nil {
		return err
	}

	var failed int
	for i := range results {
		if results[i].Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return &exitError{failed: failed}
	}

	return nil
}
