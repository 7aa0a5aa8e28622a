package main

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive"
	"github.com/sagarc03/stowdrive/config"
)

var thumbnailsCmd = &cobra.Command{
	Use:   "thumbnails [flags] [prefix]",
	Short: "Generate thumbnails for stored images",
	Long: `Generate thumbnails for every image beneath prefix (default: the whole
drive), or for a single object with --key.

Objects that already reference a thumbnail are skipped unless --force is
given.

Examples:
  # Fill in missing thumbnails for a folder
  stowdrive thumbnails photos/

  # Regenerate one image
  stowdrive thumbnails --key photos/beach.jpg --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runThumbnails,
}

var (
	thumbnailsKey   string
	thumbnailsForce bool
)

func init() {
	thumbnailsCmd.Flags().StringVar(&thumbnailsKey, "key", "", "generate the thumbnail of a single object")
	thumbnailsCmd.Flags().BoolVarP(&thumbnailsForce, "force", "f", false, "regenerate existing thumbnails")
	rootCmd.AddCommand(thumbnailsCmd)
}

func runThumbnails(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromContext(cmd.Context())
	if err != nil {
		return err
	}

	if !cfg.Thumbnails.Enabled {
		return errors.New("thumbnails are disabled; set thumbnails.enabled")
	}
	if thumbnailsKey != "" && len(args) > 0 {
		return errors.New("--key and prefix are mutually exclusive")
	}

	ctx := cmd.Context()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	pipeline, err := newThumbnails(cfg, store, newSigner(cfg))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if thumbnailsKey != "" {
		outcome, err := pipeline.Generate(ctx, stowdrive.NormalizeKey(thumbnailsKey), thumbnailsForce)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "%s: %s\n", thumbnailsKey, outcome)
		return nil
	}

	var prefix string
	if len(args) == 1 {
		prefix = args[0]
	}

	report, err := pipeline.GenerateAll(ctx, prefix, thumbnailsForce)
	printReport(cmd, report)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d thumbnails failed", report.Failed)
	}
	return nil
}

func printReport(cmd *cobra.Command, report stowdrive.ThumbnailReport) {
	outcomes := make([]string, 0, len(report.Outcomes))
	for outcome := range report.Outcomes {
		outcomes = append(outcomes, string(outcome))
	}
	slices.Sort(outcomes)

	out := cmd.OutOrStdout()
	for _, outcome := range outcomes {
		_, _ = fmt.Fprintf(out, "%-12s %d\n", outcome, report.Outcomes[stowdrive.ThumbnailOutcome(outcome)])
	}
	if report.Failed > 0 {
		_, _ = fmt.Fprintf(out, "%-12s %d\n", "failed", report.Failed)
	}
}
