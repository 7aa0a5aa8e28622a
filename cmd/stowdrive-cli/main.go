package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive/clientcli"
)

var (
	version = "dev"

	cfgFile    string
	profile    string
	endpoint   string
	username   string
	password   string
	secret     string
	partSize   int64
	jsonOutput bool
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:     "stowdrive-cli",
	Version: version,
	Short:   "Client for stowdrive servers",
	Long: `stowdrive-cli talks to a stowdrive server over its WebDAV dialect.

Connection settings come from, in increasing precedence: the profile in
~/.stowdrive/config.yaml, STOWDRIVE_* environment variables and flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.stowdrive/config.yaml, env: STOWDRIVE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "profile name (env: STOWDRIVE_PROFILE)")
	rootCmd.PersistentFlags().StringVarP(&endpoint, "endpoint", "e", "", "drive URL including base path (default: http://localhost:5708/dav, env: STOWDRIVE_ENDPOINT)")
	rootCmd.PersistentFlags().StringVarP(&username, "username", "u", "", "username (env: STOWDRIVE_USERNAME)")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "password (env: STOWDRIVE_PASSWORD)")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", "", "capability secret for presign (env: STOWDRIVE_SECRET)")
	rootCmd.PersistentFlags().Int64Var(&partSize, "part-size", clientcli.DefaultPartSize, "multipart part size in bytes")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")

	rootCmd.AddCommand(uploadCmd, downloadCmd, listCmd, mkdirCmd, deleteCmd, moveCmd, copyCmd, presignCmd, configureCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		var exitErr *exitError
		if !errors.As(err, &exitErr) {
			_ = getFormatter().FormatError(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// exitError signals failure after per-item errors were already printed.
type exitError struct {
	failed int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("%d operation(s) failed", e.failed)
}

func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := clientcli.ConfigPathFromEnv(); p != "" {
		return p
	}
	return clientcli.DefaultConfigPath()
}

// buildConfig merges config from the profile, env vars, and flags (flags
// take precedence).
func buildConfig() (*clientcli.Config, error) {
	var configs []*clientcli.Config

	name := profile
	if name == "" {
		name = clientcli.ProfileFromEnv()
	}

	configFile, err := clientcli.LoadConfigFile(getConfigPath())
	switch {
	case err == nil:
		p, profileErr := configFile.GetProfile(name)
		if profileErr != nil && (name != "" || !errors.Is(profileErr, clientcli.ErrNoProfiles)) {
			return nil, profileErr
		}
		if p != nil {
			configs = append(configs, clientcli.ConfigFromProfile(p))
		}
	case errors.Is(err, os.ErrNotExist) && cfgFile == "" && name == "":
		// no config file is fine without an explicit file or profile
	default:
		return nil, err
	}

	configs = append(configs,
		clientcli.ConfigFromEnv(),
		&clientcli.Config{
			Endpoint: endpoint,
			Username: username,
			Password: password,
			Secret:   secret,
		},
	)

	return clientcli.MergeConfig(configs...), nil
}

// getFormatter returns the appropriate formatter based on flags.
func getFormatter() clientcli.Formatter {
	return clientcli.NewFormatter(jsonOutput, quiet)
}

// getClient creates and returns a configured client.
func getClient() (*clientcli.Client, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}

	return clientcli.New(cfg, clientcli.WithPartSize(partSize))
}

func stdout(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(stdout(cmd))
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
