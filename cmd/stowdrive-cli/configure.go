package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/sagarc03/stowdrive/clientcli"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Manage server profiles",
	Long: `Manage server profiles in the configuration file.

Profiles save connection settings for several stowdrive servers; switch
between them with --profile or STOWDRIVE_PROFILE.

Configuration is stored in ~/.stowdrive/config.yaml`,
}

var configureListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configured profiles",
	Long: `List all profiles configured in the config file.

The default profile is marked with an asterisk (*).`,
	RunE: runConfigureList,
}

var configureAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a new profile",
	Long: `Add a new profile interactively.

You will be prompted for:
  - Endpoint URL, including the drive base path
  - Username and password
  - Capability secret (optional, needed for presign)

The credential is checked against the server before saving.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigureAdd,
}

var configureRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a profile",
	Args:    cobra.ExactArgs(1),
	RunE:    runConfigureRemove,
}

var configureSetDefaultCmd = &cobra.Command{
	Use:   "set-default <name>",
	Short: "Set the default profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigureSetDefault,
}

var configureShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show profile details",
	Long: `Show details for a profile.

If no name is provided, shows the default profile.
Secrets are hidden by default; use --show-secrets to reveal them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigureShow,
}

var showSecrets bool

func init() {
	configureCmd.AddCommand(configureListCmd, configureAddCmd, configureRemoveCmd, configureSetDefaultCmd, configureShowCmd)

	configureShowCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configureListCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
}

func printNoProfiles(cmd *cobra.Command) {
	_, _ = fmt.Fprintln(stdout(cmd), "No profiles configured.")
	_, _ = fmt.Fprintln(stdout(cmd), "Run 'stowdrive-cli configure add <name>' to create one.")
}

func runConfigureList(cmd *cobra.Command, _ []string) error {
	cfg, err := clientcli.LoadConfigFile(getConfigPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			printNoProfiles(cmd)
			return nil
		}
		return fmt.Errorf("load config: %w", err)
	}

	if len(cfg.Profiles) == 0 {
		printNoProfiles(cmd)
		return nil
	}

	defaultName := cfg.Profiles[0].Name
	for _, p := range cfg.Profiles {
		if p.Default {
			defaultName = p.Name
			break
		}
	}

	return getFormatter().FormatProfileList(stdout(cmd), cfg.Profiles, defaultName, showSecrets)
}

func validateEndpoint(input string) error {
	if input == "" {
		return errors.New("endpoint URL is required")
	}
	parsedURL, err := url.Parse(input)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("URL must start with http:// or https://")
	}
	return nil
}

func runConfigureAdd(cmd *cobra.Command, args []string) error {
	name := args[0]
	configPath := getConfigPath()
	out := stdout(cmd)

	cfg, err := clientcli.LoadConfigFile(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = &clientcli.ConfigFile{}
	}

	existing, _ := cfg.GetProfile(name)
	if existing != nil {
		prompt := promptui.Prompt{
			Label:     fmt.Sprintf("Profile '%s' already exists. Update it", name),
			IsConfirm: true,
		}
		if _, promptErr := prompt.Run(); promptErr != nil {
			_, _ = fmt.Fprintln(out, "Cancelled.")
			return nil //nolint:nilerr // User cancelled, not an error
		}
	}

	endpointPrompt := promptui.Prompt{
		Label:    "Endpoint URL",
		Default:  clientcli.DefaultEndpoint,
		Validate: validateEndpoint,
	}
	endpointURL, err := endpointPrompt.Run()
	if err != nil {
		return handlePromptError(cmd, err)
	}

	usernamePrompt := promptui.Prompt{Label: "Username"}
	usernameVal, err := usernamePrompt.Run()
	if err != nil {
		return handlePromptError(cmd, err)
	}

	passwordPrompt := promptui.Prompt{Label: "Password", Mask: '*'}
	passwordVal, err := passwordPrompt.Run()
	if err != nil {
		return handlePromptError(cmd, err)
	}

	secretPrompt := promptui.Prompt{Label: "Capability secret (optional)", Mask: '*'}
	secretVal, err := secretPrompt.Run()
	if err != nil {
		return handlePromptError(cmd, err)
	}

	setAsDefault := len(cfg.Profiles) == 0
	if !setAsDefault {
		defaultPrompt := promptui.Prompt{
			Label:     "Set as default profile",
			IsConfirm: true,
		}
		if _, promptErr := defaultPrompt.Run(); promptErr == nil {
			setAsDefault = true
		}
	}

	profile := clientcli.Profile{
		Name:     name,
		Endpoint: strings.TrimSuffix(endpointURL, "/"),
		Username: usernameVal,
		Password: passwordVal,
		Secret:   secretVal,
		Default:  setAsDefault,
	}

	_, _ = fmt.Fprint(out, "Testing connection... ")
	if connErr := testServerConnection(cmd.Context(), &profile); connErr != nil {
		_, _ = fmt.Fprintln(out, "FAILED")
		_, _ = fmt.Fprintf(out, "Warning: %v\n", connErr)

		continuePrompt := promptui.Prompt{
			Label:     "Save profile anyway",
			IsConfirm: true,
		}
		if _, promptErr := continuePrompt.Run(); promptErr != nil {
			_, _ = fmt.Fprintln(out, "Cancelled.")
			return nil //nolint:nilerr // User cancelled, not an error
		}
	} else {
		_, _ = fmt.Fprintln(out, "OK")
	}

	if setAsDefault {
		for i := range cfg.Profiles {
			cfg.Profiles[i].Default = false
		}
	}

	if existing != nil {
		err = cfg.UpdateProfile(profile)
	} else {
		err = cfg.AddProfile(profile)
	}
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if existing != nil {
		_, _ = fmt.Fprintf(out, "Profile '%s' updated.\n", name)
	} else {
		_, _ = fmt.Fprintf(out, "Profile '%s' added.\n", name)
	}
	if setAsDefault {
		_, _ = fmt.Fprintln(out, "Set as default profile.")
	}

	return nil
}

func runConfigureRemove(cmd *cobra.Command, args []string) error {
	name := args[0]
	configPath := getConfigPath()

	cfg, err := clientcli.LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, err = cfg.GetProfile(name); err != nil {
		return err
	}

	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("Remove profile '%s'", name),
		IsConfirm: true,
	}
	if _, promptErr := prompt.Run(); promptErr != nil {
		_, _ = fmt.Fprintln(stdout(cmd), "Cancelled.")
		return nil //nolint:nilerr // User cancelled, not an error
	}

	if err := cfg.RemoveProfile(name); err != nil {
		return fmt.Errorf("remove profile: %w", err)
	}
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	_, _ = fmt.Fprintf(stdout(cmd), "Profile '%s' removed.\n", name)
	return nil
}

func runConfigureSetDefault(cmd *cobra.Command, args []string) error {
	name := args[0]
	configPath := getConfigPath()

	cfg, err := clientcli.LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.SetDefault(name); err != nil {
		return err
	}
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	_, _ = fmt.Fprintf(stdout(cmd), "Default profile set to '%s'.\n", name)
	return nil
}

func runConfigureShow(cmd *cobra.Command, args []string) error {
	cfg, err := clientcli.LoadConfigFile(getConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	p, err := cfg.GetProfile(name)
	if err != nil {
		return err
	}

	// an empty name resolved to the default profile
	isDefault := p.Default || name == ""

	return getFormatter().FormatProfileShow(stdout(cmd), *p, isDefault, showSecrets)
}

// testServerConnection lists the drive root with the profile's credential.
func testServerConnection(ctx context.Context, p *clientcli.Profile) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := clientcli.New(clientcli.ConfigFromProfile(p), clientcli.WithTimeout(5*time.Second))
	if err != nil {
		return err
	}

	if _, err := client.List(ctx, clientcli.ListOptions{}); err != nil {
		if errors.Is(err, clientcli.ErrUnauthorized) {
			return errors.New("server rejected the credential")
		}
		return fmt.Errorf("could not reach server: %w", err)
	}
	return nil
}

func handlePromptError(cmd *cobra.Command, err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) {
		_, _ = fmt.Fprintln(stdout(cmd), "Cancelled.")
		return nil
	}
	return err
}
