package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/copilot-gateway/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the Copilot gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for the listen port, access tokens and credential store.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration, including environment overrides.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	color.Blue("Copilot Gateway Configuration Setup")
	color.Yellow("Press enter to keep the default shown in brackets.")

	reader := bufio.NewReader(os.Stdin)
	cfg := config.Default()

	port := prompt(reader, "Port", strconv.Itoa(cfg.Port))

	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", port, err)
	}

	cfg.Port = p

	tokens := prompt(reader, "Access tokens for remote clients (comma separated, optional)", "")
	for _, token := range strings.Split(tokens, ",") {
		if token = strings.TrimSpace(token); token != "" {
			cfg.AccessTokens = append(cfg.AccessTokens, token)
		}
	}

	cfg.Credentials.Store = prompt(reader, "Credential store (file, keyring)", cfg.Credentials.Store)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("Authorize with GitHub using: cgw auth login")
	color.Cyan("Then start the gateway with: cgw start")

	return nil
}

func prompt(reader *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}

	line, _ := reader.ReadString('\n')
	if line = strings.TrimSpace(line); line != "" {
		return line
	}

	return def
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	warnIfUnconfigured()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-18s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-18s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-18s: %d bytes\n", "Max Request Size", cfg.MaxRequestBytes)
	fmt.Printf("  %-18s: %s / %s\n", "Log", cfg.Log.Level, cfg.Log.Format)
	fmt.Printf("  %-18s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Println("\nAccess Tokens:")

	if len(cfg.AccessTokens) == 0 {
		fmt.Println("  (none, only loopback clients are accepted)")
	}

	for _, token := range cfg.AccessTokens {
		fmt.Printf("  - %s\n", maskString(token))
	}

	fmt.Println("\nCredentials:")
	fmt.Printf("  %-18s: %s\n", "Store", cfg.Credentials.Store)

	if cfg.Credentials.Store == config.CredentialStoreFile {
		fmt.Printf("  %-18s: %s\n", "Path", cfgMgr.CredentialPath(cfg))
	}

	fmt.Println("\nUpstream:")
	fmt.Printf("  %-18s: %s\n", "GitHub", cfg.Upstream.GitHubURL)
	fmt.Printf("  %-18s: %s\n", "GitHub API", cfg.Upstream.GitHubAPIURL)
	fmt.Printf("  %-18s: %s\n", "Copilot API", cfg.Upstream.CopilotAPIURL)
	fmt.Printf("  %-18s: %s\n", "Timeout", cfg.Upstream.Timeout)
	fmt.Printf("  %-18s: %s\n", "Catalog TTL", cfg.Catalog.TTL)

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		color.Red("Configuration validation failed:")

		errs := []error{err}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			errs = joined.Unwrap()
		}

		for _, e := range errs {
			fmt.Printf("  - %s\n", e)
		}

		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")

	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
