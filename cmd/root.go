package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/copilot-gateway/internal/config"
	"github.com/mihaisavezi/copilot-gateway/internal/copilot"
	"github.com/mihaisavezi/copilot-gateway/internal/credential"
	"github.com/mihaisavezi/copilot-gateway/internal/observability"
)

const (
	AppName = "copilot-gateway"
	Version = "0.3.0"
)

var (
	logger  *slog.Logger
	homeDir string
	baseDir string
	cfgMgr  *config.Manager
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var err error

	homeDir, err = os.UserHomeDir()
	if err != nil {
		logger.Error("Failed to get home directory", "error", err)
		os.Exit(1)
	}

	baseDir = filepath.Join(homeDir, "."+AppName)
	cfgMgr = config.NewManager(baseDir)
}

var rootCmd = &cobra.Command{
	Use:   "cgw",
	Short: "Copilot Gateway - Claude and OpenAI compatible API backed by GitHub Copilot",
	Long: `A local gateway that exposes GitHub Copilot chat models behind an OpenAI compatible
and an Anthropic Claude compatible HTTP API.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return loadEnvFile()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(codeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(modelsCmd)
}

// loadEnvFile reads a .env in the working directory. A missing file is fine.
func loadEnvFile() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

// loadConfig reads the configuration and installs the logger it describes.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}

	logger, err = observability.Instrument(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func newCredentialStore(cfg *config.Config) credential.Store {
	if cfg.Credentials.Store == config.CredentialStoreKeyring {
		return credential.NewKeyringStore("", "")
	}

	return credential.NewFileStore(cfgMgr.CredentialPath(cfg))
}

func newCopilotManager(cfg *config.Config) *copilot.Manager {
	return copilot.NewManager(newCredentialStore(cfg), copilot.Options{
		Endpoints: copilot.Endpoints{
			GitHubURL:     cfg.Upstream.GitHubURL,
			GitHubAPIURL:  cfg.Upstream.GitHubAPIURL,
			CopilotAPIURL: cfg.Upstream.CopilotAPIURL,
		},
		CatalogTTL: cfg.Catalog.TTL,
		Logger:     logger,
	})
}

func newCopilotClient(cfg *config.Config, manager *copilot.Manager) *copilot.Client {
	return copilot.NewClient(manager, copilot.ClientOptions{
		BaseURL: cfg.Upstream.CopilotAPIURL,
		Timeout: cfg.Upstream.Timeout,
		Logger:  logger,
	})
}

func gatewayURL(cfg *config.Config) string {
	return "http://" + cfg.Address()
}

func warnIfUnconfigured() {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration file found, using defaults. Run 'cgw config init' to create one.")
	}
}
