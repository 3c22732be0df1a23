package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/copilot-gateway/internal/process"
	"github.com/mihaisavezi/copilot-gateway/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long:  `Start the Copilot gateway in the foreground. It stops on SIGINT or SIGTERM.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	warnIfUnconfigured()

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting gateway",
		"host", cfg.Host,
		"port", cfg.Port,
		"access_tokens", len(cfg.AccessTokens),
		"credential_store", cfg.Credentials.Store,
	)

	procMgr := process.NewManager(baseDir, logger)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := newCopilotManager(cfg)
	client := newCopilotClient(cfg, manager)

	if status, err := manager.Status(ctx); err == nil && !status.Authorized {
		color.Yellow("Not authorized with GitHub yet. Run 'cgw auth login' to connect an account.")
	}

	srv := server.New(cfgMgr, manager, client, logger)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	color.Yellow("Gateway stopped")

	return nil
}
