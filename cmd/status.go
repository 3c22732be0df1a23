package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/copilot-gateway/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long:  `Display whether the gateway is running and which GitHub account it uses.`,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	procMgr := process.NewManager(baseDir, logger)

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", procMgr.IsRunning())
	fmt.Printf("  %-15s: %d\n", "PID", procMgr.ReadPID())
	fmt.Printf("  %-15s: %s\n", "Endpoint", gatewayURL(cfg))
	fmt.Printf("  %-15s: %d\n", "Access Tokens", len(cfg.AccessTokens))
	fmt.Printf("  %-15s: %s\n", "Credentials", cfg.Credentials.Store)

	status, err := newCopilotManager(cfg).Status(cmd.Context())
	switch {
	case err != nil:
		fmt.Printf("  %-15s: %s\n", "Authorized", color.RedString("error: %v", err))
	case status.Authorized:
		fmt.Printf("  %-15s: %s\n", "Authorized", color.GreenString("yes"))
		fmt.Printf("  %-15s: %s\n", "GitHub User", status.User.Login)

		if status.ExpiresAt > 0 {
			fmt.Printf("  %-15s: %s\n", "Session Expiry", time.Unix(status.ExpiresAt, 0).Format(time.RFC3339))
		}
	default:
		fmt.Printf("  %-15s: %s\n", "Authorized", color.YellowString("no"))
	}

	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: %d\n", "References", procMgr.ReadRef())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)

	return nil
}
