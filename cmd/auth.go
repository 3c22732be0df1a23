package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/copilot-gateway/internal/copilot"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the GitHub Copilot authorization",
	Long:  `Authorize the gateway with a GitHub account that has Copilot access.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize with the GitHub device flow",
	Long:  `Request a device code, wait for it to be approved on github.com and store the resulting credential.`,
	RunE:  runAuthLogin,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored authorization",
	RunE:  runAuthStatus,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored authorization",
	RunE:  runAuthLogout,
}

func init() {
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
}

func runAuthLogin(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	manager := newCopilotManager(cfg)

	device, err := manager.BeginDeviceAuthorization(ctx)
	if err != nil {
		return err
	}

	color.Blue("To authorize %s:", AppName)
	fmt.Printf("  1. Open %s\n", color.CyanString(device.VerificationURI))
	fmt.Printf("  2. Enter the code %s\n\n", color.New(color.Bold).Sprint(device.UserCode))

	interval := time.Duration(device.Interval) * time.Second
	if interval <= 0 {
		interval = copilot.PollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	color.Yellow("Waiting for approval...")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		result, err := manager.PollForToken(ctx, device.DeviceCode)
		if err != nil {
			return err
		}

		switch result.Status {
		case copilot.PollPending:
			continue
		case copilot.PollFailed:
			if result.Description != "" {
				return fmt.Errorf("authorization failed: %s (%s)", result.Error, result.Description)
			}

			return fmt.Errorf("authorization failed: %s", result.Error)
		case copilot.PollGranted:
			cred, err := manager.CompleteAuthorization(ctx, result.Token.AccessToken)
			if err != nil {
				return err
			}

			color.Green("Authorized as %s", cred.Account.Login)

			return nil
		}
	}
}

func runAuthStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	status, err := newCopilotManager(cfg).Status(cmd.Context())
	if err != nil {
		return err
	}

	if !status.Authorized {
		color.Yellow("Not authorized. Run 'cgw auth login' to connect an account.")
		return nil
	}

	color.Green("Authorized")
	fmt.Printf("  %-15s: %s\n", "Login", status.User.Login)

	if status.User.Name != "" {
		fmt.Printf("  %-15s: %s\n", "Name", status.User.Name)
	}

	if status.ExpiresAt > 0 {
		fmt.Printf("  %-15s: %s\n", "Session Expiry", time.Unix(status.ExpiresAt, 0).Format(time.RFC3339))
	}

	fmt.Printf("  %-15s: %s\n", "Store", cfg.Credentials.Store)

	return nil
}

func runAuthLogout(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := newCopilotManager(cfg).Logout(cmd.Context()); err != nil {
		return err
	}

	color.Green("Logged out")

	return nil
}
