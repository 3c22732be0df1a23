package cmd

import (
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/copilot-gateway/internal/process"
)

var codeCmd = &cobra.Command{
	Use:   "code [args...]",
	Short: "Run Claude Code against the gateway",
	Long:  `Start the gateway if needed and run Claude Code with the gateway as its Anthropic endpoint.`,
	Args:  cobra.ArbitraryArgs,
	RunE:  runCode,
}

func runCode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	procMgr := process.NewManager(baseDir, logger)

	startedByUs, err := procMgr.StartServiceIfNeeded(cmd.Context(), gatewayURL(cfg)+"/health")
	if err != nil {
		return err
	}

	env := filterEnv(os.Environ(), "ANTHROPIC_AUTH_TOKEN", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL")

	token := "proxy"
	if len(cfg.AccessTokens) > 0 {
		token = cfg.AccessTokens[0]
	}

	env = append(env,
		"ANTHROPIC_AUTH_TOKEN="+token,
		"ANTHROPIC_BASE_URL="+gatewayURL(cfg),
		"API_TIMEOUT_MS=600000",
	)

	procMgr.IncrementRef()
	defer func() {
		if procMgr.DecrementRef() == 0 && startedByUs {
			color.Yellow("No more active sessions, stopping auto-started gateway...")

			if _, err := procMgr.StopService(); err != nil {
				logger.Warn("Failed to stop gateway", "error", err)
			}
		}
	}()

	claudeCmd := exec.CommandContext(cmd.Context(), "claude", args...)
	claudeCmd.Env = env
	claudeCmd.Stdin = os.Stdin
	claudeCmd.Stdout = os.Stdout
	claudeCmd.Stderr = os.Stderr

	return claudeCmd.Run()
}

func filterEnv(env []string, keys ...string) []string {
	filtered := make([]string, 0, len(env))

	for _, e := range env {
		name, _, _ := strings.Cut(e, "=")
		if !slices.Contains(keys, name) {
			filtered = append(filtered, e)
		}
	}

	return filtered
}

