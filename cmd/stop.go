package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/copilot-gateway/internal/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the gateway",
	Long:  `Stop the running Copilot gateway and detach any 'cgw code' sessions still registered with it.`,
	RunE:  runStop,
}

func runStop(_ *cobra.Command, _ []string) error {
	procMgr := process.NewManager(baseDir, logger)

	if refs := procMgr.ReadRef(); refs > 0 {
		color.Yellow("Detaching %d active session(s)", refs)
	}

	running, err := procMgr.StopService()
	if err != nil {
		return err
	}

	if !running {
		color.Yellow("%s is not running", AppName)
		return nil
	}

	color.Green("%s stopped", AppName)

	return nil
}
