package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/claudeswitch/claudeswitch/internal/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the proxy service",
	Long:  `Stop the running proxy service.`,
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, _ []string) error {
	color.Yellow("Stopping %s...", AppName)

	procMgr := process.NewManager(baseDir)

	if !procMgr.IsRunning() {
		color.Yellow("Service is not running")
		return nil
	}

	if err := procMgr.Stop(); err != nil {
		return err
	}

	procMgr.CleanupRef()

	color.Green("Service stopped successfully")
	return nil
}
