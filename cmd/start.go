package cmd

import (
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/claudeswitch/claudeswitch/internal/process"
	"github.com/claudeswitch/claudeswitch/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy service",
	Long:  `Start the proxy service in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	// Provider API keys commonly live in a .env next to the config.
	godotenv.Load()

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"providers", len(cfg.Providers),
	)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv := server.New(cfgMgr, logger)
	return srv.Start()
}
