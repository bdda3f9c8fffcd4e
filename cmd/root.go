// Package cmd implements the csw command line interface.
package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/claudeswitch/claudeswitch/internal/config"
)

const (
	AppName = "claudeswitch"
	Version = "0.1.0"
)

var (
	logger  *slog.Logger
	baseDir string
	cfgMgr  *config.Manager
)

func init() {
	logger = newLogger(slog.LevelInfo)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.Error("failed to get home directory", "error", err)
		os.Exit(1)
	}

	baseDir = filepath.Join(homeDir, "."+AppName)
	cfgMgr = config.NewManager(baseDir)
}

var rootCmd = &cobra.Command{
	Use:     "csw",
	Short:   "claudeswitch - chat completion protocol proxy",
	Long:    `A local proxy that intercepts Anthropic-protocol chat requests, translates them to any configured backend, and streams the answers back in the original protocol.`,
	Version: Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = newLogger(level)
	slog.SetDefault(logger)
}

func ensureConfigExists() error {
	if !cfgMgr.Exists() {
		color.Yellow("Configuration not found.")
		color.Cyan("Run 'csw config init' to set up your providers.")
		return os.ErrNotExist
	}
	return nil
}
