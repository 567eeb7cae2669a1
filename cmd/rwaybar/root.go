// Package main provides the CLI entrypoint for rwaybar.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvdsk/rwaybar/internal/config"
	"github.com/dvdsk/rwaybar/internal/theme"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Global configuration and state
var (
	cfg        *config.Config
	globalOpts struct {
		configPath string
		logLevel   string
	}
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rwaybar",
	Short: "Wayland status bar",
	Long: `rwaybar is a status bar for Wayland compositors that support the
layer-shell protocol.

It renders a persistent strip of widgets (clock, volume, command output,
D-Bus properties) on every configured output, repainting only when a
value actually changes and only when the compositor is ready for a frame.

Running rwaybar without a subcommand starts the bar.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(globalOpts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		setupLogger()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBar()
	},
	SilenceUsage: true,
}

// checkCmd validates the configuration and exits.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, err := cfg.Resolve()
		if err != nil {
			return err
		}
		fmt.Printf("configuration ok: %d modules, %d bars\n",
			len(resolved.Modules), len(resolved.Bars))
		return nil
	},
}

// themesCmd lists the bundled color palettes.
var themesCmd = &cobra.Command{
	Use:   "themes",
	Short: "List bundled color palettes",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range theme.ListEmbedded() {
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalOpts.configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&globalOpts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(themesCmd)
}

// setupLogger configures structured logging to stderr. The --log-level
// flag wins over the config file.
func setupLogger() {
	levelName := cfg.Log.Level
	if globalOpts.logLevel != "" {
		levelName = globalOpts.logLevel
	}
	level := slog.LevelInfo
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
