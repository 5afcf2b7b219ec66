// Package cli implements the nightscout-autotune command tree
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mrcode/nightscout-autotune/internal/app"
	"github.com/mrcode/nightscout-autotune/internal/models"
)

// rootState is shared by every subcommand
type rootState struct {
	configPath string
	verbose    bool

	logger   *zap.Logger
	settings *models.Settings
}

// buildLogger is replaced in tests
var buildLogger = func(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	state := &rootState{}

	root := &cobra.Command{
		Use:   "nightscout-autotune",
		Short: "Tune Nightscout profiles with oref0-autotune",
		Long: `nightscout-autotune loads your Nightscout profile and recent history,
runs oref0-autotune over it and shows or applies the recommended basal rates,
carb ratio and insulin sensitivity.

Quick Start:
  nightscout-autotune init --url https://...    # Write a settings file
  nightscout-autotune status                    # Check the connection
  nightscout-autotune tune --days 7             # Show recommendations
  nightscout-autotune tune --days 7 --apply     # Write them back to Nightscout
  nightscout-autotune backups list              # Profiles saved before each write`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(state.verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			state.logger = logger

			settings, err := models.LoadSettings(state.configPath)
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}
			state.settings = settings
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.logger != nil {
				_ = state.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&state.configPath, "config", "", "settings file (default is settings.yaml in the user config dir)")
	root.PersistentFlags().BoolVarP(&state.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newStatusCmd(state),
		newProfileCmd(state),
		newHistoryCmd(state),
		newTuneCmd(state),
		newBackupsCmd(state),
		newNotifyCmd(state),
		newInitCmd(state),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command until it finishes or the process is interrupted
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// openApp wires the application from the loaded settings
func (s *rootState) openApp() (*app.App, error) {
	return app.New(s.settings, s.logger)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "nightscout-autotune", app.Version)
		},
	}
}
