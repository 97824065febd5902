// Package commands implements the aemet command line client.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/yegors/aemet-connector/internal/config"
	"github.com/yegors/aemet-connector/pkg/logger"
)

const cmdName = "aemet"

// Version is injected at build time
var Version = "dev"

// App represents the command line application.
type App struct {
	cmd  *cobra.Command
	opts options
}

// options holds the flag values shared by the subcommands.
type options struct {
	ConfigPath   string
	Verbosity    int
	APIKey       string
	Municipality string
	Format       string
	BaseURL      string
	Record       bool
}

// New creates a new App with its subcommands installed.
func New() *App {
	a := &App{}

	a.cmd = &cobra.Command{
		Use:           cmdName,
		Short:         "Fetch AEMET open-data tables",
		Long:          "Fetch the AEMET station inventory, municipal forecasts and conventional observations as flat tables.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			return nil
		},
	}
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	a.cmd.PersistentFlags().StringVar(&a.opts.ConfigPath, "config", "", "path to a TOML configuration file")
	a.cmd.PersistentFlags().CountVarP(&a.opts.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	if err := a.cmd.MarkPersistentFlagFilename("config", "toml"); err != nil {
		// This should never happen.
		panic(fmt.Sprintf("failed to mark config flag as filename: %v", err))
	}

	a.installFetch()
	a.installSchema()
	a.installVersion()

	return a
}

// Run executes the command line, cancelling on interrupt.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return a.cmd.ExecuteContext(ctx)
}

// UsageError returns if the error is a command parsing or runtime one.
func (a *App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// RootCmd returns the root command.
func (a *App) RootCmd() *cobra.Command {
	return a.cmd
}

func (a *App) installVersion() {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Returns the version of " + cmdName + " and exits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", cmdName, Version)
			return err
		},
	}
	a.cmd.AddCommand(cmd)
}

// loadConfig reads the optional configuration file and applies the
// environment and flag overrides. Unlike the server, a file is not required.
func (a *App) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if a.opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(a.opts.ConfigPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if a.opts.BaseURL != "" {
		cfg.AEMET.BaseURL = a.opts.BaseURL
	}
	// The CLI runs one request; background refresh never applies
	cfg.Refresh.Enabled = false
	if !a.opts.Record {
		cfg.Storage.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (a *App) newLogger() (*logger.Logger, error) {
	level := "warn"
	switch {
	case a.opts.Verbosity == 1:
		level = "info"
	case a.opts.Verbosity >= 2:
		level = "debug"
	}
	return logger.New(logger.Config{Level: level, Format: "console"})
}
