// Package cli holds the argus-server command tree.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Argus/server/internal/config"
)

// RootOptions holds global flags and the state loaded before any
// subcommand runs.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	Config config.Config
	Logger *slog.Logger
}

// NewRootCommand creates the root command for the argus-server CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "argus-server",
		Short:         "Argus exam proctoring server",
		Long:          "Analyzes webcam frames from exam sessions, records violations and retains evidence.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			if opts.LogFormat != "" {
				cfg.LogFormat = opts.LogFormat
			}

			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			opts.Config = cfg
			opts.Logger = logger
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (toml, yaml or json); defaults to $ARGUS_CONFIG")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedDevCommand(opts))

	return cmd
}
