// Package cli implements the jstpctl commands.
package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Zereker/jstp/internal/config"
	"github.com/Zereker/jstp/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath  string
	LogLevel    string
	MetricsAddr string
	Timeout     time.Duration

	// Config is loaded before any subcommand runs.
	Config config.Config
}

// NewRootCommand creates the root command for jstpctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jstpctl",
		Short: "jstpctl - JSTP client and test peer",
		Long: `A command line client for JavaScript Transfer Protocol peers.

It parses and prints jsrs records, calls remote methods, listens for
events and can run a local peer for testing. Sessions can be kept in
memory, Redis or SQLite and resumed by the next invocation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = opts.LogLevel
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Addr = opts.MetricsAddr
			}
			opts.Config = cfg
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (.toml, .yaml or .yml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error|off)")
	cmd.PersistentFlags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "how long to wait for the peer")

	// Add subcommands
	cmd.AddCommand(NewParseCommand(opts))
	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewPingCommand(opts))
	cmd.AddCommand(NewListenCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// logger creates the logger for a command. Logs go to stderr so that
// results on stdout stay machine readable.
func (o *RootOptions) logger(cmd *cobra.Command) *logging.Logger {
	return logging.New(cmd.ErrOrStderr(), o.Config.Log.Level, logging.Format(o.Config.Log.Format), o.Config.App.Name)
}
