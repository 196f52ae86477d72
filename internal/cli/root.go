// Package cli wires the meltsim commands: run the generator, seed a
// database once, validate configuration.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Config  string
	Graphs  string
}

// NewRootCommand creates the meltsim root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "meltsim",
		Short: "meltsim - synthetic steel-plant operations generator",
		Long: `meltsim generates internally consistent synthetic operations data
for a furnace -> refining -> casting route: heats, scheduled device
slots, ordered event sequences, and equipment warnings, written to a
SQLite database for demo and test environments.`,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to YAML config (defaults apply when omitted)")
	cmd.PersistentFlags().StringVar(&opts.Graphs, "graphs", "", "path to CUE sequence graph definitions (embedded defaults when omitted)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// setupLogging installs the default slog handler per the verbose flag.
func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
