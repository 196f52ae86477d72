package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/meltlab/meltsim/internal/config"
	"github.com/meltlab/meltsim/internal/sequence"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Database string
	Seed     int64
}

// NewSeedCommand creates the seed command: populate the demo timeline
// once and exit, without starting the tick loop.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed a demo timeline into the database and exit",
		Long: `Populate the database with a demo timeline around the current time:
completed heats with full event sequences and warnings, active heats
with partial sequences, and pending heats in the future.

Example:
  meltsim seed --db ./meltsim.db --seed 42`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return seedOnce(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed; 0 derives one from the clock")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func seedOnce(opts *SeedOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	simulator, st, err := buildSimulator(opts.RootOptions, opts.Database, opts.Seed)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	if err := simulator.Seed(time.Now()); err != nil {
		return WrapExitError(ExitFailure, "seeding failed", err)
	}

	ops, events, warnings, err := st.Counts()
	if err != nil {
		return WrapExitError(ExitFailure, "reading back counts failed", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d heats: %d operations, %d events, %d warnings.\n",
		simulator.Registry().Len(), ops, events, warnings)
	return nil
}

// loadInputs loads and validates the config and graph definitions.
func loadInputs(rootOpts *RootOptions) (*config.Config, sequence.GraphSet, error) {
	cfg, err := config.Load(rootOpts.Config)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	graphs, err := sequence.LoadGraphs(rootOpts.Graphs)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid sequence graphs", err)
	}
	// Every configured stage needs a sequence graph before anything runs.
	for _, stage := range cfg.Stages {
		if _, ok := graphs[stage.Name]; !ok {
			return nil, nil, WrapExitError(ExitCommandError,
				fmt.Sprintf("no sequence graph for stage %s", stage.Name), nil)
		}
	}
	return cfg, graphs, nil
}
