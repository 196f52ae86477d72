package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meltlab/meltsim/internal/sim"
	"github.com/meltlab/meltsim/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Seed     int64
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Seed the database and generate operations continuously",
		Long: `Seed a demo timeline around the current time, then advance it in
real time: activating and completing operations, emitting event
sequences and warnings, and planning new heats.

Example:
  meltsim run --db ./meltsim.db
  meltsim run --db /tmp/demo.db --seed 42 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulator(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed; 0 derives one from the clock")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSimulator(opts *RunOptions, cmd *cobra.Command) error {
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

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Simulator started. Press Ctrl-C to stop.")
	if err := simulator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "simulator error", err)
	}
	slog.Info("simulator stopped")
	return nil
}

// buildSimulator loads config and graphs, opens the database, and
// constructs the simulator. Shared by run and seed.
func buildSimulator(rootOpts *RootOptions, dbPath string, seed int64) (*sim.Simulator, *store.Store, error) {
	cfg, graphs, err := loadInputs(rootOpts)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("opening database", "path", dbPath)
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	var simOpts []sim.Option
	if seed != 0 {
		slog.Info("using fixed random seed", "seed", seed)
		simOpts = append(simOpts, sim.WithRNG(rand.New(rand.NewSource(seed))))
	} else {
		simOpts = append(simOpts, sim.WithRNG(rand.New(rand.NewSource(time.Now().UnixNano()))))
	}

	return sim.New(cfg, graphs, st, simOpts...), st, nil
}
