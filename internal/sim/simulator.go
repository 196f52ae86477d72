// Package sim is the orchestration layer: it owns the tick loop, the
// shared world state, and the startup seeding, and delegates all
// decisions to the planner, processor, sequence and warning engines.
package sim

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/meltlab/meltsim/internal/alarm"
	"github.com/meltlab/meltsim/internal/config"
	"github.com/meltlab/meltsim/internal/domain"
	"github.com/meltlab/meltsim/internal/planner"
	"github.com/meltlab/meltsim/internal/processor"
	"github.com/meltlab/meltsim/internal/scheduler"
	"github.com/meltlab/meltsim/internal/sequence"
)

// Simulator wires the components together and drives them one tick at
// a time. All state is mutated on the goroutine calling Tick or Run;
// two ticks never overlap.
type Simulator struct {
	cfg    *config.Config
	graphs sequence.GraphSet
	sink   domain.Sink

	clock Clock
	rng   *rand.Rand
	ids   domain.IDGenerator
	log   *slog.Logger

	reg    *domain.Registry
	book   *scheduler.Book
	seq    *sequence.Engine
	plan   *planner.Planner
	proc   *processor.Processor
	alarms *alarm.Engine

	// Heat numbers are YYMM##### with a running sequence per month.
	// Keyed by month so seeding lines that re-enter an earlier month
	// continue its sequence instead of reissuing numbers.
	heatSeq map[int64]int
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(s *Simulator) { s.clock = c }
}

// WithRNG replaces the random stream. Seeded sources make whole runs
// reproducible.
func WithRNG(rng *rand.Rand) Option {
	return func(s *Simulator) { s.rng = rng }
}

// WithIDGenerator replaces the record id generator, for tests.
func WithIDGenerator(ids domain.IDGenerator) Option {
	return func(s *Simulator) { s.ids = ids }
}

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Simulator) { s.log = log }
}

// New creates a simulator over a validated config and graph set.
func New(cfg *config.Config, graphs sequence.GraphSet, sink domain.Sink, opts ...Option) *Simulator {
	s := &Simulator{
		cfg:     cfg,
		graphs:  graphs,
		sink:    sink,
		clock:   SystemClock{},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		ids:     domain.UUIDv7Generator{},
		log:     slog.Default(),
		heatSeq: make(map[int64]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.reg = domain.NewRegistry()
	s.book = scheduler.NewBook()
	s.seq = sequence.NewEngine(cfg, s.ids)
	s.plan = planner.New(cfg, s.book, s.ids)
	s.proc = processor.New(cfg, graphs, s.seq, s.reg, s.book, sink, s.log)
	s.alarms = alarm.NewEngine(cfg, s.ids, s.log)
	return s
}

// Registry exposes the world state for inspection.
func (s *Simulator) Registry() *domain.Registry {
	return s.reg
}

// Book exposes the device interval book for inspection.
func (s *Simulator) Book() *scheduler.Book {
	return s.book
}

// monthKey returns the YYMM bucket a time falls into.
func monthKey(at time.Time) int64 {
	return int64(at.Year()%100)*100 + int64(at.Month())
}

// nextHeatNo advances the heat sequence of the month at falls into.
func (s *Simulator) nextHeatNo(at time.Time) int64 {
	month := monthKey(at)
	s.heatSeq[month]++
	return planner.HeatNumber(at, s.heatSeq[month])
}

// Tick runs one simulation step: real-time warnings first, then the
// operation state machine, then an opportunistic new heat. The fixed
// order means every decision sees the bookings of the previous ones.
func (s *Simulator) Tick(now time.Time) error {
	s.log.Debug("tick", "now", now)

	if err := s.tickWarnings(now); err != nil {
		return err
	}
	if err := s.proc.Tick(now, s.rng); err != nil {
		return err
	}
	s.forgetFinished()

	if s.rng.Float64() < s.cfg.NewHeatProbability {
		s.tryNewHeat(now)
	}
	return nil
}

// tickWarnings gives each active operation a chance to raise one
// equipment warning.
func (s *Simulator) tickWarnings(now time.Time) error {
	for _, op := range s.reg.OperationsWithStatus(domain.StatusActive) {
		stage := s.cfg.StageByProc(op.ProcCode)
		if stage == nil {
			continue
		}
		rec, ok := s.alarms.MaybeWarn(op, stage.Name, now, s.rng)
		if !ok {
			continue
		}
		if err := s.sink.AppendWarning(rec); err != nil {
			return err
		}
	}
	return nil
}

// forgetFinished drops warning tracking for terminal operations.
func (s *Simulator) forgetFinished() {
	for _, op := range s.reg.OperationsWithStatus(domain.StatusCompleted) {
		s.alarms.Forget(op.ID)
	}
	for _, op := range s.reg.OperationsWithStatus(domain.StatusCanceled) {
		s.alarms.Forget(op.ID)
	}
}

// tryNewHeat plans a fresh heat starting no earlier than now. Failure
// to find slots is not an error; the next tick tries again.
func (s *Simulator) tryNewHeat(now time.Time) {
	heatNo := s.nextHeatNo(now)
	heat, err := s.plan.PlanHeat(heatNo, now, s.rng)
	if err != nil {
		s.heatSeq[monthKey(now)]--
		s.log.Debug("heat deferred", "reason", err)
		return
	}

	s.reg.AddHeat(heat)
	for _, op := range heat.Operations {
		if err := s.sink.SaveOperation(op); err != nil {
			s.log.Error("persist operation failed", "heat", heatNo, "proc", op.ProcCode, "error", err)
		}
	}
	s.log.Info("heat created",
		"heat", heatNo,
		"grade", heat.Grade,
		"crew", heat.Crew,
		"stages", len(heat.Operations))
}

// Run seeds the timeline and then ticks until the context is canceled.
// Per-tick errors are logged and the loop continues; only context
// cancellation stops the run.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.Seed(s.clock.Now()); err != nil {
		return err
	}

	s.log.Info("simulation starting", "interval", s.cfg.TickInterval)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("simulation stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(s.clock.Now()); err != nil {
				s.log.Error("tick failed", "error", err)
			}
		}
	}
}
