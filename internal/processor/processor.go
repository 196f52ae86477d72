// Package processor drives operation lifecycles on each tick: it
// completes due operations, activates eligible pending ones, advances
// live event sequences, and applies cancellation cascades.
package processor

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/meltlab/meltsim/internal/config"
	"github.com/meltlab/meltsim/internal/domain"
	"github.com/meltlab/meltsim/internal/scheduler"
	"github.com/meltlab/meltsim/internal/sequence"
)

// Processor owns the runtime state machine of all operations. All
// methods run on the tick goroutine.
type Processor struct {
	cfg    *config.Config
	graphs sequence.GraphSet
	eng    *sequence.Engine
	reg    *domain.Registry
	book   *scheduler.Book
	sink   domain.Sink
	log    *slog.Logger

	// states holds the live generation state per ACTIVE operation id.
	states map[string]*sequence.State
}

// New creates a processor over the shared registry and interval book.
func New(cfg *config.Config, graphs sequence.GraphSet, eng *sequence.Engine, reg *domain.Registry, book *scheduler.Book, sink domain.Sink, log *slog.Logger) *Processor {
	return &Processor{
		cfg:    cfg,
		graphs: graphs,
		eng:    eng,
		reg:    reg,
		book:   book,
		sink:   sink,
		log:    log,
		states: make(map[string]*sequence.State),
	}
}

// AdoptState registers a generation state for an operation seeded
// mid-run, so ticking resumes its sequence instead of restarting it.
func (p *Processor) AdoptState(opID string, st *sequence.State) {
	p.states[opID] = st
}

// graphFor resolves the sequence graph of an operation's process code.
func (p *Processor) graphFor(procCode string) (*sequence.Graph, string, error) {
	stage := p.cfg.StageByProc(procCode)
	if stage == nil {
		return nil, "", fmt.Errorf("no stage for process code %s", procCode)
	}
	g, ok := p.graphs[stage.Name]
	if !ok {
		return nil, "", fmt.Errorf("no sequence graph for stage %s", stage.Name)
	}
	return &g, stage.Name, nil
}

// Tick runs one full pass: completions first so devices free up, then
// activations, then sequence advancement for everything still active.
func (p *Processor) Tick(now time.Time, rng *rand.Rand) error {
	if err := p.completeDue(now, rng); err != nil {
		return err
	}
	if err := p.activateEligible(now, rng); err != nil {
		return err
	}
	return p.advanceActive(now, rng)
}

// completeDue finishes every ACTIVE operation whose target duration has
// elapsed. Completion time is the exact due instant, not the tick time,
// so event times stay independent of tick granularity.
func (p *Processor) completeDue(now time.Time, rng *rand.Rand) error {
	for _, op := range p.reg.OperationsWithStatus(domain.StatusActive) {
		due := op.ActualStart.Add(op.TargetDuration)
		if op.TargetDuration <= 0 || due.After(now) {
			continue
		}

		g, stageName, err := p.graphFor(op.ProcCode)
		if err != nil {
			return err
		}
		st := p.states[op.ID]
		if st == nil {
			st = &sequence.State{Stage: stageName}
		}

		res, err := p.eng.FinalizeOnCompletion(op, st, g, due, rng)
		if err != nil {
			return fmt.Errorf("finalize %s: %w", op.ID, err)
		}
		if err := p.sink.AppendEvents(res.Events); err != nil {
			return fmt.Errorf("persist events for %s: %w", op.ID, err)
		}

		op.Status = domain.StatusCompleted
		op.ActualEnd = due
		p.reg.MarkDone(op)
		p.book.Retime(op.ID, due)
		delete(p.states, op.ID)

		if err := p.sink.SaveOperation(op); err != nil {
			return fmt.Errorf("persist operation %s: %w", op.ID, err)
		}
		p.log.Info("operation completed",
			"heat", op.HeatNo,
			"proc", op.ProcCode,
			"device", op.DeviceNo,
			"duration", op.TargetDuration)
	}
	return nil
}

// eligible reports whether a pending operation may activate now.
func (p *Processor) eligible(op *domain.Operation, now time.Time) bool {
	if now.Before(op.PlanStart) {
		return false
	}
	if !p.reg.DeviceFree(op.DeviceNo) {
		return false
	}
	pred := p.reg.Predecessor(op)
	if pred == nil {
		return op.StageIdx == 0
	}
	if pred.Status != domain.StatusCompleted {
		return false
	}
	// Transfer from the previous stage takes at least the minimum gap.
	return !now.Before(pred.ActualEnd.Add(p.cfg.MinTransferGap))
}

// activateEligible starts every pending operation whose gates pass:
// planned start reached, device free, predecessor completed and the
// transfer gap elapsed. Activation draws the target duration and emits
// the sequence prologue.
func (p *Processor) activateEligible(now time.Time, rng *rand.Rand) error {
	for _, op := range p.reg.OperationsWithStatus(domain.StatusPending) {
		if !p.eligible(op, now) {
			continue
		}

		g, stageName, err := p.graphFor(op.ProcCode)
		if err != nil {
			return err
		}

		op.Status = domain.StatusActive
		op.ActualStart = now
		op.TargetDuration = p.cfg.MinOperationDuration +
			time.Duration(rng.Int63n(int64(p.cfg.MaxOperationDuration-p.cfg.MinOperationDuration)+1))
		p.reg.MarkActive(op)

		res, err := p.eng.Activate(op, stageName, g, now, rng)
		if err != nil {
			return fmt.Errorf("activate %s: %w", op.ID, err)
		}
		p.states[op.ID] = res.State

		if err := p.sink.SaveOperation(op); err != nil {
			return fmt.Errorf("persist operation %s: %w", op.ID, err)
		}
		if err := p.sink.AppendEvents(res.Events); err != nil {
			return fmt.Errorf("persist events for %s: %w", op.ID, err)
		}
		p.log.Info("operation activated",
			"heat", op.HeatNo,
			"proc", op.ProcCode,
			"device", op.DeviceNo,
			"target", op.TargetDuration)
	}
	return nil
}

// advanceActive gives every live sequence one sampling step and applies
// cancellations the step produces.
func (p *Processor) advanceActive(now time.Time, rng *rand.Rand) error {
	for _, op := range p.reg.OperationsWithStatus(domain.StatusActive) {
		st := p.states[op.ID]
		if st == nil || st.Terminal() {
			continue
		}
		g, _, err := p.graphFor(op.ProcCode)
		if err != nil {
			return err
		}

		res, err := p.eng.AdvanceOnTick(op, st, g, now, rng)
		if err != nil {
			return fmt.Errorf("advance %s: %w", op.ID, err)
		}
		if len(res.Events) > 0 {
			if err := p.sink.AppendEvents(res.Events); err != nil {
				return fmt.Errorf("persist events for %s: %w", op.ID, err)
			}
		}
		if res.Rework {
			op.Rework = true
			if err := p.sink.SaveOperation(op); err != nil {
				return fmt.Errorf("persist operation %s: %w", op.ID, err)
			}
			p.log.Warn("operation flagged for rework",
				"heat", op.HeatNo, "proc", op.ProcCode, "device", op.DeviceNo)
		}
		if res.Canceled {
			if err := p.CancelCascade(op, res.CancelTime); err != nil {
				return err
			}
		}
	}
	return nil
}

// CancelCascade cancels an operation and every later stage of its heat
// that has not started. Already completed stages keep their records;
// bookings of the canceled pending stages are released.
func (p *Processor) CancelCascade(op *domain.Operation, at time.Time) error {
	op.Status = domain.StatusCanceled
	op.ActualEnd = at
	p.reg.MarkDone(op)
	p.book.Retime(op.ID, at)
	delete(p.states, op.ID)
	if err := p.sink.SaveOperation(op); err != nil {
		return fmt.Errorf("persist operation %s: %w", op.ID, err)
	}
	p.log.Warn("operation canceled",
		"heat", op.HeatNo, "proc", op.ProcCode, "device", op.DeviceNo)

	for _, succ := range p.reg.Successors(op) {
		if succ.Started() || succ.Status.Terminal() {
			continue
		}
		succ.Status = domain.StatusCanceled
		p.reg.MarkDone(succ)
		p.book.Release(succ.ID)
		delete(p.states, succ.ID)
		if err := p.sink.SaveOperation(succ); err != nil {
			return fmt.Errorf("persist operation %s: %w", succ.ID, err)
		}
		p.log.Warn("downstream stage canceled",
			"heat", succ.HeatNo, "proc", succ.ProcCode, "device", succ.DeviceNo)
	}
	return nil
}
