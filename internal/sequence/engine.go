package sequence

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/meltlab/meltsim/internal/config"
	"github.com/meltlab/meltsim/internal/domain"
)

// Engine generates event sequences. It holds only configuration and
// collaborators; all per-operation state lives in State, so the engine
// is a pure function of (graph, state, rng) and seeded runs reproduce
// byte-identical sequences.
type Engine struct {
	minEvents     int
	maxEvents     int
	maxRealtime   int
	tickProb      float64
	minSpacing    time.Duration
	cancelPerStep float64
	reworkPerStep float64

	ids  domain.IDGenerator
	msgs *MessageGenerator
}

// NewEngine creates an engine from the simulation config.
func NewEngine(cfg *config.Config, ids domain.IDGenerator) *Engine {
	return &Engine{
		minEvents:     cfg.MinEventsPerOperation,
		maxEvents:     cfg.MaxEventsPerOperation,
		maxRealtime:   cfg.MaxRealtimeEvents,
		tickProb:      cfg.EventProbabilityTick,
		minSpacing:    cfg.MinEventSpacing,
		cancelPerStep: cfg.CancelPerStep,
		reworkPerStep: cfg.ReworkPerStep,
		ids:           ids,
		msgs:          NewMessageGenerator(),
	}
}

// Result is the outcome of one generation call. Cancellation is returned
// as an explicit instruction: the engine never mutates operations or
// sibling stages itself; the caller applies the cascade atomically.
type Result struct {
	Events []domain.EventRecord

	// State continues an in-progress sequence (partial generation and
	// activation); nil for complete runs.
	State *State

	Canceled   bool
	CancelTime time.Time
	Rework     bool
	ReworkTime time.Time
}

// middleDraw is the outcome of sampling the middle region.
type middleDraw struct {
	codes     []string
	canceled  bool
	rework    bool
	cancelIdx int
	reworkIdx int

	// open/followUps remain only when flushing was suppressed.
	open      []string
	followUps []string
	emitted   int
}

// middleBudget draws the total middle-event allowance for one sequence.
// The stop policy is an explicit budget derived from the configured
// per-operation event bounds minus the mandatory prologue and epilogue.
func (e *Engine) middleBudget(g *Graph, rng *rand.Rand) int {
	// A graph without middle options generates prologue+epilogue only.
	if len(g.Middle) == 0 {
		return 0
	}
	lo := e.minEvents - g.fixedLen()
	hi := e.maxEvents - g.fixedLen()
	if hi < 0 {
		return 0
	}
	if lo < 0 {
		lo = 0
	}
	return lo + rng.Intn(hi-lo+1)
}

// drawMiddles samples middle codes until the budget is spent, honoring
// pairing, follow-up, and special-event rules.
//
// Obligations (owed trailing codes, pending follow-ups) count against
// the budget before a new obligation-creating code is accepted, so a
// mandatory flush can never run out of room. When flush is false the
// remaining obligations are returned for a continuation State instead
// of being emitted.
func (e *Engine) drawMiddles(g *Graph, budget int, flush bool, rng *rand.Rand) middleDraw {
	d := middleDraw{cancelIdx: -1, reworkIdx: -1}
	var open, followUps []string
	obligations := func() int { return len(open) + len(followUps) }

	attempts := 0
	maxAttempts := budget*4 + 8

	for d.emitted+obligations() < budget && attempts < maxAttempts {
		attempts++

		// Special-event check before each sampling step.
		if g.Cancel != "" && rng.Float64() < e.cancelPerStep {
			// Close owed pairs so pairing holds, then truncate: the
			// cancel code is always the final event.
			d.codes = append(d.codes, open...)
			open = nil
			d.cancelIdx = len(d.codes)
			d.codes = append(d.codes, g.Cancel)
			d.canceled = true
			return d
		}
		if g.Rework != "" && !d.rework && rng.Float64() < e.reworkPerStep {
			d.reworkIdx = len(d.codes)
			d.codes = append(d.codes, g.Rework)
			d.rework = true
			d.emitted++
			continue
		}

		if len(followUps) > 0 && rng.Float64() < 0.7 {
			code := followUps[0]
			followUps = followUps[1:]
			d.codes = append(d.codes, code)
			d.emitted++
			if dep, ok := g.followUpOf(code); ok {
				followUps = append(followUps, dep)
			}
			continue
		}

		w := g.Middle[rng.Intn(len(g.Middle))]
		if rng.Float64() > w.Weight {
			continue
		}
		trail, isLead := g.trailOf(w.Code)
		if isLead && len(open) >= 2 {
			continue
		}
		// Reserve budget room for the obligations this code creates.
		created := 0
		if isLead {
			created++
		}
		if _, ok := g.followUpOf(w.Code); ok {
			created++
		}
		if d.emitted+obligations()+created+1 > budget {
			continue
		}

		d.codes = append(d.codes, w.Code)
		d.emitted++
		if isLead {
			open = append(open, trail)
		}
		if dep, ok := g.followUpOf(w.Code); ok {
			followUps = append(followUps, dep)
		}

		if len(open) > 0 && rng.Float64() < 0.4 {
			d.codes = append(d.codes, open[0])
			open = open[1:]
			d.emitted++
		}
	}

	if !flush {
		d.open = open
		d.followUps = followUps
		return d
	}

	d.codes = append(d.codes, open...)
	d.emitted += len(open)
	for len(followUps) > 0 {
		code := followUps[0]
		followUps = followUps[1:]
		d.codes = append(d.codes, code)
		d.emitted++
		if dep, ok := g.followUpOf(code); ok {
			followUps = append(followUps, dep)
		}
	}
	return d
}

// GenerateFull produces a complete, valid sequence in one call. Used for
// historical (already completed) operations.
func (e *Engine) GenerateFull(op *domain.Operation, stage string, g *Graph, window domain.Interval, rng *rand.Rand) (Result, error) {
	if window.Duration() <= 0 {
		return Result{}, fmt.Errorf("operation %s: empty window", op.ID)
	}

	budget := e.middleBudget(g, rng)
	draw := e.drawMiddles(g, budget, true, rng)

	codes := make([]string, 0, len(g.Prologue)+len(draw.codes)+len(g.Epilogue))
	codes = append(codes, g.Prologue...)
	codes = append(codes, draw.codes...)
	if !draw.canceled {
		codes = append(codes, g.Epilogue...)
	}

	epiLen := len(g.Epilogue)
	if draw.canceled {
		epiLen = 0
	}
	times := assignTimes(window, len(g.Prologue), len(codes)-len(g.Prologue)-epiLen, epiLen, rng)

	events, err := e.buildRecords(op, stage, codes, times, rng)
	if err != nil {
		return Result{}, err
	}

	res := Result{Events: events}
	if draw.canceled {
		res.Canceled = true
		res.CancelTime = events[len(events)-1].TimeStart
	}
	if draw.rework {
		res.Rework = true
		res.ReworkTime = events[len(g.Prologue)+draw.reworkIdx].TimeStart
	}
	return res, nil
}

// GeneratePartial produces the in-progress prefix of a sequence for an
// operation seeded mid-run: the full prologue plus middle events in
// proportion to elapsedFraction, never the epilogue. The returned State
// lets AdvanceOnTick and FinalizeOnCompletion continue the sequence.
func (e *Engine) GeneratePartial(op *domain.Operation, stage string, g *Graph, now time.Time, elapsedFraction float64, rng *rand.Rand) (Result, error) {
	start := op.ActualStart
	if start.IsZero() || !now.After(start) {
		return Result{}, fmt.Errorf("operation %s: invalid partial window", op.ID)
	}
	if elapsedFraction < 0 {
		elapsedFraction = 0
	}
	if elapsedFraction > 1 {
		elapsedFraction = 1
	}

	budget := e.middleBudget(g, rng)
	target := int(math.Round(float64(budget) * elapsedFraction))
	if target > budget {
		target = budget
	}
	draw := e.drawMiddles(g, target, false, rng)

	codes := make([]string, 0, len(g.Prologue)+len(draw.codes))
	codes = append(codes, g.Prologue...)
	codes = append(codes, draw.codes...)

	window := domain.Interval{Start: start, End: now}
	times := assignPartialTimes(window, len(g.Prologue), len(codes)-len(g.Prologue), rng)

	events, err := e.buildRecords(op, stage, codes, times, rng)
	if err != nil {
		return Result{}, err
	}

	st := &State{
		Stage:            stage,
		Phase:            PhaseMiddle,
		PrologueIdx:      len(g.Prologue),
		MiddleBudget:     budget,
		MiddleCount:      draw.emitted,
		OpenPairs:        draw.open,
		PendingFollowUps: draw.followUps,
		Rework:           draw.rework,
		Ordinal:          len(events),
	}
	if len(events) > 0 {
		st.LastEmit = events[len(events)-1].TimeStart
	}

	res := Result{Events: events, State: st}
	if draw.canceled {
		st.Phase = PhaseCanceled
		res.Canceled = true
		res.CancelTime = events[len(events)-1].TimeStart
	}
	if draw.rework {
		res.Rework = true
		res.ReworkTime = events[len(g.Prologue)+draw.reworkIdx].TimeStart
	}
	return res, nil
}

// Activate starts a fresh sequence for a newly activated operation,
// emitting the full prologue at the activation instant.
func (e *Engine) Activate(op *domain.Operation, stage string, g *Graph, now time.Time, rng *rand.Rand) (Result, error) {
	st := &State{
		Stage:        stage,
		Phase:        PhaseMiddle,
		PrologueIdx:  len(g.Prologue),
		MiddleBudget: e.middleBudget(g, rng),
		LastEmit:     now,
	}
	times := make([]time.Time, len(g.Prologue))
	for i := range times {
		times[i] = now
	}
	events, err := e.buildRecords(op, stage, g.Prologue, times, rng)
	if err != nil {
		return Result{}, err
	}
	st.Ordinal = len(events)
	return Result{Events: events, State: st}, nil
}

// AdvanceOnTick emits at most one sampling step for an ACTIVE operation,
// bounded by the minimum inter-emission spacing and the realtime event
// cap. The state resumes exactly where the previous tick left off.
func (e *Engine) AdvanceOnTick(op *domain.Operation, st *State, g *Graph, now time.Time, rng *rand.Rand) (Result, error) {
	if st.Terminal() {
		return Result{State: st}, nil
	}
	if !st.LastEmit.IsZero() && now.Sub(st.LastEmit) < e.minSpacing {
		return Result{State: st}, nil
	}
	if st.Ordinal >= e.maxRealtime {
		return Result{State: st}, nil
	}
	if rng.Float64() >= e.tickProb {
		return Result{State: st}, nil
	}

	var codes []string
	canceled := false
	rework := false

	switch {
	case st.PrologueIdx < len(g.Prologue):
		codes = append(codes, g.Prologue[st.PrologueIdx])
		st.PrologueIdx++
		if st.PrologueIdx == len(g.Prologue) {
			st.Phase = PhaseMiddle
		}

	case g.Cancel != "" && rng.Float64() < e.cancelPerStep:
		// Close owed pairs, then truncate with the cancel code.
		codes = append(codes, st.OpenPairs...)
		st.OpenPairs = nil
		codes = append(codes, g.Cancel)
		canceled = true

	case g.Rework != "" && !st.Rework && rng.Float64() < e.reworkPerStep:
		codes = append(codes, g.Rework)
		st.Rework = true
		rework = true
		st.MiddleCount++

	case len(st.OpenPairs) > 0 && rng.Float64() < 0.4:
		codes = append(codes, st.OpenPairs[0])
		st.OpenPairs = st.OpenPairs[1:]
		st.MiddleCount++

	case len(st.PendingFollowUps) > 0 && rng.Float64() < 0.7:
		code := st.PendingFollowUps[0]
		st.PendingFollowUps = st.PendingFollowUps[1:]
		codes = append(codes, code)
		st.MiddleCount++
		if dep, ok := g.followUpOf(code); ok {
			st.PendingFollowUps = append(st.PendingFollowUps, dep)
		}

	default:
		if st.MiddleCount >= st.MiddleBudget {
			st.Phase = PhaseEpiloguePending
			return Result{State: st}, nil
		}
		w := g.Middle[rng.Intn(len(g.Middle))]
		if rng.Float64() > w.Weight {
			return Result{State: st}, nil
		}
		trail, isLead := g.trailOf(w.Code)
		if isLead && len(st.OpenPairs) >= 2 {
			return Result{State: st}, nil
		}
		codes = append(codes, w.Code)
		st.MiddleCount++
		if isLead {
			st.OpenPairs = append(st.OpenPairs, trail)
		}
		if dep, ok := g.followUpOf(w.Code); ok {
			st.PendingFollowUps = append(st.PendingFollowUps, dep)
		}
	}

	times := make([]time.Time, len(codes))
	for i := range times {
		times[i] = now
	}
	events, err := e.buildRecordsAt(op, st, codes, times, rng)
	if err != nil {
		return Result{State: st}, err
	}
	st.LastEmit = now

	res := Result{Events: events, State: st}
	if canceled {
		st.Phase = PhaseCanceled
		res.Canceled = true
		res.CancelTime = now
	}
	if rework {
		res.Rework = true
		res.ReworkTime = now
	}
	return res, nil
}

// FinalizeOnCompletion emits everything still owed when an ACTIVE
// operation completes: any prologue remainder, pending follow-ups, owed
// trailing codes, and the epilogue, so the completed sequence is always
// valid no matter how many realtime events fit during its lifetime.
// Called exactly once per completion.
func (e *Engine) FinalizeOnCompletion(op *domain.Operation, st *State, g *Graph, completion time.Time, rng *rand.Rand) (Result, error) {
	if st.Terminal() {
		return Result{State: st}, nil
	}

	var codes []string
	for st.PrologueIdx < len(g.Prologue) {
		codes = append(codes, g.Prologue[st.PrologueIdx])
		st.PrologueIdx++
	}
	for len(st.PendingFollowUps) > 0 {
		code := st.PendingFollowUps[0]
		st.PendingFollowUps = st.PendingFollowUps[1:]
		codes = append(codes, code)
		if dep, ok := g.followUpOf(code); ok {
			st.PendingFollowUps = append(st.PendingFollowUps, dep)
		}
	}
	codes = append(codes, st.OpenPairs...)
	st.OpenPairs = nil
	codes = append(codes, g.Epilogue...)

	// Space the closing events between the last emission and completion.
	from := st.LastEmit
	if from.IsZero() || from.After(completion) {
		from = completion
	}
	span := completion.Sub(from)
	times := make([]time.Time, len(codes))
	for i := range times {
		times[i] = from.Add(span * time.Duration(i+1) / time.Duration(len(codes)+1))
	}

	events, err := e.buildRecordsAt(op, st, codes, times, rng)
	if err != nil {
		return Result{State: st}, err
	}
	st.Phase = PhaseDone
	st.LastEmit = completion
	return Result{Events: events, State: st}, nil
}

// buildRecords materializes event records for codes/times with ordinals
// starting at zero.
func (e *Engine) buildRecords(op *domain.Operation, stage string, codes []string, times []time.Time, rng *rand.Rand) ([]domain.EventRecord, error) {
	events := make([]domain.EventRecord, 0, len(codes))
	for i, code := range codes {
		def, ok := lookupDef(stage, code)
		if !ok {
			return nil, fmt.Errorf("stage %s: code %s missing from catalog", stage, code)
		}
		events = append(events, domain.EventRecord{
			ID:        e.ids.NewID(),
			HeatNo:    op.HeatNo,
			ProcCode:  op.ProcCode,
			DeviceNo:  op.DeviceNo,
			Code:      code,
			Name:      def.Name,
			Message:   e.msgs.Generate(def, rng),
			TimeStart: times[i],
			TimeEnd:   times[i],
			Ordinal:   i,
		})
	}
	return events, nil
}

// buildRecordsAt materializes records continuing a state's ordinal.
func (e *Engine) buildRecordsAt(op *domain.Operation, st *State, codes []string, times []time.Time, rng *rand.Rand) ([]domain.EventRecord, error) {
	events, err := e.buildRecords(op, st.Stage, codes, times, rng)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Ordinal = st.Ordinal
		st.Ordinal++
	}
	return events, nil
}

// assignTimes spreads a full sequence across its window: prologue evenly
// over the first tenth, epilogue evenly over the last tenth, middles
// drawn uniformly in the interior and sorted, so ordinal-to-time
// correspondence is non-decreasing by construction.
func assignTimes(window domain.Interval, nPro, nMid, nEpi int, rng *rand.Rand) []time.Time {
	dur := window.Duration()
	times := make([]time.Time, 0, nPro+nMid+nEpi)

	for i := 0; i < nPro; i++ {
		frac := 0.10 * float64(i) / float64(nPro)
		times = append(times, window.Start.Add(time.Duration(frac*float64(dur))))
	}

	mids := make([]float64, nMid)
	for i := range mids {
		mids[i] = 0.12 + rng.Float64()*0.76
	}
	sort.Float64s(mids)
	for _, frac := range mids {
		times = append(times, window.Start.Add(time.Duration(frac*float64(dur))))
	}

	for i := 0; i < nEpi; i++ {
		frac := 0.90 + 0.10*float64(i)/float64(nEpi)
		times = append(times, window.Start.Add(time.Duration(frac*float64(dur))))
	}
	return times
}

// assignPartialTimes spreads an in-progress prefix over [start, now]:
// prologue in the first 15% of the elapsed window, middles uniform and
// sorted in the remainder.
func assignPartialTimes(window domain.Interval, nPro, nMid int, rng *rand.Rand) []time.Time {
	dur := window.Duration()
	times := make([]time.Time, 0, nPro+nMid)

	for i := 0; i < nPro; i++ {
		frac := 0.15 * float64(i) / float64(nPro)
		times = append(times, window.Start.Add(time.Duration(frac*float64(dur))))
	}

	mids := make([]float64, nMid)
	for i := range mids {
		mids[i] = 0.15 + rng.Float64()*0.80
	}
	sort.Float64s(mids)
	for _, frac := range mids {
		times = append(times, window.Start.Add(time.Duration(frac*float64(dur))))
	}
	return times
}
