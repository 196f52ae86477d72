package sequence

import "time"

// Phase is the position of an operation's sequence generation.
type Phase int

const (
	// PhasePrologue: mandatory opening codes still being emitted.
	PhasePrologue Phase = iota
	// PhaseMiddle: weighted optional codes being sampled.
	PhaseMiddle
	// PhaseEpiloguePending: middle budget spent, epilogue not yet emitted.
	PhaseEpiloguePending
	// PhaseDone: epilogue emitted, sequence complete.
	PhaseDone
	// PhaseCanceled: sequence truncated by a CANCEL code.
	PhaseCanceled
)

// State is the per-operation generation state surviving across ticks.
//
// It is an explicit, owned record keyed by operation id in the
// processor's lookup table; the tick loop passes it into AdvanceOnTick
// and discards it once the phase is terminal. Never shared between
// operations.
type State struct {
	Stage string // catalog key, e.g. "BOF"
	Phase Phase

	PrologueIdx  int // next prologue code to emit
	MiddleBudget int // total middle emissions allowed
	MiddleCount  int // middle emissions so far

	// OpenPairs are trailing codes owed to already-emitted leads, FIFO.
	OpenPairs []string
	// PendingFollowUps are dependent codes whose triggers have fired.
	PendingFollowUps []string

	Rework   bool
	LastEmit time.Time
	Ordinal  int // next ordinal position
}

// Terminal reports whether generation has reached a final phase.
func (s *State) Terminal() bool {
	return s.Phase == PhaseDone || s.Phase == PhaseCanceled
}
