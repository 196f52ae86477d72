package testutil

import (
	"sync"

	"github.com/meltlab/meltsim/internal/domain"
)

// MemorySink collects everything written to it, for assertions.
//
// Operations are stored as copies keyed by id, so later mutations of
// the live objects do not rewrite what a test already observed.
type MemorySink struct {
	mu         sync.Mutex
	operations map[string]domain.Operation
	saves      []string
	events     []domain.EventRecord
	warnings   []domain.WarningRecord
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{operations: make(map[string]domain.Operation)}
}

// SaveOperation records a copy of the operation row.
func (s *MemorySink) SaveOperation(op *domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations[op.ID] = *op
	s.saves = append(s.saves, op.ID)
	return nil
}

// AppendEvents records the emitted events.
func (s *MemorySink) AppendEvents(events []domain.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// AppendWarning records one warning.
func (s *MemorySink) AppendWarning(w domain.WarningRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, w)
	return nil
}

// Operation returns the last saved copy of the operation, if any.
func (s *MemorySink) Operation(id string) (domain.Operation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operations[id]
	return op, ok
}

// OperationCount returns how many distinct operations were saved.
func (s *MemorySink) OperationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.operations)
}

// SaveCount returns how many times the operation was saved.
func (s *MemorySink) SaveCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, saved := range s.saves {
		if saved == id {
			n++
		}
	}
	return n
}

// Events returns all recorded events in emission order.
func (s *MemorySink) Events() []domain.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventRecord, len(s.events))
	copy(out, s.events)
	return out
}

// EventsFor returns the events of one operation's device and process,
// in emission order.
func (s *MemorySink) EventsFor(op *domain.Operation) []domain.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EventRecord
	for _, ev := range s.events {
		if ev.HeatNo == op.HeatNo && ev.ProcCode == op.ProcCode {
			out = append(out, ev)
		}
	}
	return out
}

// Warnings returns all recorded warnings.
func (s *MemorySink) Warnings() []domain.WarningRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WarningRecord, len(s.warnings))
	copy(out, s.warnings)
	return out
}
