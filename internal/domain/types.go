package domain

import "time"

// Status is the lifecycle state of a single operation.
type Status int

const (
	StatusCompleted Status = 0
	StatusActive    Status = 1
	StatusPending   Status = 2
	StatusCanceled  Status = 3
)

// String returns the status name used in logs and persisted rows.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "COMPLETED"
	case StatusActive:
		return "ACTIVE"
	case StatusPending:
		return "PENDING"
	case StatusCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Interval is a half-open time window [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether two half-open intervals intersect.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains reports whether t falls inside the half-open interval.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Operation is one stage of a heat, bound to one device.
//
// Planned times are fixed at creation and never rewritten; only actual
// times and status mutate at runtime. While ACTIVE, ActualEnd is zero.
// A CANCELED operation that never started has a zero ActualStart.
type Operation struct {
	ID       string // UUIDv7, assigned at creation
	HeatNo   int64
	ProcCode string // process-type code, e.g. "G12"
	StageIdx int    // position within the heat's stage order
	DeviceNo string
	Crew     string
	Grade    string
	Status   Status

	PlanStart time.Time
	PlanEnd   time.Time

	ActualStart time.Time
	ActualEnd   time.Time

	Rework bool

	// TargetDuration is drawn at activation and drives completion.
	// Not persisted; zero until the operation activates.
	TargetDuration time.Duration
}

// Started reports whether the operation has an actual start time.
func (o *Operation) Started() bool {
	return !o.ActualStart.IsZero()
}

// Window returns the best known time window for the operation:
// actual bounds where set, planned bounds otherwise.
func (o *Operation) Window() Interval {
	start := o.ActualStart
	if start.IsZero() {
		start = o.PlanStart
	}
	end := o.ActualEnd
	if end.IsZero() {
		end = o.PlanEnd
	}
	return Interval{Start: start, End: end}
}

// Heat is one end-to-end flow: an ordered list of operations, one per
// stage of the configured process route.
type Heat struct {
	No         int64
	Grade      string
	Crew       string
	Operations []*Operation // stage order
}

// OperationAt returns the operation for the given stage index, or nil.
func (h *Heat) OperationAt(stage int) *Operation {
	if stage < 0 || stage >= len(h.Operations) {
		return nil
	}
	return h.Operations[stage]
}

// EventRecord is one emitted domain event, append-only once created.
type EventRecord struct {
	ID        string // UUIDv7
	HeatNo    int64
	ProcCode  string
	DeviceNo  string
	Code      string
	Name      string
	Message   string
	TimeStart time.Time
	TimeEnd   time.Time // policy: TimeEnd == TimeStart
	Ordinal   int       // position within the operation's sequence
}

// WarningRecord is one equipment warning raised during an operation.
type WarningRecord struct {
	ID        string // UUIDv7
	HeatNo    int64
	ProcCode  string
	DeviceNo  string
	Crew      string
	Code      string // empty for uncoded operator messages
	Level     int    // 1 critical .. 4 informational
	Message   string
	RaisedAt  time.Time
	ClearedAt time.Time // zero while open
}
