// Package scheduler owns the per-device booked-interval sets and finds
// the earliest feasible slot for a new operation.
//
// The book is the authoritative in-memory record of device occupancy.
// Booking happens synchronously inside FindSlot, so two requests within
// the same tick can never claim the same interval. All access happens on
// the single tick goroutine; no locking is required.
package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/meltlab/meltsim/internal/domain"
)

// Mode selects which soft bounds apply to a slot search.
type Mode int

const (
	// ModePlanning enforces both rest bounds and the latest-start cap.
	// Used when laying out a new heat.
	ModePlanning Mode = iota
	// ModeRuntime keeps the minimum rest and non-overlap hard but drops
	// the maximum-rest upper bound: an operation may start after an
	// arbitrarily long idle.
	ModeRuntime
)

// RestBounds is the allowed idle window between consecutive operations
// on the same device. Min is hard in every mode; Max applies only in
// ModePlanning.
type RestBounds struct {
	Min time.Duration
	Max time.Duration
}

// Request describes one slot search.
type Request struct {
	// Devices are the candidate units in preference order.
	Devices []string
	// Duration of the requested interval.
	Duration time.Duration
	// EarliestStart is the lower bound for the slot start.
	EarliestStart time.Time
	// LatestStart caps the slot start; zero means uncapped.
	// Enforced only in ModePlanning.
	LatestStart time.Time
	// Rest bounds between this slot and its device neighbors.
	Rest RestBounds
	// Horizon bounds the search: starts beyond EarliestStart+Horizon
	// are treated as infeasible.
	Horizon time.Duration
	// Mode selects planning or runtime constraint handling.
	Mode Mode
	// Owner identifies the operation the slot is booked for. An existing
	// booking by the same owner is ignored during the scan, so a pending
	// operation can be re-slotted.
	Owner string
}

// Slot is a successful booking.
type Slot struct {
	DeviceNo string
	Interval domain.Interval
}

type booking struct {
	owner    string
	interval domain.Interval
}

// Book holds the booked intervals of every device.
type Book struct {
	devices map[string][]booking // sorted by interval start
}

// NewBook creates an empty interval book.
func NewBook() *Book {
	return &Book{devices: make(map[string][]booking)}
}

// FindSlot scans the candidate devices for the earliest interval of the
// requested duration satisfying non-overlap and rest constraints, books
// it under the request owner, and returns it.
//
// The earliest feasible start across all candidates wins; ties break by
// candidate preference order. Returns ok=false when nothing fits within
// the search horizon; the caller defers and retries on a later tick.
func (b *Book) FindSlot(req Request) (Slot, bool) {
	if req.Duration <= 0 || len(req.Devices) == 0 {
		return Slot{}, false
	}

	deadline := req.EarliestStart.Add(req.Horizon)
	var best *Slot

	for _, deviceNo := range req.Devices {
		start, ok := b.earliestStart(deviceNo, req)
		if !ok {
			continue
		}
		if req.Horizon > 0 && start.After(deadline) {
			continue
		}
		if req.Mode == ModePlanning && !req.LatestStart.IsZero() && start.After(req.LatestStart) {
			continue
		}
		if best == nil || start.Before(best.Interval.Start) {
			best = &Slot{
				DeviceNo: deviceNo,
				Interval: domain.Interval{Start: start, End: start.Add(req.Duration)},
			}
		}
	}

	if best == nil {
		return Slot{}, false
	}
	if req.Owner != "" {
		// Re-slotting replaces the owner's previous booking.
		b.Release(req.Owner)
	}
	b.insert(best.DeviceNo, booking{owner: req.Owner, interval: best.Interval})
	return *best, true
}

// earliestStart scans the gaps of one device for the earliest start
// satisfying the request constraints.
func (b *Book) earliestStart(deviceNo string, req Request) (time.Time, bool) {
	windows := b.windowsExcluding(deviceNo, req.Owner)

	var prevEnd time.Time
	hasPrev := false

	for idx := 0; idx <= len(windows); idx++ {
		var nextStart time.Time
		hasNext := idx < len(windows)
		if hasNext {
			nextStart = windows[idx].Start
		}

		lower := req.EarliestStart
		var upper time.Time
		hasUpper := false

		if hasPrev {
			if rested := prevEnd.Add(req.Rest.Min); rested.After(lower) {
				lower = rested
			}
			if req.Mode == ModePlanning {
				// Max rest is a hard planning bound. When the earliest
				// start already lies past it the device segment is
				// infeasible; the caller defers to a later tick.
				upper = prevEnd.Add(req.Rest.Max)
				hasUpper = true
			}
		}
		if hasNext {
			// Fit before the next window and keep the rest gap to it.
			fit := nextStart.Add(-req.Rest.Min).Add(-req.Duration)
			if !hasUpper || fit.Before(upper) {
				upper = fit
				hasUpper = true
			}
			if req.Mode == ModePlanning {
				// The slot must not leave more than max rest before the
				// next window either.
				if floor := nextStart.Add(-req.Rest.Max).Add(-req.Duration); floor.After(lower) {
					lower = floor
				}
			}
		}

		feasible := !(hasUpper && lower.After(upper))
		if feasible && hasNext && lower.Add(req.Duration).After(nextStart) {
			feasible = false
		}
		if feasible {
			return lower, true
		}
		if hasNext {
			prevEnd = windows[idx].End
			hasPrev = true
		}
	}

	return time.Time{}, false
}

// windowsExcluding returns the device's booked intervals sorted by start,
// skipping any booking held by owner.
func (b *Book) windowsExcluding(deviceNo, owner string) []domain.Interval {
	bookings := b.devices[deviceNo]
	windows := make([]domain.Interval, 0, len(bookings))
	for _, bk := range bookings {
		if owner != "" && bk.owner == owner {
			continue
		}
		windows = append(windows, bk.interval)
	}
	return windows
}

// insert places a booking keeping the device slice sorted by start.
func (b *Book) insert(deviceNo string, bk booking) {
	list := b.devices[deviceNo]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].interval.Start.After(bk.interval.Start)
	})
	list = append(list, booking{})
	copy(list[i+1:], list[i:])
	list[i] = bk
	b.devices[deviceNo] = list
}

// Insert books an interval directly, for seeding a pre-built timeline.
// Returns an error if the interval overlaps an existing booking; rest
// bounds are the seeder's responsibility.
func (b *Book) Insert(deviceNo, owner string, iv domain.Interval) error {
	for _, bk := range b.devices[deviceNo] {
		if bk.interval.Overlaps(iv) {
			return fmt.Errorf("device %s: interval [%s, %s) overlaps booking for %s",
				deviceNo, iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339), bk.owner)
		}
	}
	b.insert(deviceNo, booking{owner: owner, interval: iv})
	return nil
}

// Release removes every booking held by owner. Used when a heat layout
// is aborted mid-way so no partial flow survives.
func (b *Book) Release(owner string) {
	for deviceNo, list := range b.devices {
		kept := list[:0]
		for _, bk := range list {
			if bk.owner != owner {
				kept = append(kept, bk)
			}
		}
		b.devices[deviceNo] = kept
	}
}

// Retime updates the end of owner's booking to the actual end time,
// clamped so it never overlaps the following booking. Keeps the book
// close to reality when operations finish early or late.
func (b *Book) Retime(owner string, actualEnd time.Time) {
	for deviceNo, list := range b.devices {
		for i, bk := range list {
			if bk.owner != owner {
				continue
			}
			end := actualEnd
			if i+1 < len(list) && end.After(list[i+1].interval.Start) {
				end = list[i+1].interval.Start
			}
			if end.After(bk.interval.Start) {
				list[i].interval.End = end
				b.devices[deviceNo] = list
			}
			return
		}
	}
}

// Bookings returns the booked intervals of a device sorted by start.
// Used by tests to check the non-overlap and rest properties.
func (b *Book) Bookings(deviceNo string) []domain.Interval {
	return b.windowsExcluding(deviceNo, "")
}
