package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meltlab/meltsim/internal/domain"
)

var t0 = time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC)

func planningRequest(owner string) Request {
	return Request{
		Devices:       []string{"G120", "G121", "G122"},
		Duration:      40 * time.Minute,
		EarliestStart: t0,
		Rest:          RestBounds{Min: 3 * time.Minute, Max: 20 * time.Minute},
		Horizon:       12 * time.Hour,
		Mode:          ModePlanning,
		Owner:         owner,
	}
}

func TestFindSlotEmptyBook(t *testing.T) {
	b := NewBook()
	slot, ok := b.FindSlot(planningRequest("op-1"))
	require.True(t, ok)
	assert.Equal(t, "G120", slot.DeviceNo, "ties break by preference order")
	assert.True(t, slot.Interval.Start.Equal(t0))
	assert.True(t, slot.Interval.End.Equal(t0.Add(40*time.Minute)))
}

func TestFindSlotBooksAtomically(t *testing.T) {
	b := NewBook()
	first, ok := b.FindSlot(planningRequest("op-1"))
	require.True(t, ok)

	second, ok := b.FindSlot(planningRequest("op-2"))
	require.True(t, ok)

	if first.DeviceNo == second.DeviceNo {
		assert.False(t, first.Interval.Overlaps(second.Interval))
	} else {
		// A free device at the same earliest start is preferred over
		// queuing behind the first booking.
		assert.True(t, second.Interval.Start.Equal(t0))
	}
}

func TestFindSlotMinRestEnforced(t *testing.T) {
	b := NewBook()
	iv := domain.Interval{Start: t0, End: t0.Add(40 * time.Minute)}
	require.NoError(t, b.Insert("G120", "seed", iv))

	req := planningRequest("op-1")
	req.Devices = []string{"G120"}
	slot, ok := b.FindSlot(req)
	require.True(t, ok)
	assert.True(t, slot.Interval.Start.Equal(iv.End.Add(3*time.Minute)),
		"start must respect min rest after the previous booking")
}

func TestFindSlotGapTooTightSkipsToEnd(t *testing.T) {
	b := NewBook()
	// Two bookings with a gap shorter than duration plus both rests.
	require.NoError(t, b.Insert("G120", "a", domain.Interval{Start: t0, End: t0.Add(30 * time.Minute)}))
	gapStart := t0.Add(40 * time.Minute)
	require.NoError(t, b.Insert("G120", "b", domain.Interval{Start: gapStart, End: gapStart.Add(30 * time.Minute)}))

	req := planningRequest("op-1")
	req.Devices = []string{"G120"}
	slot, ok := b.FindSlot(req)
	require.True(t, ok)
	assert.True(t, slot.Interval.Start.Equal(gapStart.Add(30*time.Minute).Add(3*time.Minute)),
		"too-tight gap must be skipped")
}

func TestFindSlotUsesInteriorGap(t *testing.T) {
	b := NewBook()
	require.NoError(t, b.Insert("G120", "a", domain.Interval{Start: t0, End: t0.Add(30 * time.Minute)}))
	// Gap of 70 minutes fits 40m duration + 3m rest on both sides.
	gapEnd := t0.Add(100 * time.Minute)
	require.NoError(t, b.Insert("G120", "b", domain.Interval{Start: gapEnd, End: gapEnd.Add(30 * time.Minute)}))

	req := planningRequest("op-1")
	req.Devices = []string{"G120"}
	slot, ok := b.FindSlot(req)
	require.True(t, ok)
	// Planning also caps the rest left before the next booking, which
	// pushes the start past the bare min-rest position.
	assert.True(t, slot.Interval.Start.Equal(t0.Add(40*time.Minute)))
	assert.False(t, slot.Interval.End.After(gapEnd.Add(-3*time.Minute)))
}

func TestFindSlotMaxRestPlanningOnly(t *testing.T) {
	// A mid-timeline gap that would leave more than max rest of
	// avoidable idle: planning skips it, runtime takes it.
	setup := func() *Book {
		b := NewBook()
		require.NoError(t, b.Insert("G120", "a", domain.Interval{Start: t0, End: t0.Add(time.Hour)}))
		require.NoError(t, b.Insert("G120", "b", domain.Interval{Start: t0.Add(3 * time.Hour), End: t0.Add(4 * time.Hour)}))
		return b
	}

	req := planningRequest("op-1")
	req.Devices = []string{"G120"}

	slot, ok := setup().FindSlot(req)
	require.True(t, ok)
	assert.True(t, slot.Interval.Start.Equal(t0.Add(4*time.Hour+3*time.Minute)),
		"planning must skip the gap and queue at the tail")

	req.Mode = ModeRuntime
	slot, ok = setup().FindSlot(req)
	require.True(t, ok)
	assert.True(t, slot.Interval.Start.Equal(t0.Add(time.Hour+3*time.Minute)),
		"runtime takes the first gap that fits")
}

func TestFindSlotStaleDeviceInfeasibleInPlanning(t *testing.T) {
	b := NewBook()
	// The device has been idle far longer than max rest. Planning treats
	// the oversized gap as infeasible and reports no slot; runtime still
	// starts at the earliest.
	old := domain.Interval{Start: t0.Add(-3 * time.Hour), End: t0.Add(-2 * time.Hour)}
	require.NoError(t, b.Insert("G120", "seed", old))

	req := planningRequest("op-1")
	req.Devices = []string{"G120"}
	_, ok := b.FindSlot(req)
	assert.False(t, ok, "gap to the previous booking exceeds max rest")
	assert.Len(t, b.Bookings("G120"), 1, "nothing may be booked on failure")

	req.Mode = ModeRuntime
	slot, ok := b.FindSlot(req)
	require.True(t, ok)
	assert.True(t, slot.Interval.Start.Equal(t0))
}

func TestFindSlotLatestStartCap(t *testing.T) {
	b := NewBook()
	require.NoError(t, b.Insert("G120", "seed", domain.Interval{Start: t0, End: t0.Add(2 * time.Hour)}))

	req := planningRequest("op-1")
	req.Devices = []string{"G120"}
	req.LatestStart = t0.Add(30 * time.Minute)
	_, ok := b.FindSlot(req)
	assert.False(t, ok, "earliest feasible start is past the cap")

	// Runtime ignores the cap.
	req.Mode = ModeRuntime
	req.Owner = "op-2"
	_, ok = b.FindSlot(req)
	assert.True(t, ok)
}

func TestFindSlotHorizonBound(t *testing.T) {
	b := NewBook()
	require.NoError(t, b.Insert("G120", "seed", domain.Interval{Start: t0, End: t0.Add(6 * time.Hour)}))

	req := planningRequest("op-1")
	req.Devices = []string{"G120"}
	req.Mode = ModeRuntime
	req.Horizon = time.Hour
	_, ok := b.FindSlot(req)
	assert.False(t, ok, "next gap is beyond the search horizon")
}

func TestFindSlotEarliestAcrossDevices(t *testing.T) {
	b := NewBook()
	require.NoError(t, b.Insert("G120", "a", domain.Interval{Start: t0, End: t0.Add(2 * time.Hour)}))
	require.NoError(t, b.Insert("G121", "b", domain.Interval{Start: t0, End: t0.Add(time.Hour)}))

	req := planningRequest("op-1")
	req.Mode = ModeRuntime
	slot, ok := b.FindSlot(req)
	require.True(t, ok)
	assert.Equal(t, "G122", slot.DeviceNo, "free device wins over queued ones")
	assert.True(t, slot.Interval.Start.Equal(t0))
}

func TestFindSlotOwnerReSlotting(t *testing.T) {
	b := NewBook()
	req := planningRequest("op-1")
	req.Devices = []string{"G120"}
	first, ok := b.FindSlot(req)
	require.True(t, ok)

	// Re-slotting the same owner ignores and then replaces its own
	// booking.
	req.EarliestStart = t0.Add(10 * time.Minute)
	second, ok := b.FindSlot(req)
	require.True(t, ok)
	assert.True(t, second.Interval.Start.Equal(t0.Add(10*time.Minute)))
	assert.False(t, second.Interval.Start.Equal(first.Interval.Start))
	assert.Len(t, b.Bookings("G120"), 1, "old booking must be replaced")
}

func TestFindSlotRejectsDegenerateRequests(t *testing.T) {
	b := NewBook()

	req := planningRequest("op-1")
	req.Duration = 0
	_, ok := b.FindSlot(req)
	assert.False(t, ok)

	req = planningRequest("op-2")
	req.Devices = nil
	_, ok = b.FindSlot(req)
	assert.False(t, ok)
}

func TestInsertRejectsOverlap(t *testing.T) {
	b := NewBook()
	iv := domain.Interval{Start: t0, End: t0.Add(time.Hour)}
	require.NoError(t, b.Insert("G120", "a", iv))

	err := b.Insert("G120", "b", domain.Interval{Start: t0.Add(30 * time.Minute), End: t0.Add(90 * time.Minute)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlaps booking for a")

	// Touching intervals are fine: bookings are half-open.
	require.NoError(t, b.Insert("G120", "c", domain.Interval{Start: t0.Add(time.Hour), End: t0.Add(2 * time.Hour)}))
}

func TestReleaseRemovesAllOwnerBookings(t *testing.T) {
	b := NewBook()
	require.NoError(t, b.Insert("G120", "heat-1", domain.Interval{Start: t0, End: t0.Add(time.Hour)}))
	require.NoError(t, b.Insert("G130", "heat-1", domain.Interval{Start: t0.Add(time.Hour), End: t0.Add(2 * time.Hour)}))
	require.NoError(t, b.Insert("G120", "heat-2", domain.Interval{Start: t0.Add(2 * time.Hour), End: t0.Add(3 * time.Hour)}))

	b.Release("heat-1")
	assert.Len(t, b.Bookings("G120"), 1)
	assert.Empty(t, b.Bookings("G130"))
}

func TestRetimeClampsToNextBooking(t *testing.T) {
	b := NewBook()
	require.NoError(t, b.Insert("G120", "op-1", domain.Interval{Start: t0, End: t0.Add(40 * time.Minute)}))
	next := t0.Add(50 * time.Minute)
	require.NoError(t, b.Insert("G120", "op-2", domain.Interval{Start: next, End: next.Add(40 * time.Minute)}))

	// Running long: clamp at the next booking's start.
	b.Retime("op-1", t0.Add(70*time.Minute))
	got := b.Bookings("G120")
	require.Len(t, got, 2)
	assert.True(t, got[0].End.Equal(next))

	// Finishing early shrinks the booking.
	b.Retime("op-1", t0.Add(30*time.Minute))
	got = b.Bookings("G120")
	assert.True(t, got[0].End.Equal(t0.Add(30*time.Minute)))
}

// The non-overlap property must hold for any sequence of FindSlot
// bookings on a shared pool.
func TestBookNonOverlapProperty(t *testing.T) {
	b := NewBook()
	for i := 0; i < 30; i++ {
		req := planningRequest(fmt.Sprintf("op-%d", i))
		req.Mode = ModeRuntime
		req.Duration = time.Duration(20+i) * time.Minute
		_, ok := b.FindSlot(req)
		require.True(t, ok)
	}
	for _, dev := range []string{"G120", "G121", "G122"} {
		ivs := b.Bookings(dev)
		for i := 1; i < len(ivs); i++ {
			assert.False(t, ivs[i].Overlaps(ivs[i-1]), "device %s index %d", dev, i)
			gap := ivs[i].Start.Sub(ivs[i-1].End)
			assert.GreaterOrEqual(t, gap, 3*time.Minute, "device %s index %d", dev, i)
		}
	}
}
