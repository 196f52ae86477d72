package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meltlab/meltsim/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "meltsim.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func sampleOp() *domain.Operation {
	start := time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC)
	return &domain.Operation{
		ID:        "op-1",
		HeatNo:    2608_00001,
		ProcCode:  "G12",
		StageIdx:  0,
		DeviceNo:  "G120",
		Crew:      "A",
		Grade:     "Q235B",
		Status:    domain.StatusPending,
		PlanStart: start,
		PlanEnd:   start.Add(40 * time.Minute),
	}
}

func TestOpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meltsim.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestSaveOperationUpserts(t *testing.T) {
	s := openTestStore(t)
	op := sampleOp()
	require.NoError(t, s.SaveOperation(op))

	// Status transition updates the same row.
	op.Status = domain.StatusActive
	op.ActualStart = op.PlanStart.Add(2 * time.Minute)
	require.NoError(t, s.SaveOperation(op))

	op.Status = domain.StatusCompleted
	op.ActualEnd = op.ActualStart.Add(35 * time.Minute)
	op.Rework = true
	require.NoError(t, s.SaveOperation(op))

	got, err := s.ReadOperation(op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.True(t, got.PlanStart.Equal(op.PlanStart))
	assert.True(t, got.ActualStart.Equal(op.ActualStart))
	assert.True(t, got.ActualEnd.Equal(op.ActualEnd))
	assert.True(t, got.Rework)

	ops, _, _, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, ops)
}

func TestReadOperationMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ReadOperation("absent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendEventsIdempotent(t *testing.T) {
	s := openTestStore(t)
	op := sampleOp()
	require.NoError(t, s.SaveOperation(op))

	at := op.PlanStart
	events := []domain.EventRecord{
		{ID: "ev-1", HeatNo: op.HeatNo, ProcCode: op.ProcCode, DeviceNo: op.DeviceNo,
			Code: "G12001", Name: "ladle arrival", Message: "m1", TimeStart: at, TimeEnd: at, Ordinal: 0},
		{ID: "ev-2", HeatNo: op.HeatNo, ProcCode: op.ProcCode, DeviceNo: op.DeviceNo,
			Code: "G12003", Name: "treatment start", Message: "m2", TimeStart: at.Add(time.Minute), TimeEnd: at.Add(time.Minute), Ordinal: 1},
	}
	require.NoError(t, s.AppendEvents(events))

	// Replaying the same batch inserts nothing new.
	require.NoError(t, s.AppendEvents(events))

	_, evs, _, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, 2, evs)
}

func TestAppendEventsEmpty(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AppendEvents(nil))
}

func TestAppendWarningNullableCode(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2026, 8, 10, 8, 5, 0, 0, time.UTC)

	require.NoError(t, s.AppendWarning(domain.WarningRecord{
		ID: "w-1", HeatNo: 2608_00001, ProcCode: "G12", DeviceNo: "G120", Crew: "A",
		Code: "BOF-01", Level: 2, Message: "oxygen lance pressure fluctuation detected",
		RaisedAt: at, ClearedAt: at.Add(8 * time.Second),
	}))
	require.NoError(t, s.AppendWarning(domain.WarningRecord{
		ID: "w-2", HeatNo: 2608_00001, ProcCode: "G12", DeviceNo: "G120", Crew: "A",
		Level: 4, Message: "sensor signal noise too high",
		RaisedAt: at.Add(time.Minute), ClearedAt: at.Add(70 * time.Second),
	}))

	_, _, warns, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, 2, warns)
}
