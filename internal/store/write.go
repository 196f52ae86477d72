package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/meltlab/meltsim/internal/domain"
)

// Compile-time check that the store satisfies the sink contract.
var _ domain.Sink = (*Store)(nil)

// timeText renders a time column; zero times map to NULL.
func timeText(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// SaveOperation inserts or updates one operation row keyed by id.
// Every runtime mutation of the same operation lands on the same row;
// planned times are written once and repeated verbatim on updates.
func (s *Store) SaveOperation(op *domain.Operation) error {
	_, err := s.db.Exec(`
		INSERT INTO operations
		(id, heat_no, proc_code, stage_idx, device_no, crew, grade, status,
		 plan_start, plan_end, actual_start, actual_end, rework)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status       = excluded.status,
			actual_start = excluded.actual_start,
			actual_end   = excluded.actual_end,
			rework       = excluded.rework
	`,
		op.ID,
		op.HeatNo,
		op.ProcCode,
		op.StageIdx,
		op.DeviceNo,
		op.Crew,
		op.Grade,
		op.Status.String(),
		timeText(op.PlanStart),
		timeText(op.PlanEnd),
		timeText(op.ActualStart),
		timeText(op.ActualEnd),
		boolInt(op.Rework),
	)
	if err != nil {
		return fmt.Errorf("save operation %s: %w", op.ID, err)
	}
	return nil
}

// AppendEvents inserts the emitted events in one transaction. Rows are
// append-only; a replayed event (same heat, device, code, and start
// time) is silently ignored.
func (s *Store) AppendEvents(events []domain.EventRecord) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("append events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, ev := range events {
		if err := appendEvent(tx, ev); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append events: commit: %w", err)
	}
	return nil
}

func appendEvent(tx *sql.Tx, ev domain.EventRecord) error {
	_, err := tx.Exec(`
		INSERT INTO events
		(id, heat_no, proc_code, device_no, code, name, message, time_start, time_end, ordinal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		ev.ID,
		ev.HeatNo,
		ev.ProcCode,
		ev.DeviceNo,
		ev.Code,
		ev.Name,
		ev.Message,
		timeText(ev.TimeStart),
		timeText(ev.TimeEnd),
		ev.Ordinal,
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	return nil
}

// AppendWarning inserts one warning row.
func (s *Store) AppendWarning(w domain.WarningRecord) error {
	code := any(w.Code)
	if w.Code == "" {
		code = nil
	}
	_, err := s.db.Exec(`
		INSERT INTO warnings
		(id, heat_no, proc_code, device_no, crew, code, level, message, raised_at, cleared_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		w.ID,
		w.HeatNo,
		w.ProcCode,
		w.DeviceNo,
		w.Crew,
		code,
		w.Level,
		w.Message,
		timeText(w.RaisedAt),
		timeText(w.ClearedAt),
	)
	if err != nil {
		return fmt.Errorf("append warning %s: %w", w.ID, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
