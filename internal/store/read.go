package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/meltlab/meltsim/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ReadOperation loads one operation row by id. The generator itself
// never calls this; it exists for tests and operational inspection.
func (s *Store) ReadOperation(id string) (*domain.Operation, error) {
	row := s.db.QueryRow(`
		SELECT id, heat_no, proc_code, stage_idx, device_no, crew, grade, status,
		       plan_start, plan_end, actual_start, actual_end, rework
		FROM operations WHERE id = ?
	`, id)

	var op domain.Operation
	var status string
	var planStart, planEnd string
	var actualStart, actualEnd sql.NullString
	var rework int

	err := row.Scan(&op.ID, &op.HeatNo, &op.ProcCode, &op.StageIdx, &op.DeviceNo,
		&op.Crew, &op.Grade, &status, &planStart, &planEnd, &actualStart, &actualEnd, &rework)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read operation %s: %w", id, err)
	}

	op.Status, err = parseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("read operation %s: %w", id, err)
	}
	if op.PlanStart, err = parseTime(planStart); err != nil {
		return nil, fmt.Errorf("read operation %s: %w", id, err)
	}
	if op.PlanEnd, err = parseTime(planEnd); err != nil {
		return nil, fmt.Errorf("read operation %s: %w", id, err)
	}
	if actualStart.Valid {
		if op.ActualStart, err = parseTime(actualStart.String); err != nil {
			return nil, fmt.Errorf("read operation %s: %w", id, err)
		}
	}
	if actualEnd.Valid {
		if op.ActualEnd, err = parseTime(actualEnd.String); err != nil {
			return nil, fmt.Errorf("read operation %s: %w", id, err)
		}
	}
	op.Rework = rework != 0
	return &op, nil
}

// Counts reports the row totals per table.
func (s *Store) Counts() (operations, events, warnings int, err error) {
	count := func(table string) (int, error) {
		var n int
		// Table names come from a fixed internal set, never user input.
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return 0, fmt.Errorf("count %s: %w", table, err)
		}
		return n, nil
	}
	if operations, err = count("operations"); err != nil {
		return 0, 0, 0, err
	}
	if events, err = count("events"); err != nil {
		return 0, 0, 0, err
	}
	if warnings, err = count("warnings"); err != nil {
		return 0, 0, 0, err
	}
	return operations, events, warnings, nil
}

func parseStatus(s string) (domain.Status, error) {
	for _, st := range []domain.Status{
		domain.StatusCompleted, domain.StatusActive, domain.StatusPending, domain.StatusCanceled,
	} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
