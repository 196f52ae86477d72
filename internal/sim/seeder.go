package sim

import (
	"fmt"
	"time"

	"github.com/meltlab/meltsim/internal/domain"
	"github.com/meltlab/meltsim/internal/sequence"
)

// Seed populates the registry, the interval book, and the sink with a
// demo timeline around now: completed heats in the past with full event
// sequences and warnings, active heats straddling now with partial
// sequences that the tick loop continues, and pending heats in the
// future.
//
// Each device line (same unit index across stages) carries its own
// chain of back-to-back heats, so seeded data exhibits the aligned
// routing the runtime planner prefers.
func (s *Simulator) Seed(now time.Time) error {
	perHeat := s.cfg.MaxOperationDuration + s.cfg.MaxRest
	past := max(s.cfg.SeedPastHeats, 4)
	future := max(s.cfg.SeedFutureHeats, 4)

	start := now.Add(-time.Duration(past)*perHeat - 3*time.Hour)
	end := now.Add(time.Duration(future)*perHeat + 2*time.Hour)

	lines := len(s.cfg.Stages[0].Devices)
	for line := 0; line < lines; line++ {
		if !s.lineComplete(line) {
			// A stage pool smaller than the first stage's: the line has
			// no unit there, so it cannot carry seeded heats. Its spare
			// devices stay available to the runtime planner.
			continue
		}
		if err := s.seedLine(line, start, end, now); err != nil {
			return fmt.Errorf("seed line %d: %w", line, err)
		}
	}

	s.log.Info("timeline seeded",
		"heats", s.reg.Len(),
		"from", start.Format(time.RFC3339),
		"to", end.Format(time.RFC3339))
	return nil
}

// lineComplete reports whether every stage pool has a unit at this
// line index.
func (s *Simulator) lineComplete(line int) bool {
	for i := range s.cfg.Stages {
		if line >= len(s.cfg.Stages[i].Devices) {
			return false
		}
	}
	return true
}

// seedLine fills one device line with consecutive heats from start to
// end, honoring rest and transfer windows.
func (s *Simulator) seedLine(line int, start, end, now time.Time) error {
	lastEnd := make([]time.Time, len(s.cfg.Stages))

	cursor := start
	for !cursor.After(end) {
		intervals, ok := s.layOutHeat(cursor, lastEnd, end)
		if !ok {
			cursor = cursor.Add(s.cfg.MaxRest)
			continue
		}
		if err := s.seedHeat(line, intervals, now); err != nil {
			return err
		}
		for i, iv := range intervals {
			lastEnd[i] = iv.End
		}
		cursor = intervals[0].End.Add(s.randBetween(s.cfg.MinRest, s.cfg.MaxRest))
	}
	return nil
}

// layOutHeat picks planned intervals for every stage of one heat. It
// retries the transfer-window draw a bounded number of times; callers
// skip forward when no layout fits.
func (s *Simulator) layOutHeat(cursor time.Time, lastEnd []time.Time, horizon time.Time) ([]domain.Interval, bool) {
attempts:
	for attempt := 0; attempt < 30; attempt++ {
		intervals := make([]domain.Interval, 0, len(s.cfg.Stages))
		for i := range s.cfg.Stages {
			dur := s.randBetween(s.cfg.MinOperationDuration, s.cfg.MaxOperationDuration)

			var st time.Time
			if i == 0 {
				st = cursor
				if !lastEnd[0].IsZero() {
					if rested := lastEnd[0].Add(s.randBetween(s.cfg.MinRest, s.cfg.MaxRest)); rested.After(st) {
						st = rested
					}
				}
				if st.After(horizon) {
					return nil, false
				}
			} else {
				prevEnd := intervals[i-1].End
				earliest := prevEnd.Add(s.cfg.MinTransferGap)
				latest := prevEnd.Add(s.cfg.MaxTransferGap)
				if !lastEnd[i].IsZero() {
					if rested := lastEnd[i].Add(s.cfg.MinRest); rested.After(earliest) {
						earliest = rested
					}
					if capped := lastEnd[i].Add(s.cfg.MaxRest); capped.Before(latest) {
						latest = capped
					}
				}
				if earliest.After(latest) {
					continue attempts
				}
				st = earliest.Add(time.Duration(s.rng.Int63n(int64(latest.Sub(earliest)) + 1)))
			}
			intervals = append(intervals, domain.Interval{Start: st, End: st.Add(dur)})
		}
		return intervals, true
	}
	return nil, false
}

// seedHeat materializes one laid-out heat: operations with statuses
// derived from now, bookings, historical events and warnings, and
// generation state for the stage that straddles now.
func (s *Simulator) seedHeat(line int, intervals []domain.Interval, now time.Time) error {
	heat := &domain.Heat{
		No:    s.nextHeatNo(intervals[0].Start),
		Crew:  s.cfg.Crews[s.rng.Intn(len(s.cfg.Crews))],
		Grade: s.cfg.Grades[s.rng.Intn(len(s.cfg.Grades))],
	}

	canceledFrom := -1
	for i := range s.cfg.Stages {
		stage := &s.cfg.Stages[i]
		iv := intervals[i]

		op := &domain.Operation{
			ID:        s.ids.NewID(),
			HeatNo:    heat.No,
			ProcCode:  stage.ProcCode,
			StageIdx:  i,
			DeviceNo:  stage.Devices[line],
			Crew:      heat.Crew,
			Grade:     heat.Grade,
			Status:    domain.StatusPending,
			PlanStart: iv.Start,
			PlanEnd:   iv.End,
		}
		heat.Operations = append(heat.Operations, op)

		if canceledFrom >= 0 {
			// Cascade from an earlier stage: canceled, never started,
			// never booked.
			op.Status = domain.StatusCanceled
			if err := s.sink.SaveOperation(op); err != nil {
				return err
			}
			continue
		}

		if err := s.book.Insert(op.DeviceNo, op.ID, iv); err != nil {
			return err
		}

		switch {
		case !iv.End.After(now):
			op.Status = domain.StatusCompleted
			op.ActualStart = iv.Start
			op.ActualEnd = iv.End
			if err := s.seedCompleted(op, stage.Name, &canceledFrom, i); err != nil {
				return err
			}
		case iv.Start.Before(now) && now.Before(iv.End):
			op.Status = domain.StatusActive
			op.ActualStart = iv.Start
			op.TargetDuration = iv.Duration()
			if err := s.seedActive(op, stage.Name, now, &canceledFrom, i); err != nil {
				return err
			}
		}

		if err := s.sink.SaveOperation(op); err != nil {
			return err
		}
	}

	s.reg.AddHeat(heat)
	return nil
}

// seedCompleted generates the full historical sequence and warnings of
// a completed stage. A cancel draw inside the sequence turns the stage
// into a CANCELED one and starts the cascade.
func (s *Simulator) seedCompleted(op *domain.Operation, stageName string, canceledFrom *int, idx int) error {
	g, ok := s.graphs[stageName]
	if !ok {
		return fmt.Errorf("no sequence graph for stage %s", stageName)
	}

	res, err := s.seq.GenerateFull(op, stageName, &g, op.Window(), s.rng)
	if err != nil {
		return err
	}
	if err := s.sink.AppendEvents(res.Events); err != nil {
		return err
	}
	for _, w := range s.alarms.SeedHistorical(op, stageName, s.rng) {
		if err := s.sink.AppendWarning(w); err != nil {
			return err
		}
	}

	s.applySpecials(op, res, canceledFrom, idx)
	return nil
}

// seedActive generates the in-progress prefix of the stage straddling
// now and hands its generation state to the processor so later ticks
// continue it.
func (s *Simulator) seedActive(op *domain.Operation, stageName string, now time.Time, canceledFrom *int, idx int) error {
	g, ok := s.graphs[stageName]
	if !ok {
		return fmt.Errorf("no sequence graph for stage %s", stageName)
	}

	fraction := float64(now.Sub(op.ActualStart)) / float64(op.TargetDuration)
	res, err := s.seq.GeneratePartial(op, stageName, &g, now, fraction, s.rng)
	if err != nil {
		return err
	}
	if err := s.sink.AppendEvents(res.Events); err != nil {
		return err
	}

	s.applySpecials(op, res, canceledFrom, idx)
	if op.Status == domain.StatusActive {
		s.proc.AdoptState(op.ID, res.State)
	}
	return nil
}

// applySpecials folds a generation result's cancel/rework outcome into
// the seeded operation.
func (s *Simulator) applySpecials(op *domain.Operation, res sequence.Result, canceledFrom *int, idx int) {
	if res.Rework {
		op.Rework = true
	}
	if res.Canceled {
		op.Status = domain.StatusCanceled
		op.ActualEnd = res.CancelTime
		s.book.Retime(op.ID, res.CancelTime)
		*canceledFrom = idx
		s.log.Debug("seeded heat canceled mid-flow",
			"heat", op.HeatNo, "proc", op.ProcCode, "stage", idx)
	}
}

// randBetween draws a uniform duration from [lo, hi].
func (s *Simulator) randBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.rng.Int63n(int64(hi-lo)+1))
}
