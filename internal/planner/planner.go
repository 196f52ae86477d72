// Package planner lays out new heats across the route: one operation
// per stage, each slotted by the device scheduler with transfer windows
// between consecutive stages.
package planner

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/meltlab/meltsim/internal/config"
	"github.com/meltlab/meltsim/internal/domain"
	"github.com/meltlab/meltsim/internal/scheduler"
)

// Planner builds complete heat flows. Stage slotting is atomic: either
// every stage of the heat gets a booking or none survives.
type Planner struct {
	cfg  *config.Config
	book *scheduler.Book
	ids  domain.IDGenerator
}

// New creates a planner over the shared interval book.
func New(cfg *config.Config, book *scheduler.Book, ids domain.IDGenerator) *Planner {
	return &Planner{cfg: cfg, book: book, ids: ids}
}

// HeatNumber builds a heat number from the plan date and a running
// counter: YYMM followed by a five-digit sequence.
func HeatNumber(at time.Time, seq int) int64 {
	yy := int64(at.Year() % 100)
	mm := int64(at.Month())
	return (yy*100+mm)*100000 + int64(seq)
}

// durationBetween draws a uniform duration from [lo, hi].
func durationBetween(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int63n(int64(hi-lo)+1))
}

// candidateDevices orders a stage's device pool for the slot search.
// With the configured probability the unit aligned with the first
// stage's device leads; the rest keep pool order.
func (p *Planner) candidateDevices(stage *config.Stage, firstDevice string, rng *rand.Rand) []string {
	aligned := p.cfg.AlignedDevice(firstDevice, stage)
	if aligned == "" || rng.Float64() >= p.cfg.AlignedRouteProbability {
		out := make([]string, len(stage.Devices))
		copy(out, stage.Devices)
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}
	out := make([]string, 0, len(stage.Devices))
	out = append(out, aligned)
	for _, dev := range stage.Devices {
		if dev != aligned {
			out = append(out, dev)
		}
	}
	return out
}

// PlanHeat slots one operation per route stage starting no earlier than
// earliest, books every slot, and returns the heat with all operations
// PENDING. On any stage failure every booking made for this heat is
// released and an error is returned; the caller retries on a later
// tick.
func (p *Planner) PlanHeat(heatNo int64, earliest time.Time, rng *rand.Rand) (*domain.Heat, error) {
	heat := &domain.Heat{
		No:    heatNo,
		Crew:  p.cfg.Crews[rng.Intn(len(p.cfg.Crews))],
		Grade: p.cfg.Grades[rng.Intn(len(p.cfg.Grades))],
	}

	abort := func() {
		for _, op := range heat.Operations {
			p.book.Release(op.ID)
		}
	}

	var prevEnd time.Time
	var firstDevice string

	for i := range p.cfg.Stages {
		stage := &p.cfg.Stages[i]
		opID := p.ids.NewID()

		req := scheduler.Request{
			Duration: durationBetween(rng, p.cfg.MinOperationDuration, p.cfg.MaxOperationDuration),
			Rest:     scheduler.RestBounds{Min: p.cfg.MinRest, Max: p.cfg.MaxRest},
			Horizon:  p.cfg.SearchHorizon,
			Mode:     scheduler.ModePlanning,
			Owner:    opID,
		}
		if i == 0 {
			req.Devices = p.candidateDevices(stage, "", rng)
			req.EarliestStart = earliest
		} else {
			req.Devices = p.candidateDevices(stage, firstDevice, rng)
			req.EarliestStart = prevEnd.Add(p.cfg.MinTransferGap)
			req.LatestStart = prevEnd.Add(p.cfg.MaxTransferGap)
		}

		slot, ok := p.book.FindSlot(req)
		if !ok {
			abort()
			return nil, fmt.Errorf("heat %d: no slot for stage %s within transfer window", heatNo, stage.Name)
		}

		heat.Operations = append(heat.Operations, &domain.Operation{
			ID:        opID,
			HeatNo:    heatNo,
			ProcCode:  stage.ProcCode,
			StageIdx:  i,
			DeviceNo:  slot.DeviceNo,
			Crew:      heat.Crew,
			Grade:     heat.Grade,
			Status:    domain.StatusPending,
			PlanStart: slot.Interval.Start,
			PlanEnd:   slot.Interval.End,
		})

		prevEnd = slot.Interval.End
		if i == 0 {
			firstDevice = slot.DeviceNo
		}
	}

	return heat, nil
}
