// Package alarm raises probabilistic equipment warnings for operations:
// historical batches seeded into completed windows and real-time
// warnings for active operations, bounded per operation and spaced out
// over its window.
package alarm

import (
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/meltlab/meltsim/internal/config"
	"github.com/meltlab/meltsim/internal/domain"
)

// template is one warning message with its severity level.
type template struct {
	Code  string
	Msg   string
	Level int
}

// templates per stage name; common entries apply to every stage.
var templates = map[string][]template{
	"BOF": {
		{"BOF-01", "oxygen lance pressure fluctuation detected", 2},
		{"BOF-02", "converter gas temperature rising rapidly", 2},
		{"BOF-03", "cooling water flow below lower limit", 1},
		{"BOF-04", "hot metal silicon out of range, adjust flux addition", 3},
		{"BOF-05", "abnormal mouth flame, slopping risk", 1},
		{"BOF-06", "furnace pressure abnormally high", 1},
		{"BOF-07", "blow duration exceeds process limit", 2},
		{"BOF-08", "bottom stirring gas flow insufficient", 2},
		{"BOF-09", "endpoint carbon above target", 3},
		{"BOF-10", "endpoint temperature below target", 3},
	},
	"LF": {
		{"LF-01", "argon stirring pressure unstable", 2},
		{"LF-02", "ladle temperature drop exceeds target", 3},
		{"LF-03", "alloy feeder blocked", 2},
		{"LF-04", "electrode consumption above expectation", 4},
		{"LF-05", "electrode lift malfunction", 1},
		{"LF-06", "heating rate below process requirement", 3},
		{"LF-07", "refining time exceeded", 2},
		{"LF-08", "alloy addition deviation out of range", 3},
		{"LF-09", "steel composition off target", 3},
		{"LF-10", "furnace roof not closed in time", 2},
	},
	"CCM": {
		{"CCM-01", "mold level oscillation out of range", 2},
		{"CCM-02", "secondary cooling water pressure low", 1},
		{"CCM-03", "tundish temperature drift", 3},
		{"CCM-04", "casting speed fluctuation", 3},
		{"CCM-05", "mold breakout risk", 1},
		{"CCM-06", "mold level control unstable", 2},
		{"CCM-07", "steel superheat insufficient", 3},
		{"CCM-08", "shell thickness growth abnormal", 2},
		{"CCM-09", "oscillation frequency off setpoint", 2},
		{"CCM-10", "strand withdrawal interruption risk", 1},
	},
}

var commonTemplates = []template{
	{"W-100", "sensor signal noise too high", 4},
	{"W-101", "manual check of process parameters requested", 4},
	{"W-102", "data acquisition lag", 4},
	{"W-103", "critical process parameter missing", 2},
	{"W-104", "timestamp discontinuity detected", 4},
	{"W-105", "device communication interrupted", 1},
	{"W-106", "duplicate data report", 4},
	{"W-107", "alarm rule not matched by configuration", 4},
	{"W-108", "model output abnormal", 3},
	{"W-109", "system clock out of sync", 2},
}

// opTrack follows one active operation's warning history in memory.
type opTrack struct {
	count   int
	lastEnd time.Time
}

// Engine produces warning records. Like the sequence engine it only
// returns write-intents; the caller persists them. Real-time tracking
// state lives here keyed by operation id and is dropped on Forget.
type Engine struct {
	maxPerOp int
	tickProb float64
	seedProb float64

	ids domain.IDGenerator
	log *slog.Logger

	tracks map[string]*opTrack
}

// NewEngine creates a warning engine from the simulation config.
func NewEngine(cfg *config.Config, ids domain.IDGenerator, log *slog.Logger) *Engine {
	return &Engine{
		maxPerOp: cfg.MaxWarningsPerOperation,
		tickProb: cfg.WarningProbabilityTick,
		seedProb: cfg.SeedWarningProbability,
		ids:      ids,
		log:      log,
		tracks:   make(map[string]*opTrack),
	}
}

// pickTemplate draws a warning template for the stage. Stage-specific
// and common templates share one pool.
func pickTemplate(stage string, rng *rand.Rand) template {
	pool := append(append([]template{}, templates[stage]...), commonTemplates...)
	tpl := pool[rng.Intn(len(pool))]
	// A share of warnings arrives uncoded, as raw operator messages do.
	if rng.Float64() < 0.3 {
		tpl.Code = ""
	}
	return tpl
}

// duration draws how long a warning stays open: mostly seconds, a tail
// of minute-scale ones.
func duration(rng *rand.Rand) time.Duration {
	roll := rng.Float64()
	switch {
	case roll < 0.8:
		return time.Duration((1 + rng.Float64()*9) * float64(time.Second))
	case roll < 0.95:
		return time.Duration((10 + rng.Float64()*50) * float64(time.Second))
	default:
		return time.Duration((60 + rng.Float64()*120) * float64(time.Second))
	}
}

// seedCount draws how many warnings a completed operation gets: heavily
// one, sometimes two, a thin tail up to the maximum.
func (e *Engine) seedCount(rng *rand.Rand) int {
	if e.maxPerOp <= 2 {
		return 1 + rng.Intn(e.maxPerOp)
	}
	roll := rng.Float64()
	switch {
	case roll < 0.55:
		return 1
	case roll < 0.80:
		return 2
	default:
		return 3 + rng.Intn(e.maxPerOp-2)
	}
}

// SeedHistorical builds the warning batch of one completed operation:
// with the seed probability, a drawn count of warnings spread over the
// operation's actual window with jitter. Returns nil when the draw
// skips the operation.
func (e *Engine) SeedHistorical(op *domain.Operation, stage string, rng *rand.Rand) []domain.WarningRecord {
	if e.maxPerOp <= 0 {
		return nil
	}
	window := op.Window()
	if window.Duration() <= time.Second {
		return nil
	}
	if rng.Float64() >= e.seedProb {
		return nil
	}

	count := e.seedCount(rng)
	segment := window.Duration() / time.Duration(count+1)

	starts := make([]time.Time, 0, count)
	for i := 1; i <= count; i++ {
		base := window.Start.Add(segment * time.Duration(i))
		jitter := time.Duration((rng.Float64()*2 - 1) * 0.15 * float64(segment))
		at := base.Add(jitter)
		if at.Before(window.Start) {
			at = window.Start
		}
		if at.After(window.End) {
			at = window.End
		}
		starts = append(starts, at)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	records := make([]domain.WarningRecord, 0, count)
	for _, at := range starts {
		end := at.Add(duration(rng))
		if end.After(window.End) {
			end = window.End
		}
		if !end.After(at) {
			continue
		}
		records = append(records, e.build(op, stage, at, end, rng))
	}
	return records
}

// MaybeWarn draws a real-time warning for an active operation, bounded
// by the per-operation maximum and a minimum spacing derived from the
// operation window.
func (e *Engine) MaybeWarn(op *domain.Operation, stage string, now time.Time, rng *rand.Rand) (domain.WarningRecord, bool) {
	if e.maxPerOp <= 0 || !op.Started() {
		return domain.WarningRecord{}, false
	}
	window := op.Window()
	if now.After(window.End) {
		return domain.WarningRecord{}, false
	}

	track := e.tracks[op.ID]
	if track == nil {
		track = &opTrack{}
		e.tracks[op.ID] = track
	}
	if track.count >= e.maxPerOp {
		return domain.WarningRecord{}, false
	}
	if !track.lastEnd.IsZero() {
		spacing := minSpacing(window.Duration(), e.maxPerOp)
		if now.Sub(track.lastEnd) < spacing {
			return domain.WarningRecord{}, false
		}
	}
	if rng.Float64() >= e.tickProb {
		return domain.WarningRecord{}, false
	}

	end := now.Add(duration(rng))
	rec := e.build(op, stage, now, end, rng)
	track.count++
	track.lastEnd = end
	e.log.Debug("warning raised",
		"heat", op.HeatNo, "proc", op.ProcCode, "device", op.DeviceNo, "code", rec.Code)
	return rec, true
}

// minSpacing targets an even spread of the maximum warning count over
// the window, never tighter than 30 seconds.
func minSpacing(window time.Duration, maxPerOp int) time.Duration {
	target := window / time.Duration(maxPerOp+1)
	spacing := time.Duration(float64(target) * 0.7)
	if spacing < 30*time.Second {
		spacing = 30 * time.Second
	}
	return spacing
}

// Forget drops the tracking state of a finished operation.
func (e *Engine) Forget(opID string) {
	delete(e.tracks, opID)
}

func (e *Engine) build(op *domain.Operation, stage string, start, end time.Time, rng *rand.Rand) domain.WarningRecord {
	tpl := pickTemplate(stage, rng)
	return domain.WarningRecord{
		ID:        e.ids.NewID(),
		HeatNo:    op.HeatNo,
		ProcCode:  op.ProcCode,
		DeviceNo:  op.DeviceNo,
		Crew:      op.Crew,
		Code:      tpl.Code,
		Level:     tpl.Level,
		Message:   tpl.Msg,
		RaisedAt:  start,
		ClearedAt: end,
	}
}
