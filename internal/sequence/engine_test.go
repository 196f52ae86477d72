package sequence

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meltlab/meltsim/internal/config"
	"github.com/meltlab/meltsim/internal/domain"
)

func testEngine(t *testing.T, mutate func(*config.Config)) *Engine {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())
	return NewEngine(cfg, domain.NewFixedGenerator())
}

func testGraphs(t *testing.T) GraphSet {
	t.Helper()
	gs, err := LoadGraphs("")
	require.NoError(t, err)
	return gs
}

func testOp() *domain.Operation {
	return &domain.Operation{
		ID:       "op-1",
		HeatNo:   2608_00042,
		ProcCode: "G12",
		DeviceNo: "G120",
		Crew:     "A",
		Grade:    "Q235B",
	}
}

// checkSequence asserts the structural invariants that every completed
// sequence must satisfy: prologue first, epilogue last, balanced pairs,
// follow-ups only after their trigger, non-decreasing times, contiguous
// ordinals.
func checkSequence(t *testing.T, g *Graph, events []domain.EventRecord, canceled bool) {
	t.Helper()
	require.NotEmpty(t, events)

	for i, code := range g.Prologue {
		require.Less(t, i, len(events))
		assert.Equal(t, code, events[i].Code, "prologue position %d", i)
	}

	if canceled {
		assert.Equal(t, g.Cancel, events[len(events)-1].Code, "cancel code must be final")
	} else {
		require.GreaterOrEqual(t, len(events), len(g.Prologue)+len(g.Epilogue))
		tail := events[len(events)-len(g.Epilogue):]
		for i, code := range g.Epilogue {
			assert.Equal(t, code, tail[i].Code, "epilogue position %d", i)
		}
	}

	for _, p := range g.Pairs {
		var opened int
		for _, ev := range events {
			switch ev.Code {
			case p.Lead:
				opened++
			case p.Trail:
				opened--
				assert.GreaterOrEqual(t, opened, 0, "trail %s before lead %s", p.Trail, p.Lead)
			}
		}
		assert.Zero(t, opened, "unclosed pair %s/%s", p.Lead, p.Trail)
	}

	for trigger, dep := range g.FollowUps {
		seenTrigger := false
		for _, ev := range events {
			if ev.Code == trigger {
				seenTrigger = true
			}
			if ev.Code == dep {
				assert.True(t, seenTrigger, "follow-up %s before trigger %s", dep, trigger)
			}
		}
	}

	for i, ev := range events {
		assert.Equal(t, i, ev.Ordinal)
		assert.NotEmpty(t, ev.ID)
		assert.NotEmpty(t, ev.Name)
		assert.NotEmpty(t, ev.Message)
		if i > 0 {
			assert.False(t, ev.TimeStart.Before(events[i-1].TimeStart),
				"event %d time precedes event %d", i, i-1)
		}
	}
}

func TestGenerateFullInvariants(t *testing.T) {
	eng := testEngine(t, nil)
	graphs := testGraphs(t)
	cfg := config.Default()

	start := time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC)
	window := domain.Interval{Start: start, End: start.Add(40 * time.Minute)}

	for _, stage := range []string{"BOF", "LF", "CCM"} {
		stage := stage
		t.Run(stage, func(t *testing.T) {
			g := graphs[stage]
			for seed := int64(0); seed < 50; seed++ {
				rng := rand.New(rand.NewSource(seed))
				res, err := eng.GenerateFull(testOp(), stage, &g, window, rng)
				require.NoError(t, err)
				checkSequence(t, &g, res.Events, res.Canceled)

				if !res.Canceled {
					assert.GreaterOrEqual(t, len(res.Events), cfg.MinEventsPerOperation, "seed %d", seed)
					assert.LessOrEqual(t, len(res.Events), cfg.MaxEventsPerOperation, "seed %d", seed)
				}
				for _, ev := range res.Events {
					assert.True(t, window.Contains(ev.TimeStart) || ev.TimeStart.Equal(window.Start))
					assert.False(t, ev.TimeStart.After(window.End))
				}
			}
		})
	}
}

func TestGenerateFullDeterministic(t *testing.T) {
	graphs := testGraphs(t)
	g := graphs["LF"]
	start := time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC)
	window := domain.Interval{Start: start, End: start.Add(45 * time.Minute)}

	run := func() []domain.EventRecord {
		eng := testEngine(t, nil)
		op := testOp()
		op.ProcCode = "G13"
		op.DeviceNo = "G130"
		res, err := eng.GenerateFull(op, "LF", &g, window, rand.New(rand.NewSource(7)))
		require.NoError(t, err)
		return res.Events
	}

	first := run()
	second := run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Code, second[i].Code)
		assert.Equal(t, first[i].Message, second[i].Message)
		assert.True(t, first[i].TimeStart.Equal(second[i].TimeStart))
	}
}

func TestGenerateFullCancelTruncates(t *testing.T) {
	eng := testEngine(t, func(c *config.Config) { c.CancelPerStep = 1 })
	graphs := testGraphs(t)
	g := graphs["BOF"]
	start := time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC)
	window := domain.Interval{Start: start, End: start.Add(35 * time.Minute)}

	res, err := eng.GenerateFull(testOp(), "BOF", &g, window, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.True(t, res.Canceled)
	checkSequence(t, &g, res.Events, true)
	assert.False(t, res.CancelTime.IsZero())

	// No epilogue codes after a cancel.
	epi := make(map[string]bool, len(g.Epilogue))
	for _, code := range g.Epilogue {
		epi[code] = true
	}
	for _, ev := range res.Events {
		assert.False(t, epi[ev.Code], "epilogue code %s after cancel", ev.Code)
	}
}

func TestGenerateFullReworkAtMostOnce(t *testing.T) {
	eng := testEngine(t, func(c *config.Config) {
		c.ReworkPerStep = 1
		c.CancelPerStep = 0
	})
	graphs := testGraphs(t)
	g := graphs["LF"]
	start := time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC)
	window := domain.Interval{Start: start, End: start.Add(35 * time.Minute)}

	op := testOp()
	op.ProcCode = "G13"
	res, err := eng.GenerateFull(op, "LF", &g, window, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	require.True(t, res.Rework)
	assert.False(t, res.ReworkTime.IsZero())

	count := 0
	for _, ev := range res.Events {
		if ev.Code == g.Rework {
			count++
		}
	}
	assert.Equal(t, 1, count)
	checkSequence(t, &g, res.Events, false)
}

func TestGenerateFullEmptyWindow(t *testing.T) {
	eng := testEngine(t, nil)
	graphs := testGraphs(t)
	g := graphs["BOF"]
	at := time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC)

	_, err := eng.GenerateFull(testOp(), "BOF", &g, domain.Interval{Start: at, End: at}, rand.New(rand.NewSource(1)))
	require.Error(t, err)
}

func TestGeneratePartialThenFinalize(t *testing.T) {
	eng := testEngine(t, func(c *config.Config) { c.CancelPerStep = 0 })
	graphs := testGraphs(t)
	g := graphs["BOF"]

	start := time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC)
	now := start.Add(20 * time.Minute)
	op := testOp()
	op.ActualStart = start

	rng := rand.New(rand.NewSource(11))
	partial, err := eng.GeneratePartial(op, "BOF", &g, now, 0.5, rng)
	require.NoError(t, err)
	require.NotNil(t, partial.State)
	assert.Equal(t, PhaseMiddle, partial.State.Phase)

	// Partial output carries the full prologue and never the epilogue.
	for i, code := range g.Prologue {
		assert.Equal(t, code, partial.Events[i].Code)
	}
	epi := make(map[string]bool, len(g.Epilogue))
	for _, code := range g.Epilogue {
		epi[code] = true
	}
	for _, ev := range partial.Events {
		assert.False(t, epi[ev.Code])
		assert.False(t, ev.TimeStart.Before(start))
		assert.False(t, ev.TimeStart.After(now))
	}

	completion := start.Add(40 * time.Minute)
	final, err := eng.FinalizeOnCompletion(op, partial.State, &g, completion, rng)
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, partial.State.Phase)

	all := append(append([]domain.EventRecord{}, partial.Events...), final.Events...)
	checkSequence(t, &g, all, false)
	assert.True(t, all[len(all)-1].TimeStart.Before(completion.Add(time.Second)))
}

func TestActivateEmitsPrologue(t *testing.T) {
	eng := testEngine(t, nil)
	graphs := testGraphs(t)
	g := graphs["CCM"]
	now := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

	op := testOp()
	op.ProcCode = "G16"
	op.DeviceNo = "G160"
	res, err := eng.Activate(op, "CCM", &g, now, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	require.NotNil(t, res.State)
	require.Len(t, res.Events, len(g.Prologue))
	for i, code := range g.Prologue {
		assert.Equal(t, code, res.Events[i].Code)
		assert.True(t, res.Events[i].TimeStart.Equal(now))
	}
	assert.Equal(t, len(g.Prologue), res.State.Ordinal)
	assert.Equal(t, PhaseMiddle, res.State.Phase)
}

func TestAdvanceOnTickSpacing(t *testing.T) {
	eng := testEngine(t, func(c *config.Config) { c.EventProbabilityTick = 1 })
	graphs := testGraphs(t)
	g := graphs["BOF"]
	now := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

	op := testOp()
	rng := rand.New(rand.NewSource(2))
	res, err := eng.Activate(op, "BOF", &g, now, rng)
	require.NoError(t, err)
	st := res.State

	// Within the minimum spacing nothing is emitted.
	tick, err := eng.AdvanceOnTick(op, st, &g, now.Add(2*time.Second), rng)
	require.NoError(t, err)
	assert.Empty(t, tick.Events)

	// Past the spacing the engine may emit again.
	emitted := 0
	at := now
	for i := 0; i < 40 && !st.Terminal(); i++ {
		at = at.Add(time.Minute)
		tick, err = eng.AdvanceOnTick(op, st, &g, at, rng)
		require.NoError(t, err)
		emitted += len(tick.Events)
	}
	assert.Greater(t, emitted, 0)
}

func TestAdvanceOnTickRealtimeCap(t *testing.T) {
	eng := testEngine(t, func(c *config.Config) {
		c.EventProbabilityTick = 1
		c.MaxRealtimeEvents = 5
		c.CancelPerStep = 0
	})
	graphs := testGraphs(t)
	g := graphs["BOF"]
	now := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

	op := testOp()
	rng := rand.New(rand.NewSource(9))
	res, err := eng.Activate(op, "BOF", &g, now, rng)
	require.NoError(t, err)
	st := res.State

	total := len(res.Events)
	at := now
	for i := 0; i < 100; i++ {
		at = at.Add(time.Minute)
		tick, err := eng.AdvanceOnTick(op, st, &g, at, rng)
		require.NoError(t, err)
		total += len(tick.Events)
	}
	assert.LessOrEqual(t, total, 5)

	// Completion still closes the sequence past the cap.
	final, err := eng.FinalizeOnCompletion(op, st, &g, at.Add(time.Minute), rng)
	require.NoError(t, err)
	assert.NotEmpty(t, final.Events)
	assert.Equal(t, PhaseDone, st.Phase)
}

func TestAdvanceOnTickCancel(t *testing.T) {
	eng := testEngine(t, func(c *config.Config) {
		c.EventProbabilityTick = 1
		c.CancelPerStep = 1
		c.MinEventSpacing = 0
	})
	graphs := testGraphs(t)
	g := graphs["BOF"]
	now := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

	op := testOp()
	rng := rand.New(rand.NewSource(4))
	res, err := eng.Activate(op, "BOF", &g, now, rng)
	require.NoError(t, err)
	st := res.State

	tick, err := eng.AdvanceOnTick(op, st, &g, now.Add(time.Minute), rng)
	require.NoError(t, err)
	require.True(t, tick.Canceled)
	require.NotEmpty(t, tick.Events)
	assert.Equal(t, g.Cancel, tick.Events[len(tick.Events)-1].Code)
	assert.Equal(t, PhaseCanceled, st.Phase)

	// A canceled state emits nothing further.
	later, err := eng.AdvanceOnTick(op, st, &g, now.Add(2*time.Minute), rng)
	require.NoError(t, err)
	assert.Empty(t, later.Events)
}

func TestFinalizeIdempotentOnTerminalState(t *testing.T) {
	eng := testEngine(t, nil)
	graphs := testGraphs(t)
	g := graphs["BOF"]
	now := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

	op := testOp()
	rng := rand.New(rand.NewSource(6))
	res, err := eng.Activate(op, "BOF", &g, now, rng)
	require.NoError(t, err)

	first, err := eng.FinalizeOnCompletion(op, res.State, &g, now.Add(30*time.Minute), rng)
	require.NoError(t, err)
	require.NotEmpty(t, first.Events)

	second, err := eng.FinalizeOnCompletion(op, res.State, &g, now.Add(31*time.Minute), rng)
	require.NoError(t, err)
	assert.Empty(t, second.Events)
}

func TestMiddleBudgetBounds(t *testing.T) {
	eng := testEngine(t, nil)
	graphs := testGraphs(t)
	cfg := config.Default()

	for _, stage := range []string{"BOF", "LF", "CCM"} {
		g := graphs[stage]
		fixed := len(g.Prologue) + len(g.Epilogue)
		rng := rand.New(rand.NewSource(1))
		for i := 0; i < 200; i++ {
			b := eng.middleBudget(&g, rng)
			assert.GreaterOrEqual(t, b+fixed, cfg.MinEventsPerOperation, stage)
			assert.LessOrEqual(t, b+fixed, cfg.MaxEventsPerOperation, stage)
		}
	}
}

func TestEmptyMiddlePoolSequences(t *testing.T) {
	eng := testEngine(t, func(c *config.Config) {
		c.EventProbabilityTick = 1
		c.CancelPerStep = 0
		c.ReworkPerStep = 0
	})
	g := testGraphs(t)["BOF"]
	g.Middle = nil
	g.Pairs = nil
	g.FollowUps = nil
	rng := rand.New(rand.NewSource(5))

	assert.Zero(t, eng.middleBudget(&g, rng))

	// Full generation yields exactly prologue + epilogue.
	op := testOp()
	start := time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC)
	window := domain.Interval{Start: start, End: start.Add(40 * time.Minute)}
	res, err := eng.GenerateFull(op, "BOF", &g, window, rng)
	require.NoError(t, err)
	require.Len(t, res.Events, len(g.Prologue)+len(g.Epilogue))
	checkSequence(t, &g, res.Events, false)

	// Realtime ticks never sample middles and finalize cleanly.
	act, err := eng.Activate(op, "BOF", &g, start, rng)
	require.NoError(t, err)
	st := act.State
	now := start
	for i := 0; i < 20; i++ {
		now = now.Add(time.Minute)
		tick, err := eng.AdvanceOnTick(op, st, &g, now, rng)
		require.NoError(t, err)
		assert.Empty(t, tick.Events)
	}
	assert.Equal(t, PhaseEpiloguePending, st.Phase)

	fin, err := eng.FinalizeOnCompletion(op, st, &g, now.Add(time.Minute), rng)
	require.NoError(t, err)
	assert.Len(t, fin.Events, len(g.Epilogue))
}

func TestMessagesRenderPerKind(t *testing.T) {
	m := NewMessageGenerator()
	rng := rand.New(rand.NewSource(1))
	for _, stage := range []string{"BOF", "LF", "CCM"} {
		for _, def := range Catalog(stage) {
			msg := m.Generate(def, rng)
			assert.NotEmpty(t, msg, "%s %s", stage, def.Code)
			assert.NotContains(t, msg, "%!", "bad verb in %s %s: %s", stage, def.Code, msg)
		}
	}
}

// Exercised indirectly everywhere else; this pins the error text shape.
func TestUnknownCodeError(t *testing.T) {
	eng := testEngine(t, nil)
	_, err := eng.buildRecords(testOp(), "BOF", []string{"G99999"}, []time.Time{time.Now()}, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.Equal(t, "stage BOF: code G99999 missing from catalog", fmt.Sprintf("%v", err))
}
