// Package config holds every tunable of the generator in one explicit
// structure with documented defaults. A YAML file can overlay any subset
// of fields; components receive the config by pointer and never consult
// hidden globals.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Stage describes one process type of the route and its device pool.
type Stage struct {
	// Name is the human label, e.g. "BOF", "LF", "CCM".
	Name string `yaml:"name"`
	// ProcCode is the process-type code persisted on rows, e.g. "G12".
	ProcCode string `yaml:"proc_code"`
	// Devices are the unit numbers of the pool, e.g. ["G120","G121","G122"].
	// The unit index is the trailing character; aligned routing matches it
	// across stages.
	Devices []string `yaml:"devices"`
}

// Config is the complete set of simulation parameters. The YAML file
// shape lives in fileConfig; this struct is what components consume.
type Config struct {
	// TickInterval is the wall-clock delay between simulation ticks.
	TickInterval time.Duration

	// NewHeatProbability is the per-tick chance of attempting a new heat.
	NewHeatProbability float64

	// Operation duration bounds; the target duration of an activation is
	// drawn uniformly from this range.
	MinOperationDuration time.Duration
	MaxOperationDuration time.Duration

	// Transfer gap between consecutive stages of the same heat.
	// The lower bound is hard in every mode; the upper bound is enforced
	// only when planning.
	MinTransferGap time.Duration
	MaxTransferGap time.Duration

	// Rest between consecutive operations on the same device.
	// The lower bound is hard in every mode; the upper bound is enforced
	// only when planning.
	MinRest time.Duration
	MaxRest time.Duration

	// SearchHorizon bounds how far past the earliest start the scheduler
	// scans before reporting no slot.
	SearchHorizon time.Duration

	// AlignedRouteProbability biases device choice toward the unit whose
	// index matches the heat's first-stage device.
	AlignedRouteProbability float64

	// Event sequence generation.
	MinEventsPerOperation int
	MaxEventsPerOperation int
	MaxRealtimeEvents     int
	EventProbabilityTick  float64
	MinEventSpacing       time.Duration

	// Special-event probabilities, drawn before each middle-sampling step.
	CancelPerStep float64
	ReworkPerStep float64

	// Warnings.
	MaxWarningsPerOperation int
	WarningProbabilityTick  float64
	SeedWarningProbability  float64

	// Demo seeding volume.
	SeedPastHeats   int
	SeedFutureHeats int

	// Route and pools.
	Stages []Stage
	Crews  []string
	Grades []string
}

// Default returns the documented default configuration: a three-stage
// furnace -> refining -> casting route with three units per stage.
func Default() *Config {
	return &Config{
		TickInterval:       2 * time.Second,
		NewHeatProbability: 0.3,

		MinOperationDuration: 30 * time.Minute,
		MaxOperationDuration: 50 * time.Minute,

		MinTransferGap: 20 * time.Minute,
		MaxTransferGap: 30 * time.Minute,

		MinRest: 3 * time.Minute,
		MaxRest: 20 * time.Minute,

		SearchHorizon: 12 * time.Hour,

		AlignedRouteProbability: 0.9,

		MinEventsPerOperation: 14,
		MaxEventsPerOperation: 26,
		MaxRealtimeEvents:     15,
		EventProbabilityTick:  0.3,
		MinEventSpacing:       30 * time.Second,

		CancelPerStep: 0.003,
		ReworkPerStep: 0.005,

		MaxWarningsPerOperation: 10,
		WarningProbabilityTick:  0.2,
		SeedWarningProbability:  0.2,

		SeedPastHeats:   4,
		SeedFutureHeats: 4,

		Stages: []Stage{
			{Name: "BOF", ProcCode: "G12", Devices: []string{"G120", "G121", "G122"}},
			{Name: "LF", ProcCode: "G13", Devices: []string{"G130", "G131", "G132"}},
			{Name: "CCM", ProcCode: "G16", Devices: []string{"G160", "G161", "G162"}},
		},
		Crews:  []string{"A", "B", "C", "D"},
		Grades: []string{"Q235B", "Q355B", "SPHC", "HRB400E", "65Mn", "20CrMnTi"},
	}
}

// fileConfig mirrors Config for the YAML overlay. Durations are Go
// duration strings ("30m", "90s"); pointer fields distinguish "absent,
// keep the default" from an explicit zero.
type fileConfig struct {
	TickInterval       *string  `yaml:"tick_interval"`
	NewHeatProbability *float64 `yaml:"new_heat_probability"`

	MinOperationDuration *string `yaml:"min_operation_duration"`
	MaxOperationDuration *string `yaml:"max_operation_duration"`
	MinTransferGap       *string `yaml:"min_transfer_gap"`
	MaxTransferGap       *string `yaml:"max_transfer_gap"`
	MinRest              *string `yaml:"min_rest"`
	MaxRest              *string `yaml:"max_rest"`
	SearchHorizon        *string `yaml:"search_horizon"`

	AlignedRouteProbability *float64 `yaml:"aligned_route_probability"`

	MinEventsPerOperation *int     `yaml:"min_events_per_operation"`
	MaxEventsPerOperation *int     `yaml:"max_events_per_operation"`
	MaxRealtimeEvents     *int     `yaml:"max_realtime_events"`
	EventProbabilityTick  *float64 `yaml:"event_probability_per_tick"`
	MinEventSpacing       *string  `yaml:"min_event_spacing"`

	CancelPerStep *float64 `yaml:"cancel_per_step"`
	ReworkPerStep *float64 `yaml:"rework_per_step"`

	MaxWarningsPerOperation *int     `yaml:"max_warnings_per_operation"`
	WarningProbabilityTick  *float64 `yaml:"warning_probability_per_tick"`
	SeedWarningProbability  *float64 `yaml:"seed_warning_probability"`

	SeedPastHeats   *int `yaml:"seed_past_heats"`
	SeedFutureHeats *int `yaml:"seed_future_heats"`

	Stages []Stage  `yaml:"stages"`
	Crews  []string `yaml:"crews"`
	Grades []string `yaml:"grades"`
}

// apply overlays the file values onto cfg.
func (f *fileConfig) apply(cfg *Config) error {
	setDur := func(dst *time.Duration, src *string, field string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		*dst = d
		return nil
	}
	for _, entry := range []struct {
		dst   *time.Duration
		src   *string
		field string
	}{
		{&cfg.TickInterval, f.TickInterval, "tick_interval"},
		{&cfg.MinOperationDuration, f.MinOperationDuration, "min_operation_duration"},
		{&cfg.MaxOperationDuration, f.MaxOperationDuration, "max_operation_duration"},
		{&cfg.MinTransferGap, f.MinTransferGap, "min_transfer_gap"},
		{&cfg.MaxTransferGap, f.MaxTransferGap, "max_transfer_gap"},
		{&cfg.MinRest, f.MinRest, "min_rest"},
		{&cfg.MaxRest, f.MaxRest, "max_rest"},
		{&cfg.SearchHorizon, f.SearchHorizon, "search_horizon"},
		{&cfg.MinEventSpacing, f.MinEventSpacing, "min_event_spacing"},
	} {
		if err := setDur(entry.dst, entry.src, entry.field); err != nil {
			return err
		}
	}

	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setFloat(&cfg.NewHeatProbability, f.NewHeatProbability)
	setFloat(&cfg.AlignedRouteProbability, f.AlignedRouteProbability)
	setFloat(&cfg.EventProbabilityTick, f.EventProbabilityTick)
	setFloat(&cfg.CancelPerStep, f.CancelPerStep)
	setFloat(&cfg.ReworkPerStep, f.ReworkPerStep)
	setFloat(&cfg.WarningProbabilityTick, f.WarningProbabilityTick)
	setFloat(&cfg.SeedWarningProbability, f.SeedWarningProbability)

	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setInt(&cfg.MinEventsPerOperation, f.MinEventsPerOperation)
	setInt(&cfg.MaxEventsPerOperation, f.MaxEventsPerOperation)
	setInt(&cfg.MaxRealtimeEvents, f.MaxRealtimeEvents)
	setInt(&cfg.MaxWarningsPerOperation, f.MaxWarningsPerOperation)
	setInt(&cfg.SeedPastHeats, f.SeedPastHeats)
	setInt(&cfg.SeedFutureHeats, f.SeedFutureHeats)

	if f.Stages != nil {
		cfg.Stages = f.Stages
	}
	if f.Crews != nil {
		cfg.Crews = f.Crews
	}
	if f.Grades != nil {
		cfg.Grades = f.Grades
	}
	return nil
}

// Load returns the defaults overlaid with the YAML file at path.
// An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var file fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := file.apply(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks internal consistency. Violations are fatal at startup.
func (c *Config) Validate() error {
	if len(c.Stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}
	seen := make(map[string]bool, len(c.Stages))
	for i, st := range c.Stages {
		if st.ProcCode == "" {
			return fmt.Errorf("stage %d (%s): proc_code is required", i, st.Name)
		}
		if seen[st.ProcCode] {
			return fmt.Errorf("duplicate proc_code %s", st.ProcCode)
		}
		seen[st.ProcCode] = true
		if len(st.Devices) == 0 {
			return fmt.Errorf("stage %s: device pool is empty", st.Name)
		}
	}
	if c.MinOperationDuration <= 0 || c.MaxOperationDuration < c.MinOperationDuration {
		return fmt.Errorf("operation duration bounds invalid: [%v, %v]", c.MinOperationDuration, c.MaxOperationDuration)
	}
	if c.MinTransferGap < 0 || c.MaxTransferGap < c.MinTransferGap {
		return fmt.Errorf("transfer gap bounds invalid: [%v, %v]", c.MinTransferGap, c.MaxTransferGap)
	}
	if c.MinRest < 0 || c.MaxRest < c.MinRest {
		return fmt.Errorf("rest bounds invalid: [%v, %v]", c.MinRest, c.MaxRest)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}
	if c.SearchHorizon <= 0 {
		return fmt.Errorf("search_horizon must be positive")
	}
	if c.MinEventSpacing < 0 {
		return fmt.Errorf("min_event_spacing must not be negative")
	}
	if c.MaxRealtimeEvents < 0 {
		return fmt.Errorf("max_realtime_events must not be negative")
	}
	for name, p := range map[string]float64{
		"new_heat_probability":         c.NewHeatProbability,
		"aligned_route_probability":    c.AlignedRouteProbability,
		"event_probability_per_tick":   c.EventProbabilityTick,
		"cancel_per_step":              c.CancelPerStep,
		"rework_per_step":              c.ReworkPerStep,
		"warning_probability_per_tick": c.WarningProbabilityTick,
		"seed_warning_probability":     c.SeedWarningProbability,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, p)
		}
	}
	if c.MinEventsPerOperation < 0 || c.MaxEventsPerOperation < c.MinEventsPerOperation {
		return fmt.Errorf("events per operation bounds invalid: [%d, %d]", c.MinEventsPerOperation, c.MaxEventsPerOperation)
	}
	if len(c.Crews) == 0 {
		return fmt.Errorf("at least one crew is required")
	}
	if len(c.Grades) == 0 {
		return fmt.Errorf("at least one steel grade is required")
	}
	return nil
}

// StageByProc returns the stage with the given process code, or nil.
func (c *Config) StageByProc(procCode string) *Stage {
	for i := range c.Stages {
		if c.Stages[i].ProcCode == procCode {
			return &c.Stages[i]
		}
	}
	return nil
}

// StageIndex returns the route position of the process code, or -1.
func (c *Config) StageIndex(procCode string) int {
	for i := range c.Stages {
		if c.Stages[i].ProcCode == procCode {
			return i
		}
	}
	return -1
}

// AlignedDevice returns the device of the target stage whose unit index
// (trailing character) matches srcDevice, or "" when none matches.
func (c *Config) AlignedDevice(srcDevice string, target *Stage) string {
	if srcDevice == "" || target == nil {
		return ""
	}
	suffix := srcDevice[len(srcDevice)-1:]
	for _, dev := range target.Devices {
		if len(dev) > 0 && dev[len(dev)-1:] == suffix {
			return dev
		}
	}
	return ""
}
