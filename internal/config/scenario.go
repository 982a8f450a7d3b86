package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"faultline/internal/engine"
	"faultline/internal/harness"
	"faultline/internal/overflow"
	"faultline/internal/target"
	"faultline/internal/threshold"
)

// Scenario is the YAML file schema for a run. Durations are written as Go
// duration strings ("30s", "500ms") and converted when the scenario is
// turned into a run spec.
type Scenario struct {
	TestType string           `yaml:"test_type" json:"test_type,omitempty"`
	Target   string           `yaml:"target" json:"target,omitempty"`
	Baseline string           `yaml:"baseline" json:"baseline,omitempty"`
	Settings ScenarioSettings `yaml:"settings" json:"settings,omitempty"`

	Workflows []string         `yaml:"workflows" json:"workflows,omitempty"`
	Stages    []ScenarioStage  `yaml:"stages" json:"stages,omitempty"`
	Executor  ScenarioExecutor `yaml:"executor" json:"executor,omitempty"`
	Grace     string           `yaml:"grace" json:"grace,omitempty"`
	Seed      int64            `yaml:"seed" json:"seed,omitempty"`

	Thresholds         []ScenarioThreshold `yaml:"thresholds" json:"thresholds,omitempty"`
	BaselineThresholds []ScenarioThreshold `yaml:"baseline_thresholds" json:"baseline_thresholds,omitempty"`

	Overflow overflow.Config `yaml:"overflow" json:"overflow,omitempty"`

	Timeout string `yaml:"timeout" json:"timeout,omitempty"`
}

// ScenarioSettings configures the target client.
type ScenarioSettings struct {
	URL             string `yaml:"url" json:"url,omitempty"`
	CounterModulus  int    `yaml:"counter_modulus" json:"counter_modulus,omitempty"`
	TurntableTravel string `yaml:"turntable_travel" json:"turntable_travel,omitempty"`
	KeystrokeDelay  string `yaml:"keystroke_delay" json:"keystroke_delay,omitempty"`
	BeamTime        string `yaml:"beam_time" json:"beam_time,omitempty"`
}

// ScenarioStage is one ramp stage.
type ScenarioStage struct {
	Duration string `yaml:"duration" json:"duration,omitempty"`
	Target   int    `yaml:"target" json:"target,omitempty"`
}

// ScenarioExecutor tunes iteration execution.
type ScenarioExecutor struct {
	OpTimeout string `yaml:"op_timeout" json:"op_timeout,omitempty"`
	DelayMin  string `yaml:"delay_min" json:"delay_min,omitempty"`
	DelayMax  string `yaml:"delay_max" json:"delay_max,omitempty"`
}

// ScenarioThreshold is one pass/fail criterion.
type ScenarioThreshold struct {
	Metric string  `yaml:"metric" json:"metric,omitempty"`
	Op     string  `yaml:"op" json:"op,omitempty"`
	Value  float64 `yaml:"value" json:"value,omitempty"`
}

// LoadScenario reads and parses a scenario file and converts it into a run
// spec. Any problem here is a configuration error: the caller should refuse
// to start.
func LoadScenario(path string) (harness.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return harness.Spec{}, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML. Unknown fields are rejected so typos
// fail loudly instead of silently dropping a threshold.
func ParseScenario(data []byte) (harness.Spec, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return harness.Spec{}, fmt.Errorf("parse scenario: %w", err)
	}
	return sc.Spec()
}

// Spec converts the scenario into a run spec, parsing every duration.
func (sc Scenario) Spec() (harness.Spec, error) {
	spec := harness.Spec{
		TestType:  sc.TestType,
		Target:    sc.Target,
		Baseline:  sc.Baseline,
		Workflows: sc.Workflows,
		Seed:      sc.Seed,
		Overflow:  sc.Overflow,
	}

	var err error
	if spec.Settings, err = sc.Settings.settings(); err != nil {
		return harness.Spec{}, err
	}

	for i, st := range sc.Stages {
		d, err := parseDuration("stage duration", st.Duration)
		if err != nil {
			return harness.Spec{}, fmt.Errorf("stage %d: %w", i, err)
		}
		spec.Stages = append(spec.Stages, engine.Stage{Duration: d, Target: st.Target})
	}

	if spec.Executor.OpTimeout, err = parseOptionalDuration("executor op_timeout", sc.Executor.OpTimeout); err != nil {
		return harness.Spec{}, err
	}
	if spec.Executor.DelayMin, err = parseOptionalDuration("executor delay_min", sc.Executor.DelayMin); err != nil {
		return harness.Spec{}, err
	}
	if spec.Executor.DelayMax, err = parseOptionalDuration("executor delay_max", sc.Executor.DelayMax); err != nil {
		return harness.Spec{}, err
	}
	if spec.Grace, err = parseOptionalDuration("grace", sc.Grace); err != nil {
		return harness.Spec{}, err
	}
	if spec.Timeout, err = parseOptionalDuration("timeout", sc.Timeout); err != nil {
		return harness.Spec{}, err
	}

	for _, t := range sc.Thresholds {
		spec.Thresholds = append(spec.Thresholds, threshold.Threshold{
			Metric: t.Metric, Op: t.Op, Value: t.Value,
		})
	}
	for _, t := range sc.BaselineThresholds {
		spec.BaselineThresholds = append(spec.BaselineThresholds, threshold.Threshold{
			Metric: t.Metric, Op: t.Op, Value: t.Value,
		})
	}

	return spec, nil
}

func (s ScenarioSettings) settings() (target.Settings, error) {
	out := target.Settings{
		URL:            s.URL,
		CounterModulus: s.CounterModulus,
	}
	var err error
	if out.TurntableTravel, err = parseOptionalDuration("settings turntable_travel", s.TurntableTravel); err != nil {
		return target.Settings{}, err
	}
	if out.KeystrokeDelay, err = parseOptionalDuration("settings keystroke_delay", s.KeystrokeDelay); err != nil {
		return target.Settings{}, err
	}
	if out.BeamTime, err = parseOptionalDuration("settings beam_time", s.BeamTime); err != nil {
		return target.Settings{}, err
	}
	return out, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func parseOptionalDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return parseDuration(field, s)
}
