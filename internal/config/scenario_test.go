package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"faultline/internal/model"
)

const sampleScenario = `
test_type: concurrency
target: sim-unguarded
baseline: sim-guarded
settings:
  counter_modulus: 256
  turntable_travel: 500ms
workflows:
  - fast-experienced
  - concurrent-edit
stages:
  - duration: 30s
    target: 5
  - duration: 1m
    target: 20
executor:
  op_timeout: 5s
  delay_min: 10ms
  delay_max: 100ms
grace: 3s
seed: 42
thresholds:
  - metric: checks.rate
    op: ">"
    value: 0.9
  - metric: violations.lethal
    op: "=="
    value: 0
timeout: 5m
`

func TestParseScenario(t *testing.T) {
	spec, err := ParseScenario([]byte(sampleScenario))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}

	if spec.TestType != model.TestTypeConcurrency {
		t.Errorf("TestType = %q", spec.TestType)
	}
	if spec.Target != "sim-unguarded" || spec.Baseline != "sim-guarded" {
		t.Errorf("targets = %q / %q", spec.Target, spec.Baseline)
	}
	if spec.Settings.CounterModulus != 256 {
		t.Errorf("CounterModulus = %d", spec.Settings.CounterModulus)
	}
	if spec.Settings.TurntableTravel != 500*time.Millisecond {
		t.Errorf("TurntableTravel = %v", spec.Settings.TurntableTravel)
	}
	if len(spec.Workflows) != 2 {
		t.Errorf("Workflows = %v", spec.Workflows)
	}
	if len(spec.Stages) != 2 {
		t.Fatalf("Stages = %+v", spec.Stages)
	}
	if spec.Stages[0].Duration != 30*time.Second || spec.Stages[0].Target != 5 {
		t.Errorf("stage 0 = %+v", spec.Stages[0])
	}
	if spec.Stages[1].Duration != time.Minute || spec.Stages[1].Target != 20 {
		t.Errorf("stage 1 = %+v", spec.Stages[1])
	}
	if spec.Executor.OpTimeout != 5*time.Second {
		t.Errorf("OpTimeout = %v", spec.Executor.OpTimeout)
	}
	if spec.Grace != 3*time.Second || spec.Timeout != 5*time.Minute {
		t.Errorf("grace = %v, timeout = %v", spec.Grace, spec.Timeout)
	}
	if spec.Seed != 42 {
		t.Errorf("Seed = %d", spec.Seed)
	}
	if len(spec.Thresholds) != 2 {
		t.Fatalf("Thresholds = %+v", spec.Thresholds)
	}
	if spec.Thresholds[0].Metric != "checks.rate" || spec.Thresholds[0].Op != ">" || spec.Thresholds[0].Value != 0.9 {
		t.Errorf("threshold 0 = %+v", spec.Thresholds[0])
	}
}

func TestParseScenarioOverflow(t *testing.T) {
	spec, err := ParseScenario([]byte(`
test_type: overflow
target: sim-unguarded
overflow:
  modulus: 256
  window: 4
  probe_dose: 20000
`))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	if spec.TestType != model.TestTypeOverflow {
		t.Errorf("TestType = %q", spec.TestType)
	}
	if spec.Overflow.Modulus != 256 || spec.Overflow.Window != 4 || spec.Overflow.ProbeDose != 20000 {
		t.Errorf("Overflow = %+v", spec.Overflow)
	}
}

func TestParseScenarioRejectsUnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
test_type: concurrency
target: sim-unguarded
tresholds:
  - metric: checks.rate
    op: ">"
    value: 0.9
`))
	if err == nil {
		t.Error("misspelled field should be rejected")
	}
}

func TestParseScenarioBadDuration(t *testing.T) {
	_, err := ParseScenario([]byte(`
test_type: concurrency
target: sim-unguarded
stages:
  - duration: thirty seconds
    target: 5
`))
	if err == nil {
		t.Error("unparseable duration should be rejected")
	}
}

func TestParseScenarioMissingStageDuration(t *testing.T) {
	_, err := ParseScenario([]byte(`
test_type: concurrency
target: sim-unguarded
stages:
  - target: 5
`))
	if err == nil {
		t.Error("stage without a duration should be rejected")
	}
}

func TestLoadScenarioFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(sampleScenario), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}

	spec, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if spec.Target != "sim-unguarded" {
		t.Errorf("Target = %q", spec.Target)
	}
}

func TestLoadScenarioMissingFile(t *testing.T) {
	if _, err := LoadScenario("/nonexistent/scenario.yaml"); err == nil {
		t.Error("missing file should be an error")
	}
}
