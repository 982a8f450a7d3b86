package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"faultline/internal/metrics"
	"faultline/internal/model"
	"faultline/internal/overflow"
	"faultline/internal/threshold"
)

func buildTestSummary(t *testing.T) Summary {
	t.Helper()

	agg := metrics.NewAggregator()
	for i := 0; i < 10; i++ {
		agg.RecordIteration()
		agg.RecordCheck("no_lethal_result", i < 9)
		agg.RecordDuration(50 * time.Millisecond)
	}
	agg.RecordViolation(model.ViolationLethal)
	snap := agg.Snapshot()

	thresholds := []threshold.Threshold{
		{Metric: "iterations.count", Op: threshold.OpGE, Value: 5},
		{Metric: "violations.lethal", Op: threshold.OpEQ, Value: 0},
	}
	eval := threshold.Evaluate(snap, thresholds)

	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return Build("01TEST", model.TestTypeConcurrency, "sim-unguarded",
		[]string{"fast-experienced"}, snap, thresholds, eval, nil,
		started, started.Add(time.Minute))
}

func TestBuildCarriesAggregates(t *testing.T) {
	s := buildTestSummary(t)

	if s.Pass {
		t.Error("a recorded lethal violation must fail the lethal threshold")
	}
	if s.Iterations != 10 {
		t.Errorf("iterations = %d, want 10", s.Iterations)
	}
	if s.Violations[model.ViolationLethal] != 1 {
		t.Errorf("lethal count = %d, want 1", s.Violations[model.ViolationLethal])
	}
	if s.Durations.Count != 10 {
		t.Errorf("duration samples = %d, want 10", s.Durations.Count)
	}
}

func TestBuildThresholdOutcomes(t *testing.T) {
	s := buildTestSummary(t)

	if len(s.Thresholds) != 2 {
		t.Fatalf("threshold outcomes = %d, want 2", len(s.Thresholds))
	}
	byName := map[string]ThresholdOutcome{}
	for _, to := range s.Thresholds {
		byName[to.Threshold] = to
	}

	iter, ok := byName["iterations.count >= 5"]
	if !ok {
		t.Fatalf("missing iterations outcome, have %+v", s.Thresholds)
	}
	if !iter.Passed || iter.Actual != 10 {
		t.Errorf("iterations outcome = %+v", iter)
	}

	lethal, ok := byName["violations.lethal == 0"]
	if !ok {
		t.Fatalf("missing lethal outcome, have %+v", s.Thresholds)
	}
	if lethal.Passed || lethal.Actual != 1 {
		t.Errorf("lethal outcome = %+v", lethal)
	}
}

func TestSummaryJSONRoundTrip(t *testing.T) {
	s := buildTestSummary(t)
	s.Overflow = &overflow.Result{
		Setups:             255,
		WraparoundObserved: true,
		BypassObserved:     true,
		ProbeToken:         "SETUP_OK VALIDATION_BYPASSED",
	}

	b, err := s.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var decoded Summary
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.RunID != "01TEST" || decoded.TestType != model.TestTypeConcurrency {
		t.Errorf("identity fields lost: %+v", decoded)
	}
	if decoded.Overflow == nil || !decoded.Overflow.BypassObserved {
		t.Error("overflow result lost in round trip")
	}
	if decoded.Checks["no_lethal_result"].Rate != 0.9 {
		t.Errorf("check rate = %v, want 0.9", decoded.Checks["no_lethal_result"].Rate)
	}
}

func TestWriteTo(t *testing.T) {
	var buf bytes.Buffer
	s := buildTestSummary(t)
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if buf.Len() == 0 || buf.Bytes()[buf.Len()-1] != '\n' {
		t.Error("output should end with a newline")
	}
}
