// Package report assembles the final verdict document for a run: the metric
// aggregates, the threshold evaluation, and for overflow runs the wrap
// analysis. The document is what the store persists and what the CLI and API
// hand back to callers.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"faultline/internal/metrics"
	"faultline/internal/model"
	"faultline/internal/overflow"
	"faultline/internal/threshold"
)

// ThresholdOutcome is one threshold's evaluation in the summary.
type ThresholdOutcome struct {
	Threshold string  `json:"threshold"`
	Passed    bool    `json:"passed"`
	Actual    float64 `json:"actual,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// Summary is the verdict document for one run.
type Summary struct {
	RunID      string    `json:"run_id"`
	TestType   string    `json:"test_type"`
	Target     string    `json:"target"`
	Workflows  []string  `json:"workflows,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Pass       bool      `json:"pass"`

	Iterations uint64                        `json:"iterations"`
	Checks     map[string]metrics.CheckStats `json:"checks"`
	Violations map[model.Violation]uint64    `json:"violations"`
	VioTotal   uint64                        `json:"violations_total"`
	Durations  metrics.DurationStats         `json:"durations"`

	Thresholds []ThresholdOutcome `json:"thresholds,omitempty"`
	Overflow   *overflow.Result   `json:"overflow,omitempty"`

	// Baseline holds the differential summary when the run also drove a
	// guarded target with the same profile.
	Baseline *Summary `json:"baseline,omitempty"`
}

// Build assembles a summary from the run's pieces. The overflow result may
// be nil for concurrency runs.
func Build(runID, testType, targetName string, workflows []string,
	snap metrics.Snapshot, thresholds []threshold.Threshold, eval threshold.Result,
	ovf *overflow.Result, started, finished time.Time) Summary {

	s := Summary{
		RunID:      runID,
		TestType:   testType,
		Target:     targetName,
		Workflows:  workflows,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Pass:       eval.Pass,
		Iterations: snap.Iterations,
		Checks:     snap.Checks,
		Violations: snap.Violations,
		VioTotal:   snap.VioTotal,
		Durations:  snap.Durations,
		Overflow:   ovf,
	}

	failures := make(map[string]threshold.Failure, len(eval.Failures))
	for _, f := range eval.Failures {
		failures[f.Threshold.String()] = f
	}
	for _, th := range thresholds {
		to := ThresholdOutcome{Threshold: th.String(), Passed: true}
		if f, failed := failures[th.String()]; failed {
			to.Passed = false
			to.Actual = f.Actual
			to.Reason = f.Reason
		} else if v, ok := snap.MetricValue(th.Metric); ok {
			to.Actual = v
		}
		s.Thresholds = append(s.Thresholds, to)
	}
	return s
}

// JSON renders the summary as indented JSON.
func (s Summary) JSON() ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	return b, nil
}

// WriteTo renders the summary to w, trailing newline included.
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	b, err := s.JSON()
	if err != nil {
		return 0, err
	}
	b = append(b, '\n')
	n, err := w.Write(b)
	return int64(n), err
}
