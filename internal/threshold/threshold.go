// Package threshold turns an aggregated metrics snapshot into a run verdict.
// Evaluation is a pure function: the verdict is the conjunction over every
// threshold, and a threshold naming a metric the snapshot cannot resolve
// fails with a descriptive reason instead of crashing.
package threshold

import (
	"fmt"
	"math"

	"faultline/internal/metrics"
)

// Comparator names accepted in a threshold.
const (
	OpGT = ">"
	OpGE = ">="
	OpLT = "<"
	OpLE = "<="
	OpEQ = "=="
)

// floatTolerance absorbs float representation noise in equality rules without
// masking real differences; equality thresholds target integer-like counts.
const floatTolerance = 1e-12

// Threshold is one pass/fail rule over a named metric.
type Threshold struct {
	Metric string  `json:"metric" yaml:"metric"`
	Op     string  `json:"op" yaml:"op"`
	Value  float64 `json:"value" yaml:"value"`
}

// String renders the rule the way a human wrote it.
func (t Threshold) String() string {
	return fmt.Sprintf("%s %s %g", t.Metric, t.Op, t.Value)
}

// Validate reports whether the threshold is well-formed. Metric existence is
// checked against the harness's metric namespace so a rule referencing an
// unknown metric is rejected at startup, not discovered at evaluation time.
func (t Threshold) Validate() error {
	switch t.Op {
	case OpGT, OpGE, OpLT, OpLE, OpEQ:
	default:
		return fmt.Errorf("threshold %q: unknown comparator %q", t.Metric, t.Op)
	}
	if t.Metric == "" {
		return fmt.Errorf("threshold has no metric name")
	}
	if !metrics.KnownMetric(t.Metric) {
		return fmt.Errorf("threshold references unknown metric %q", t.Metric)
	}
	return nil
}

// Failure describes one violated threshold.
type Failure struct {
	Threshold Threshold `json:"threshold"`
	Actual    float64   `json:"actual"`
	Reason    string    `json:"reason"`
}

// Result is the outcome of evaluating a threshold set.
type Result struct {
	Pass     bool      `json:"pass"`
	Failures []Failure `json:"failures,omitempty"`
}

// Evaluate applies every threshold to the snapshot. The verdict passes only
// when all thresholds hold.
func Evaluate(s metrics.Snapshot, thresholds []Threshold) Result {
	res := Result{Pass: true}

	for _, t := range thresholds {
		actual, known := s.MetricValue(t.Metric)
		if !known {
			res.Pass = false
			res.Failures = append(res.Failures, Failure{
				Threshold: t,
				Reason:    fmt.Sprintf("metric %q is missing from the snapshot", t.Metric),
			})
			continue
		}

		if !compare(actual, t.Op, t.Value) {
			res.Pass = false
			res.Failures = append(res.Failures, Failure{
				Threshold: t,
				Actual:    actual,
				Reason:    fmt.Sprintf("%s: actual %g", t.String(), actual),
			})
		}
	}
	return res
}

func compare(actual float64, op string, want float64) bool {
	switch op {
	case OpGT:
		return actual > want
	case OpGE:
		return actual >= want
	case OpLT:
		return actual < want
	case OpLE:
		return actual <= want
	case OpEQ:
		return math.Abs(actual-want) <= floatTolerance
	default:
		return false
	}
}
