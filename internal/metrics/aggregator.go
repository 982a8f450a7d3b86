// Package metrics accumulates per-iteration results across arbitrarily many
// concurrent virtual users. The aggregator is the one mandatory
// synchronization boundary in the harness: every VU loop writes through it,
// and it must stay correct no matter how its callers misbehave.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"faultline/internal/model"
)

// Histogram bounds: 1µs to 10 minutes, 3 significant figures.
const (
	histMin = int64(1)
	histMax = int64(10 * time.Minute / time.Microsecond)
	histSig = 3
)

type checkCounts struct {
	passes uint64
	total  uint64
}

// Aggregator is a thread-safe accumulator of iteration results. All mutation
// goes through its methods; Snapshot returns copies, never internal storage.
type Aggregator struct {
	mu         sync.Mutex
	hist       *hdrhistogram.Histogram
	checks     map[string]*checkCounts
	violations map[model.Violation]uint64
	iterations uint64
	vioTotal   uint64
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		hist:       hdrhistogram.New(histMin, histMax, histSig),
		checks:     make(map[string]*checkCounts),
		violations: make(map[model.Violation]uint64),
	}
}

// RecordIteration counts one completed workflow execution.
func (a *Aggregator) RecordIteration() {
	a.mu.Lock()
	a.iterations++
	a.mu.Unlock()
	iterationsTotal.Inc()
}

// RecordCheck records one check verdict.
func (a *Aggregator) RecordCheck(name string, passed bool) {
	a.mu.Lock()
	c, ok := a.checks[name]
	if !ok {
		c = &checkCounts{}
		a.checks[name] = c
	}
	c.total++
	if passed {
		c.passes++
	}
	a.mu.Unlock()

	checksTotal.WithLabelValues(name, passLabel(passed)).Inc()
}

// RecordViolation counts one observed violation flag.
func (a *Aggregator) RecordViolation(flag model.Violation) {
	a.mu.Lock()
	a.violations[flag]++
	a.vioTotal++
	a.mu.Unlock()

	violationsTotal.WithLabelValues(string(flag)).Inc()
}

// RecordDuration adds one iteration duration sample. Values outside the
// histogram's range are clamped rather than dropped so the sample count
// stays equal to the durations recorded.
func (a *Aggregator) RecordDuration(d time.Duration) {
	us := d.Microseconds()
	if us < histMin {
		us = histMin
	}
	if us > histMax {
		us = histMax
	}

	a.mu.Lock()
	a.hist.RecordValue(us)
	a.mu.Unlock()

	iterationDuration.Observe(d.Seconds())
}

// CheckStats is one check's aggregate in a snapshot.
type CheckStats struct {
	Passes uint64  `json:"passes"`
	Total  uint64  `json:"total"`
	Rate   float64 `json:"rate"`
}

// DurationStats is the latency distribution in a snapshot, milliseconds.
type DurationStats struct {
	Count int64   `json:"count"`
	P50   float64 `json:"p50_ms"`
	P90   float64 `json:"p90_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
	Mean  float64 `json:"mean_ms"`
}

// Snapshot is a point-in-time copy of the aggregates. It is immutable and
// safe to share; the threshold evaluator and reporter read it.
type Snapshot struct {
	Iterations uint64                     `json:"iterations"`
	Checks     map[string]CheckStats      `json:"checks"`
	Violations map[model.Violation]uint64 `json:"violations"`
	VioTotal   uint64                     `json:"violations_total"`
	Durations  DurationStats              `json:"durations"`
}

// Snapshot copies the current aggregates. Percentiles are computed here, over
// every sample recorded so far; the computation is deterministic for a given
// input sequence.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		Iterations: a.iterations,
		Checks:     make(map[string]CheckStats, len(a.checks)),
		Violations: make(map[model.Violation]uint64, len(a.violations)),
		VioTotal:   a.vioTotal,
	}
	for name, c := range a.checks {
		cs := CheckStats{Passes: c.passes, Total: c.total}
		if c.total > 0 {
			cs.Rate = float64(c.passes) / float64(c.total)
		}
		s.Checks[name] = cs
	}
	for flag, n := range a.violations {
		s.Violations[flag] = n
	}

	if n := a.hist.TotalCount(); n > 0 {
		s.Durations = DurationStats{
			Count: n,
			P50:   float64(a.hist.ValueAtQuantile(50)) / 1000.0,
			P90:   float64(a.hist.ValueAtQuantile(90)) / 1000.0,
			P95:   float64(a.hist.ValueAtQuantile(95)) / 1000.0,
			P99:   float64(a.hist.ValueAtQuantile(99)) / 1000.0,
			Max:   float64(a.hist.Max()) / 1000.0,
			Mean:  a.hist.Mean() / 1000.0,
		}
	}
	return s
}

// MetricValue resolves a dotted metric name against the snapshot. The second
// return is false when the metric does not exist or has no data yet, which
// the threshold evaluator turns into a described failure.
//
// Recognized names:
//
//	iterations.count
//	checks.rate                  overall pass rate across all checks
//	checks.<name>.rate
//	violations.total
//	violations.<flag>
//	duration.{p50,p90,p95,p99,max,mean}_ms
func (s Snapshot) MetricValue(name string) (float64, bool) {
	switch name {
	case "iterations.count":
		return float64(s.Iterations), true
	case "violations.total":
		return float64(s.VioTotal), true
	case "checks.rate":
		var passes, total uint64
		for _, c := range s.Checks {
			passes += c.Passes
			total += c.Total
		}
		if total == 0 {
			return 0, false
		}
		return float64(passes) / float64(total), true
	}

	if rest, ok := strings.CutPrefix(name, "checks."); ok {
		checkName, ok := strings.CutSuffix(rest, ".rate")
		if !ok {
			return 0, false
		}
		c, ok := s.Checks[checkName]
		if !ok || c.Total == 0 {
			return 0, false
		}
		return c.Rate, true
	}

	if flag, ok := strings.CutPrefix(name, "violations."); ok {
		// Unknown flags read as zero: "no such violation observed" is a
		// meaningful answer, unlike an unknown check.
		if !validFlag(model.Violation(flag)) {
			return 0, false
		}
		return float64(s.Violations[model.Violation(flag)]), true
	}

	if s.Durations.Count > 0 {
		switch name {
		case "duration.p50_ms":
			return s.Durations.P50, true
		case "duration.p90_ms":
			return s.Durations.P90, true
		case "duration.p95_ms":
			return s.Durations.P95, true
		case "duration.p99_ms":
			return s.Durations.P99, true
		case "duration.max_ms":
			return s.Durations.Max, true
		case "duration.mean_ms":
			return s.Durations.Mean, true
		}
	}

	return 0, false
}

// KnownMetric reports whether a metric name is syntactically resolvable,
// regardless of whether data exists yet. Used by scenario validation.
func KnownMetric(name string) bool {
	switch name {
	case "iterations.count", "checks.rate", "violations.total",
		"duration.p50_ms", "duration.p90_ms", "duration.p95_ms",
		"duration.p99_ms", "duration.max_ms", "duration.mean_ms":
		return true
	}
	if rest, ok := strings.CutPrefix(name, "checks."); ok {
		return strings.HasSuffix(rest, ".rate") && len(rest) > len(".rate")
	}
	if flag, ok := strings.CutPrefix(name, "violations."); ok {
		return validFlag(model.Violation(flag))
	}
	return false
}

func validFlag(v model.Violation) bool {
	for _, f := range model.AllViolations {
		if f == v {
			return true
		}
	}
	return false
}

func passLabel(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}

// String renders a compact one-line summary for logs.
func (s Snapshot) String() string {
	return fmt.Sprintf("iterations=%d violations=%d p95=%.1fms", s.Iterations, s.VioTotal, s.Durations.P95)
}
