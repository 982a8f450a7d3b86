package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"faultline/internal/model"
)

var (
	iterationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_iterations_total",
			Help: "Total workflow iterations executed across all runs.",
		},
	)

	checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_checks_total",
			Help: "Check evaluations by check name and verdict.",
		},
		[]string{"check", "verdict"},
	)

	violationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_violations_total",
			Help: "Safety violations observed, by flag.",
		},
		[]string{"flag"},
	)

	iterationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faultline_iteration_duration_seconds",
			Help:    "Workflow iteration duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	activeVUs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultline_active_vus",
			Help: "Number of currently running virtual users.",
		},
	)
)

func init() {
	prometheus.MustRegister(iterationsTotal)
	prometheus.MustRegister(checksTotal)
	prometheus.MustRegister(violationsTotal)
	prometheus.MustRegister(iterationDuration)
	prometheus.MustRegister(activeVUs)

	// Pre-initialize flag label combinations so they appear in /metrics
	// before the first violation is observed.
	for _, flag := range model.AllViolations {
		violationsTotal.WithLabelValues(string(flag))
	}
}

// SetActiveVUs exposes the scheduler's current VU count.
func SetActiveVUs(n int) {
	activeVUs.Set(float64(n))
}
