package model

import (
	"encoding/json"
	"sort"
	"time"
)

// Run status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Test type constants.
const (
	TestTypeConcurrency = "concurrency"
	TestTypeOverflow    = "overflow"
)

// validTransitions maps each run status to the set of statuses it may
// transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:  true,
		StatusFailed:   true,
		StatusCanceled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCanceled:  true,
	},
}

// ValidTransition reports whether transitioning from one run status to
// another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Violation identifies one unsafe condition observed in an outcome.
type Violation string

// Recognized safety violations, from most to least severe.
const (
	ViolationLethal        Violation = "lethal"
	ViolationOverdose      Violation = "overdose"
	ViolationCriticalError Violation = "critical_error"
	ViolationInconsistent  Violation = "inconsistent"
	ViolationRace          Violation = "race"
	ViolationConflict      Violation = "conflict"
	ViolationError         Violation = "error"
)

// AllViolations lists every recognized violation flag in severity order.
var AllViolations = []Violation{
	ViolationLethal,
	ViolationOverdose,
	ViolationCriticalError,
	ViolationInconsistent,
	ViolationRace,
	ViolationConflict,
	ViolationError,
}

// ViolationSet is the set of violations classified from a single outcome.
type ViolationSet map[Violation]bool

// Has reports whether the set contains the given violation.
func (s ViolationSet) Has(v Violation) bool { return s[v] }

// Empty reports whether no violation was observed (a "clean" outcome).
func (s ViolationSet) Empty() bool { return len(s) == 0 }

// Add inserts a violation into the set.
func (s ViolationSet) Add(v Violation) { s[v] = true }

// Sorted returns the violations as a deterministically ordered slice.
func (s ViolationSet) Sorted() []Violation {
	out := make([]Violation, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as a sorted array for stable output.
func (s ViolationSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of violation names into the set.
func (s *ViolationSet) UnmarshalJSON(data []byte) error {
	var vs []Violation
	if err := json.Unmarshal(data, &vs); err != nil {
		return err
	}
	*s = make(ViolationSet, len(vs))
	for _, v := range vs {
		(*s)[v] = true
	}
	return nil
}

// Outcome status constants.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Outcome is the structured result of one workflow execution. The raw token
// comes from the target; the violation set and status are attached once at
// the execution-engine boundary so everything downstream consumes structure,
// not strings.
type Outcome struct {
	Workflow   string        `json:"workflow"`
	VU         int           `json:"vu"`
	Iteration  int           `json:"iteration"`
	Token      string        `json:"token"`
	Status     string        `json:"status"`
	Violations ViolationSet  `json:"violations"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
}

// CheckResult is one check's verdict for one outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// RunEvent is one persisted entry from a run's event stream.
type RunEvent struct {
	Seq     int    `json:"seq"`
	Payload string `json:"payload"`
}

// Run represents one harness run submitted for execution.
type Run struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	TestType   string     `json:"test_type"`
	Target     string     `json:"target"`
	Pass       *bool      `json:"pass,omitempty"`
	Iterations *uint64    `json:"iterations,omitempty"`
	Violations *uint64    `json:"violations,omitempty"`
	Summary    []byte     `json:"summary,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
