// Package classify turns raw outcome tokens into structured safety verdicts.
// Matching is deliberately permissive: a hazard marker anywhere in the token
// counts, because targets emit composite tokens with several markers joined
// in one string. Unknown or garbled tokens classify as clean, never as a
// classifier error.
package classify

import (
	"strings"

	"faultline/internal/model"
)

// markers maps each violation flag to the token substrings that raise it.
var markers = map[model.Violation][]string{
	model.ViolationLethal:        {"LETHAL"},
	model.ViolationOverdose:      {"OVERDOSE"},
	model.ViolationCriticalError: {"CRITICAL"},
	model.ViolationInconsistent:  {"INCONSISTENT"},
	model.ViolationRace:          {"RACE"},
	model.ViolationConflict:      {"CONFLICT"},
	model.ViolationError:         {"ERROR", "EXCEPTION", "TIMEOUT"},
}

// Classify maps a raw token to its violation set. A token with no recognized
// marker yields an empty set.
//
// LETHAL_OVERDOSE intentionally raises both the lethal and overdose flags.
func Classify(token string) model.ViolationSet {
	set := make(model.ViolationSet)
	for flag, subs := range markers {
		for _, sub := range subs {
			if strings.Contains(token, sub) {
				set.Add(flag)
				break
			}
		}
	}

	// LETHAL_OVERDOSE contains "OVERDOSE" already; nothing special needed.
	// SAFETY_ABORT matches no marker: a correct refusal is the safe outcome.
	return set
}

// Check names in the fixed battery.
const (
	CheckNoLethal      = "no_lethal_result"
	CheckNoOverdose    = "no_overdose"
	CheckNoRace        = "no_race_detected"
	CheckConsistent    = "state_consistent"
	CheckNoConflict    = "no_operation_conflict"
	CheckNoCritical    = "no_critical_fault"
	CheckIterCompleted = "iteration_completed"
)

// Check is one safety predicate evaluated against every outcome.
type Check struct {
	Name      string
	Predicate func(model.Outcome) bool
}

// battery is the fixed check set, evaluated in order for every iteration.
var battery = []Check{
	{CheckNoLethal, func(o model.Outcome) bool { return !o.Violations.Has(model.ViolationLethal) }},
	{CheckNoOverdose, func(o model.Outcome) bool { return !o.Violations.Has(model.ViolationOverdose) }},
	{CheckNoRace, func(o model.Outcome) bool { return !o.Violations.Has(model.ViolationRace) }},
	{CheckConsistent, func(o model.Outcome) bool { return !o.Violations.Has(model.ViolationInconsistent) }},
	{CheckNoConflict, func(o model.Outcome) bool { return !o.Violations.Has(model.ViolationConflict) }},
	{CheckNoCritical, func(o model.Outcome) bool { return !o.Violations.Has(model.ViolationCriticalError) }},
	{CheckIterCompleted, func(o model.Outcome) bool { return o.Status == model.OutcomeOK }},
}

// CheckNames returns the battery's check names in evaluation order.
func CheckNames() []string {
	names := make([]string, len(battery))
	for i, c := range battery {
		names[i] = c.Name
	}
	return names
}

// RunChecks evaluates the fixed battery against one outcome.
func RunChecks(o model.Outcome) []model.CheckResult {
	results := make([]model.CheckResult, len(battery))
	for i, c := range battery {
		results[i] = model.CheckResult{Name: c.Name, Passed: c.Predicate(o)}
	}
	return results
}
