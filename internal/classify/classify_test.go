package classify

import (
	"testing"

	"faultline/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		token string
		want  []model.Violation
	}{
		{"LETHAL_OVERDOSE", []model.Violation{model.ViolationLethal, model.ViolationOverdose}},
		{"OVERDOSE", []model.Violation{model.ViolationOverdose}},
		{"SUCCESS", nil},
		{"SAFETY_ABORT", nil},
		{"SETUP_OK", nil},
		{"", nil},
		{"garbage \x00\xff token", nil},
		{"SUCCESS RACE_EDIT_DURING_FIRE INCONSISTENT_DOSE", []model.Violation{model.ViolationInconsistent, model.ViolationRace}},
		{"CONFLICT_CONCURRENT_FIRE", []model.Violation{model.ViolationConflict}},
		{"CRITICAL_MACHINE_HALTED", []model.Violation{model.ViolationCriticalError}},
		{"harness ERROR: operation timed out", []model.Violation{model.ViolationError}},
		{"TIMEOUT", []model.Violation{model.ViolationError}},
		{"prefix LETHAL suffix", []model.Violation{model.ViolationLethal}},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got := Classify(tt.token)
			if len(got) != len(tt.want) {
				t.Fatalf("Classify(%q) = %v, want flags %v", tt.token, got.Sorted(), tt.want)
			}
			for _, v := range tt.want {
				if !got.Has(v) {
					t.Errorf("Classify(%q) missing %s", tt.token, v)
				}
			}
		})
	}
}

func TestClassifyUnknownTokenNeverPanics(t *testing.T) {
	tokens := []string{"", "\n\t", "ávíolatión", "lethal", "overdose"}
	for _, tok := range tokens {
		if got := Classify(tok); !got.Empty() {
			// Lowercase markers must not match: the contract is the target's
			// uppercase marker vocabulary.
			t.Errorf("Classify(%q) = %v, want clean", tok, got.Sorted())
		}
	}
}

func TestRunChecksCleanOutcome(t *testing.T) {
	o := model.Outcome{
		Token:      "SUCCESS",
		Status:     model.OutcomeOK,
		Violations: Classify("SUCCESS"),
	}
	for _, r := range RunChecks(o) {
		if !r.Passed {
			t.Errorf("check %s failed for clean outcome", r.Name)
		}
	}
}

func TestRunChecksLethalOutcome(t *testing.T) {
	o := model.Outcome{
		Token:      "LETHAL_OVERDOSE",
		Status:     model.OutcomeOK,
		Violations: Classify("LETHAL_OVERDOSE"),
	}

	byName := make(map[string]bool)
	for _, r := range RunChecks(o) {
		byName[r.Name] = r.Passed
	}

	if byName[CheckNoLethal] {
		t.Error("no_lethal_result should fail for LETHAL_OVERDOSE")
	}
	if byName[CheckNoOverdose] {
		t.Error("no_overdose should fail for LETHAL_OVERDOSE")
	}
	if !byName[CheckNoRace] {
		t.Error("no_race_detected should pass for LETHAL_OVERDOSE")
	}
	if !byName[CheckIterCompleted] {
		t.Error("iteration_completed should pass: the iteration ran to completion")
	}
}

func TestRunChecksHarnessError(t *testing.T) {
	o := model.Outcome{
		Token:      "ERROR: target unreachable",
		Status:     model.OutcomeError,
		Violations: Classify("ERROR: target unreachable"),
	}

	byName := make(map[string]bool)
	for _, r := range RunChecks(o) {
		byName[r.Name] = r.Passed
	}

	if byName[CheckIterCompleted] {
		t.Error("iteration_completed should fail for a harness error")
	}
	if !byName[CheckNoLethal] {
		t.Error("no_lethal_result should pass for a harness error")
	}
}

func TestCheckNamesStable(t *testing.T) {
	a := CheckNames()
	b := CheckNames()
	if len(a) == 0 {
		t.Fatal("battery is empty")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("CheckNames() order is not stable")
		}
	}
}
