// Package workflow defines the operation sequences a virtual user replays
// against a target machine. A catalogue maps virtual user IDs onto
// descriptors deterministically, so a run with the same profile always
// assigns the same workflow to the same user.
package workflow

import (
	"fmt"
	"time"

	"faultline/internal/target"
)

// OpKind names a single target operation within a step.
type OpKind string

const (
	OpSetup      OpKind = "setup"
	OpChangeMode OpKind = "change_mode"
	OpEdit       OpKind = "edit"
	OpFire       OpKind = "fire"
	OpPause      OpKind = "pause"
)

// Step is one operation in a workflow. Steps sharing a non-zero Group are
// launched together without synchronization between them; the executor only
// rejoins at the end of the group.
type Step struct {
	Op    OpKind        `yaml:"op" json:"op"`
	Mode  target.Mode   `yaml:"mode,omitempty" json:"mode,omitempty"`
	Field string        `yaml:"field,omitempty" json:"field,omitempty"`
	Value int           `yaml:"value,omitempty" json:"value,omitempty"`
	Dose  int           `yaml:"dose,omitempty" json:"dose,omitempty"`
	X     int           `yaml:"x,omitempty" json:"x,omitempty"`
	Y     int           `yaml:"y,omitempty" json:"y,omitempty"`
	Pause time.Duration `yaml:"pause,omitempty" json:"pause,omitempty"`
	Group int           `yaml:"group,omitempty" json:"group,omitempty"`
}

// Validate checks that the step carries the arguments its operation needs.
func (s Step) Validate() error {
	switch s.Op {
	case OpSetup:
		// Doses and coordinates are validated by the target, not here; a
		// workflow is allowed to request out-of-range values on purpose.
		return nil
	case OpChangeMode:
		if s.Mode != target.ModeXRay && s.Mode != target.ModeElectron {
			return fmt.Errorf("change_mode step: unknown mode %q", s.Mode)
		}
		return nil
	case OpEdit:
		if s.Field == "" {
			return fmt.Errorf("edit step: field is required")
		}
		return nil
	case OpFire:
		return nil
	case OpPause:
		if s.Pause <= 0 {
			return fmt.Errorf("pause step: duration must be positive")
		}
		return nil
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
}

// Descriptor is a named, ordered sequence of steps.
type Descriptor struct {
	Name  string `yaml:"name" json:"name"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Validate checks the descriptor and every step in it.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow has no name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", d.Name)
	}
	for i, s := range d.Steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("workflow %q step %d: %w", d.Name, i, err)
		}
	}
	return nil
}

// Catalogue is an ordered set of workflow descriptors.
type Catalogue struct {
	entries []Descriptor
	byName  map[string]int
}

// NewCatalogue builds a catalogue from the given descriptors. Order matters:
// it determines which workflow each virtual user ID maps to.
func NewCatalogue(entries ...Descriptor) (*Catalogue, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalogue must contain at least one workflow")
	}
	byName := make(map[string]int, len(entries))
	for i, d := range entries {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate workflow name %q", d.Name)
		}
		byName[d.Name] = i
	}
	return &Catalogue{entries: entries, byName: byName}, nil
}

// ForVU returns the workflow assigned to the given virtual user ID. The
// assignment is a plain modulus over the catalogue, so it is stable across
// runs and spreads users evenly over the workflows.
func (c *Catalogue) ForVU(id int) Descriptor {
	return c.entries[id%len(c.entries)]
}

// ByName looks up a workflow by name.
func (c *Catalogue) ByName(name string) (Descriptor, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return c.entries[i], true
}

// Names returns the workflow names in catalogue order.
func (c *Catalogue) Names() []string {
	names := make([]string, len(c.entries))
	for i, d := range c.entries {
		names[i] = d.Name
	}
	return names
}

// Len reports the number of workflows in the catalogue.
func (c *Catalogue) Len() int { return len(c.entries) }
