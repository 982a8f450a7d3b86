package target

import (
	"context"
	"time"
)

// Mode selects the target's beam mode.
type Mode string

// Beam modes.
const (
	ModeXRay     Mode = "xray"
	ModeElectron Mode = "electron"
)

// Editable field names accepted by Edit.
const (
	FieldDose      = "dose"
	FieldPositionX = "position_x"
	FieldPositionY = "position_y"
)

// Client is the only surface the harness uses to talk to the system under
// test. Every operation may block and must be called under a caller-supplied
// timeout context. The returned token is free-form; the classifier owns its
// interpretation.
//
// A single Client handle is shared by all virtual users and all concurrent
// sub-group tasks of a run with no exclusion. That sharing is deliberate:
// the unsynchronized target is the system under test.
type Client interface {
	// Setup configures a treatment and advances the target's internal setup
	// counter.
	Setup(ctx context.Context, dose, x, y int) (string, error)

	// ChangeMode switches the beam mode.
	ChangeMode(ctx context.Context, mode Mode) (string, error)

	// Edit modifies a single treatment field in place.
	Edit(ctx context.Context, field string, value int) (string, error)

	// Fire delivers the beam and reports what actually happened.
	Fire(ctx context.Context) (string, error)

	// CounterValue reads the target's internal setup counter. Read-only
	// introspection for the overflow driver.
	CounterValue(ctx context.Context) (int, error)

	// Reset returns the target to its initial state.
	Reset(ctx context.Context) error
}

// Settings carries implementation-specific construction parameters. A factory
// reads the fields it needs and ignores the rest.
type Settings struct {
	// URL is the base URL for remote targets.
	URL string

	// CounterModulus bounds the target's setup counter for simulated
	// targets. Zero means the implementation default (256).
	CounterModulus int

	// TurntableTravel is the simulated hardware movement time.
	TurntableTravel time.Duration

	// KeystrokeDelay is the simulated per-keystroke edit latency.
	KeystrokeDelay time.Duration

	// BeamTime is the simulated beam delivery duration.
	BeamTime time.Duration
}

// Factory constructs a fresh Client for one run.
type Factory func(Settings) (Client, error)
