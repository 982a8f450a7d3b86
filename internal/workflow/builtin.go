package workflow

import (
	"time"

	"faultline/internal/target"
)

// Builtin returns the stock catalogue. The sequences model operator habits
// known to provoke distinct failure modes in the turntable-style machine:
// fast operators outrun the hardware, concurrent editors corrupt parameters
// mid-beam, mode thrashers catch the turntable between positions, and the
// careful baseline gives every movement time to settle.
func Builtin() *Catalogue {
	c, err := NewCatalogue(
		Descriptor{
			Name: "fast-experienced",
			Steps: []Step{
				{Op: OpSetup, Dose: 200, X: 5, Y: 5},
				{Op: OpChangeMode, Mode: target.ModeElectron},
				// No settle pause: fire lands while the turntable is
				// still traveling.
				{Op: OpFire},
			},
		},
		Descriptor{
			Name: "concurrent-edit",
			Steps: []Step{
				{Op: OpSetup, Dose: 150, X: 3, Y: 7},
				{Op: OpChangeMode, Mode: target.ModeElectron},
				{Op: OpPause, Pause: 600 * time.Millisecond},
				// Edit and fire race in the same group.
				{Op: OpEdit, Field: target.FieldDose, Value: 900, Group: 1},
				{Op: OpFire, Group: 1},
			},
		},
		Descriptor{
			Name: "mode-thrash",
			Steps: []Step{
				{Op: OpSetup, Dose: 100, X: 2, Y: 2},
				{Op: OpChangeMode, Mode: target.ModeElectron},
				{Op: OpChangeMode, Mode: target.ModeXRay},
				{Op: OpChangeMode, Mode: target.ModeElectron},
				{Op: OpFire},
			},
		},
		Descriptor{
			Name: "slow-careful",
			Steps: []Step{
				{Op: OpSetup, Dose: 120, X: 4, Y: 4},
				{Op: OpChangeMode, Mode: target.ModeElectron},
				{Op: OpPause, Pause: 800 * time.Millisecond},
				{Op: OpFire},
			},
		},
	)
	if err != nil {
		// The stock catalogue is defined above; a construction error here
		// is a programming mistake.
		panic(err)
	}
	return c
}
