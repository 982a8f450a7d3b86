// Package simulator provides the in-process simulated radiotherapy control
// unit the harness drives by default. The unguarded machine reproduces the
// classic unsafe behaviors of early beam-therapy controllers: mode switches
// that do not wait for hardware, a bounded setup counter whose wraparound
// disables dose validation, and field edits with no exclusion against an
// in-flight beam. The guarded variant closes those windows and is used for
// differential runs.
//
// The unguarded machine keeps its logical races (check-then-act windows, no
// exclusion between operations) but stores fields atomically, so the harness
// process stays clean under the race detector while the hazard windows stay
// open.
package simulator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"faultline/internal/target"
)

// Default simulated hardware timings and counter bound.
const (
	DefaultCounterModulus  = 256
	DefaultTurntableTravel = 500 * time.Millisecond
	DefaultKeystrokeDelay  = 100 * time.Millisecond
	DefaultBeamTime        = 500 * time.Millisecond

	// guardedMoveTimeout bounds how long the guarded machine waits for the
	// turntable before declaring a hardware fault.
	guardedMoveTimeout = 5 * time.Second
)

// Outcome tokens emitted by the machine. Composite outcomes join several
// markers in one token.
const (
	TokenSetupOK        = "SETUP_OK"
	TokenSetupRejected  = "SETUP_REJECTED"
	TokenSetupBypassed  = "SETUP_OK VALIDATION_BYPASSED"
	TokenModeOK         = "MODE_OK"
	TokenModeFault      = "MODE_HARDWARE_FAULT"
	TokenEditOK         = "EDIT_OK"
	TokenEditRace       = "EDIT_OK RACE_EDIT_DURING_FIRE"
	TokenSuccess        = "SUCCESS"
	TokenSafetyAbort    = "SAFETY_ABORT"
	TokenLethalOverdose = "LETHAL_OVERDOSE"
	TokenOverdose       = "OVERDOSE"
	TokenConflictFire   = "CONFLICT_CONCURRENT_FIRE"
	TokenHalted         = "CRITICAL_MACHINE_HALTED"
)

// Dose limits enforced by setup validation.
const (
	minDose = 1
	maxDose = 1000
)

// Beam mode / turntable position values.
const (
	posXRay int32 = iota
	posElectron
)

// Config parameterizes a Machine.
type Config struct {
	// Guarded selects the synchronized variant: operations take the state
	// lock, mode changes wait for the turntable, and unsafe fires abort.
	Guarded bool

	// CounterModulus bounds the setup counter. The unguarded machine wraps
	// at this value and skips dose validation whenever the counter sits at
	// zero after a wrap. Zero means DefaultCounterModulus.
	CounterModulus int

	// TurntableTravel, KeystrokeDelay and BeamTime scale the simulated
	// hardware timings. Zero means the package default. Tests shrink these
	// to keep hazard windows open without real-time waits.
	TurntableTravel time.Duration
	KeystrokeDelay  time.Duration
	BeamTime        time.Duration

	// Logger receives machine event logs. Nil discards them.
	Logger *logrus.Logger
}

// Machine simulates the control unit. It implements target.Client.
type Machine struct {
	guarded   bool
	modulus   int64
	travel    time.Duration
	keystroke time.Duration
	beamTime  time.Duration
	log       *logrus.Logger

	// Guarded mode serializes operations with this lock. The unguarded
	// machine never touches it.
	mu sync.Mutex

	mode            atomic.Int32
	dose            atomic.Int64
	posX            atomic.Int64
	posY            atomic.Int64
	counter         atomic.Int64
	turntablePos    atomic.Int32
	turntableMoving atomic.Bool
	editsInFlight   atomic.Int64
	firing          atomic.Bool
	halted          atomic.Bool
	wrapped         atomic.Bool
}

var _ target.Client = (*Machine)(nil)

// New constructs a machine from cfg, applying package defaults for zero
// fields.
func New(cfg Config) *Machine {
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	m := &Machine{
		guarded:   cfg.Guarded,
		modulus:   int64(cfg.CounterModulus),
		travel:    cfg.TurntableTravel,
		keystroke: cfg.KeystrokeDelay,
		beamTime:  cfg.BeamTime,
		log:       log,
	}
	if m.modulus <= 0 {
		m.modulus = DefaultCounterModulus
	}
	if m.travel <= 0 {
		m.travel = DefaultTurntableTravel
	}
	if m.keystroke <= 0 {
		m.keystroke = DefaultKeystrokeDelay
	}
	if m.beamTime <= 0 {
		m.beamTime = DefaultBeamTime
	}
	return m
}

// Factory returns a target.Factory producing machines with the given guard
// policy. Settings override the hardware timings and counter bound.
func Factory(guarded bool, logger *logrus.Logger) target.Factory {
	return func(s target.Settings) (target.Client, error) {
		return New(Config{
			Guarded:         guarded,
			CounterModulus:  s.CounterModulus,
			TurntableTravel: s.TurntableTravel,
			KeystrokeDelay:  s.KeystrokeDelay,
			BeamTime:        s.BeamTime,
			Logger:          logger,
		}), nil
	}
}

// Setup configures dose and table position, advancing the setup counter.
// The unguarded machine wraps the counter at its modulus and skips dose
// validation entirely when the post-increment counter is zero.
func (m *Machine) Setup(ctx context.Context, dose, x, y int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.halted.Load() {
		return TokenHalted, nil
	}
	if m.guarded {
		m.mu.Lock()
		defer m.mu.Unlock()
	}

	var c int64
	if m.guarded {
		c = m.counter.Add(1)
	} else {
		// Bounded register: wraps silently.
		c = m.counter.Add(1) % m.modulus
		m.counter.Store(c)
		if c == 0 {
			m.wrapped.Store(true)
			m.log.WithField("modulus", m.modulus).Error("setup counter wrapped; validation gate is dark")
		}
	}

	// Parameters land before validation runs. The machine keeps whatever it
	// was given even when it later rejects the setup.
	m.dose.Store(int64(dose))
	m.posX.Store(int64(x))
	m.posY.Store(int64(y))

	bypass := !m.guarded && c == 0
	if !bypass {
		if dose < minDose || dose > maxDose {
			m.log.WithFields(logrus.Fields{"dose": dose, "counter": c}).Warn("setup rejected: dose out of range")
			return TokenSetupRejected, nil
		}
	} else if dose < minDose || dose > maxDose {
		m.log.WithFields(logrus.Fields{"dose": dose}).Error("out-of-range dose accepted under wrapped counter")
		return TokenSetupBypassed, nil
	}

	m.log.WithFields(logrus.Fields{"dose": dose, "x": x, "y": y, "counter": c}).Debug("setup accepted")
	return TokenSetupOK, nil
}

// ChangeMode switches the beam mode and starts the turntable. The guarded
// machine waits for the hardware to settle; the unguarded machine returns
// immediately, leaving the mode and the physical position free to disagree.
func (m *Machine) ChangeMode(ctx context.Context, mode target.Mode) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.halted.Load() {
		return TokenHalted, nil
	}
	if m.guarded {
		m.mu.Lock()
		defer m.mu.Unlock()
	}

	want := posXRay
	if mode == target.ModeElectron {
		want = posElectron
	}
	old := m.mode.Swap(want)
	if old == want {
		return TokenModeOK, nil
	}

	m.turntableMoving.Store(true)
	done := make(chan struct{})
	go m.moveTurntable(want, done)

	if !m.guarded {
		m.log.WithField("mode", mode).Warn("mode changed without waiting for turntable")
		return TokenModeOK, nil
	}

	select {
	case <-done:
		return TokenModeOK, nil
	case <-time.After(guardedMoveTimeout):
		return TokenModeFault, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// moveTurntable simulates the hardware travel.
func (m *Machine) moveTurntable(pos int32, done chan struct{}) {
	time.Sleep(m.travel)
	m.turntablePos.Store(pos)
	m.turntableMoving.Store(false)
	close(done)
	m.log.WithField("position", posName(pos)).Debug("turntable settled")
}

// Edit rewrites one treatment field, simulating per-keystroke latency. The
// unguarded machine applies the edit even while the beam is live.
func (m *Machine) Edit(ctx context.Context, field string, value int) (string, error) {
	if m.halted.Load() {
		return TokenHalted, nil
	}
	if m.guarded {
		m.mu.Lock()
		defer m.mu.Unlock()
	}

	m.editsInFlight.Add(1)
	defer m.editsInFlight.Add(-1)

	if err := sleepCtx(ctx, m.keystroke); err != nil {
		return "", err
	}

	switch field {
	case target.FieldDose:
		m.dose.Store(int64(value))
	case target.FieldPositionX:
		m.posX.Store(int64(value))
	case target.FieldPositionY:
		m.posY.Store(int64(value))
	default:
		return "", fmt.Errorf("unknown field %q", field)
	}

	if !m.guarded && m.firing.Load() {
		m.log.WithField("field", field).Error("edit landed while beam was live")
		return TokenEditRace, nil
	}
	return TokenEditOK, nil
}

// Fire delivers the beam. The unguarded machine fires regardless of whether
// the turntable has settled; electron mode over an x-ray position is the
// lethal combination. The guarded machine aborts on any unsafe precondition.
func (m *Machine) Fire(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.halted.Load() {
		return TokenHalted, nil
	}
	if m.guarded {
		m.mu.Lock()
		defer m.mu.Unlock()
	}

	if m.firing.Swap(true) {
		return TokenConflictFire, nil
	}
	defer m.firing.Store(false)

	moving := m.turntableMoving.Load()
	mode := m.mode.Load()
	pos := m.turntablePos.Load()

	if moving {
		if m.guarded {
			m.log.Warn("fire refused: turntable in motion")
			return TokenSafetyAbort, nil
		}
		if mode == posElectron && pos == posXRay {
			m.log.Error("beam fired in electron mode without scattering target")
			return TokenLethalOverdose, nil
		}
	}

	if mode != pos {
		if m.guarded {
			m.log.Warn("fire refused: mode and hardware position disagree")
			return TokenSafetyAbort, nil
		}
		m.log.Error("beam fired with mode/hardware mismatch")
		return TokenOverdose, nil
	}

	doseBefore := m.dose.Load()
	if err := sleepCtx(ctx, m.beamTime); err != nil {
		return "", err
	}
	doseAfter := m.dose.Load()

	var marks []string
	if !m.guarded && m.editsInFlight.Load() > 0 {
		marks = append(marks, "RACE_EDIT_DURING_FIRE")
	}
	if doseAfter != doseBefore {
		marks = append(marks, "INCONSISTENT_DOSE")
	}

	if len(marks) > 0 {
		token := TokenSuccess + " " + strings.Join(marks, " ")
		m.log.WithField("token", token).Error("beam delivered with unstable parameters")
		return token, nil
	}

	m.log.WithFields(logrus.Fields{"mode": posName(mode), "dose": doseAfter}).Info("beam delivered")
	return TokenSuccess, nil
}

// CounterValue reads the setup counter.
func (m *Machine) CounterValue(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int(m.counter.Load()), nil
}

// Reset returns the machine to its power-on state.
func (m *Machine) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.guarded {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	m.mode.Store(posXRay)
	m.dose.Store(0)
	m.posX.Store(0)
	m.posY.Store(0)
	m.counter.Store(0)
	m.turntablePos.Store(posXRay)
	m.turntableMoving.Store(false)
	m.halted.Store(false)
	m.wrapped.Store(false)
	m.log.Info("machine reset")
	return nil
}

// Halt is the emergency stop: every subsequent operation reports a critical
// halt token until Reset.
func (m *Machine) Halt() {
	m.halted.Store(true)
	m.log.Error("emergency stop engaged")
}

// Status is a point-in-time snapshot for introspection endpoints. The fields
// are read independently, so a snapshot taken mid-operation can itself be
// inconsistent; that is faithful to the machine it models.
type Status struct {
	Mode            string `json:"mode"`
	Dose            int    `json:"dose"`
	PositionX       int    `json:"position_x"`
	PositionY       int    `json:"position_y"`
	SetupCounter    int    `json:"setup_counter"`
	TurntablePos    string `json:"turntable_position"`
	TurntableMoving bool   `json:"turntable_moving"`
	Firing          bool   `json:"firing"`
	Halted          bool   `json:"halted"`
	Wrapped         bool   `json:"counter_wrapped"`
	Guarded         bool   `json:"guarded"`
}

// Status reports the machine's current state.
func (m *Machine) Status() Status {
	return Status{
		Mode:            posName(m.mode.Load()),
		Dose:            int(m.dose.Load()),
		PositionX:       int(m.posX.Load()),
		PositionY:       int(m.posY.Load()),
		SetupCounter:    int(m.counter.Load()),
		TurntablePos:    posName(m.turntablePos.Load()),
		TurntableMoving: m.turntableMoving.Load(),
		Firing:          m.firing.Load(),
		Halted:          m.halted.Load(),
		Wrapped:         m.wrapped.Load(),
		Guarded:         m.guarded,
	}
}

func posName(p int32) string {
	if p == posElectron {
		return string(target.ModeElectron)
	}
	return string(target.ModeXRay)
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
