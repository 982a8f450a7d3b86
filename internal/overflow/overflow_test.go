package overflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"faultline/internal/metrics"
	"faultline/internal/target"
)

// counterClient models the setup-counter semantics of the target: the
// unguarded variant wraps at modulus and skips dose validation whenever the
// incremented counter lands on zero; the guarded variant never wraps.
type counterClient struct {
	modulus int
	guarded bool
	counter int

	failAfter int // fail the Nth setup when > 0
	setups    int
}

func (c *counterClient) Setup(ctx context.Context, dose, x, y int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.setups++
	if c.failAfter > 0 && c.setups > c.failAfter {
		return "", errors.New("target unreachable")
	}

	if c.guarded {
		c.counter++
	} else {
		c.counter = (c.counter + 1) % c.modulus
		if c.counter == 0 {
			return "SETUP_OK VALIDATION_BYPASSED", nil
		}
	}
	if dose < 1 || dose > 1000 {
		return "SETUP_REJECTED", nil
	}
	return "SETUP_OK", nil
}

func (c *counterClient) CounterValue(ctx context.Context) (int, error) { return c.counter, nil }

func (c *counterClient) ChangeMode(ctx context.Context, mode target.Mode) (string, error) {
	return "MODE_OK", nil
}
func (c *counterClient) Edit(ctx context.Context, field string, value int) (string, error) {
	return "EDIT_OK", nil
}
func (c *counterClient) Fire(ctx context.Context) (string, error) { return "SUCCESS", nil }
func (c *counterClient) Reset(ctx context.Context) error          { c.counter = 0; return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunWrapsAndDetectsBypass(t *testing.T) {
	c := &counterClient{modulus: 16}
	d := NewDriver(c, nil, discardLogger(), Config{Modulus: 16})

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Setups != 15 {
		t.Errorf("setups = %d, want 15 (modulus-1)", res.Setups)
	}
	if res.FinalCounter != 0 {
		t.Errorf("final counter = %d, want 0 after wrap", res.FinalCounter)
	}
	if !res.WraparoundObserved {
		t.Error("wraparound not observed")
	}
	if !res.BypassObserved {
		t.Error("validation bypass not observed")
	}
	if !strings.Contains(res.ProbeToken, "VALIDATION_BYPASSED") {
		t.Errorf("probe token = %q", res.ProbeToken)
	}
}

func TestRunShortOfWrap(t *testing.T) {
	c := &counterClient{modulus: 16}
	d := NewDriver(c, nil, discardLogger(), Config{Modulus: 16, Setups: 5})

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.FinalCounter != 6 {
		t.Errorf("final counter = %d, want 6", res.FinalCounter)
	}
	if res.WraparoundObserved {
		t.Error("wraparound observed in a drive that never wraps")
	}
	if res.BypassObserved {
		t.Error("bypass observed: out-of-range probe was accepted with the gate live")
	}
	if res.ProbeToken != "SETUP_REJECTED" {
		t.Errorf("probe token = %q, want SETUP_REJECTED", res.ProbeToken)
	}
}

func TestRunCapturesCriticalWindow(t *testing.T) {
	c := &counterClient{modulus: 16}
	d := NewDriver(c, nil, discardLogger(), Config{Modulus: 16, Window: 2})

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Drive counters run 1..15; with window 2 the captures are counter 1,
	// 14 and 15, plus the probe at 0.
	wantCounters := map[int]bool{1: true, 14: true, 15: true, 0: true}
	if len(res.CriticalPoints) != len(wantCounters) {
		t.Fatalf("critical points = %+v, want counters %v", res.CriticalPoints, wantCounters)
	}
	for _, cp := range res.CriticalPoints {
		if !wantCounters[cp.Counter] {
			t.Errorf("unexpected critical point at counter %d", cp.Counter)
		}
		if cp.Token == "" {
			t.Errorf("critical point at counter %d has no token", cp.Counter)
		}
	}
}

func TestRunGuardedTargetNeverWraps(t *testing.T) {
	c := &counterClient{modulus: 16, guarded: true}
	d := NewDriver(c, nil, discardLogger(), Config{Modulus: 16})

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.WraparoundObserved {
		t.Error("guarded counter wrapped")
	}
	if res.BypassObserved {
		t.Error("guarded target accepted an out-of-range probe")
	}
	if res.FinalCounter != 16 {
		t.Errorf("final counter = %d, want 16", res.FinalCounter)
	}
}

func TestRunClientErrorAborts(t *testing.T) {
	c := &counterClient{modulus: 16, failAfter: 4}
	d := NewDriver(c, nil, discardLogger(), Config{Modulus: 16})

	res, err := d.Run(context.Background())
	if err == nil {
		t.Fatal("expected error from failing client")
	}
	if res.Setups != 4 {
		t.Errorf("partial result setups = %d, want 4", res.Setups)
	}
}

func TestRunCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDriver(&counterClient{modulus: 16}, nil, discardLogger(), Config{Modulus: 16})
	if _, err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	agg := metrics.NewAggregator()
	d := NewDriver(&counterClient{modulus: 16}, agg, discardLogger(), Config{Modulus: 16, Setups: 5})

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := agg.Snapshot()
	// Five drive setups plus the probe.
	if snap.Iterations != 6 {
		t.Errorf("iterations = %d, want 6", snap.Iterations)
	}
}
