// Package overflow drives a target's setup counter through wraparound and
// probes whether validation survives the wrap. Unlike the concurrency
// engine, everything here is strictly sequential: the fault under test is
// arithmetic, not interleaving, and a serial drive makes the wrap point
// exactly attributable to one iteration.
package overflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"faultline/internal/classify"
	"faultline/internal/metrics"
	"faultline/internal/model"
	"faultline/internal/target"
)

// Defaults for the drive profile.
const (
	DefaultModulus   = 256
	DefaultWindow    = 8
	DefaultDose      = 100
	DefaultProbeDose = 25000
)

// Config tunes an overflow drive. Zero values fall back to the package
// defaults; Setups defaults to Modulus, one full wrap.
type Config struct {
	// Modulus is the value the target's setup counter wraps at.
	Modulus int `yaml:"modulus" json:"modulus"`
	// Setups is how many sequential setups to perform.
	Setups int `yaml:"setups" json:"setups"`
	// Window bounds how close to the wrap a counter reading must be for
	// its iteration to be captured as a critical point.
	Window int `yaml:"window" json:"window"`
	// Dose, X and Y are the in-range parameters used for the drive.
	Dose int `yaml:"dose" json:"dose"`
	X    int `yaml:"x" json:"x"`
	Y    int `yaml:"y" json:"y"`
	// ProbeDose is the out-of-range dose used for the post-wrap probe.
	ProbeDose int `yaml:"probe_dose" json:"probe_dose"`
}

func (c Config) withDefaults() Config {
	if c.Modulus <= 0 {
		c.Modulus = DefaultModulus
	}
	if c.Setups <= 0 {
		// One short of the modulus, so the probe itself is the setup that
		// wraps the counter.
		c.Setups = c.Modulus - 1
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Dose <= 0 {
		c.Dose = DefaultDose
	}
	if c.ProbeDose <= 0 {
		c.ProbeDose = DefaultProbeDose
	}
	return c
}

// CriticalPoint is one iteration captured near the counter wrap.
type CriticalPoint struct {
	Iteration int    `json:"iteration"`
	Counter   int    `json:"counter"`
	Token     string `json:"token"`
}

// Result summarizes an overflow drive.
type Result struct {
	Setups             int             `json:"setups"`
	FinalCounter       int             `json:"final_counter"`
	WraparoundObserved bool            `json:"wraparound_observed"`
	BypassObserved     bool            `json:"bypass_observed"`
	ProbeToken         string          `json:"probe_token,omitempty"`
	CriticalPoints     []CriticalPoint `json:"critical_points,omitempty"`
}

// Driver performs sequential overflow drives against one target client.
type Driver struct {
	client target.Client
	agg    *metrics.Aggregator
	logger *slog.Logger
	cfg    Config
}

// NewDriver builds a driver. The aggregator may be nil when the caller does
// not evaluate thresholds over the drive.
func NewDriver(client target.Client, agg *metrics.Aggregator, logger *slog.Logger, cfg Config) *Driver {
	return &Driver{
		client: client,
		agg:    agg,
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

// Run performs the drive: cfg.Setups in-range setups, reading the counter
// after each, then one out-of-range probe. Wraparound is observed when a
// counter reading is smaller than its predecessor; a bypass is observed when
// the probe's setup is accepted despite its dose. A client error aborts the
// drive and returns the result accumulated so far.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	res := Result{}
	prev := -1

	for i := 0; i < d.cfg.Setups; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		start := time.Now()
		token, err := d.client.Setup(ctx, d.cfg.Dose, d.cfg.X, d.cfg.Y)
		if err != nil {
			return res, fmt.Errorf("setup %d: %w", i, err)
		}
		counter, err := d.client.CounterValue(ctx)
		if err != nil {
			return res, fmt.Errorf("counter read after setup %d: %w", i, err)
		}
		d.record(token, time.Since(start))

		res.Setups++
		res.FinalCounter = counter
		if prev >= 0 && counter < prev {
			res.WraparoundObserved = true
			d.logger.Info("counter wrapped",
				"iteration", i,
				"counter", counter,
				"previous", prev)
		}
		prev = counter

		if d.nearWrap(counter) {
			res.CriticalPoints = append(res.CriticalPoints, CriticalPoint{
				Iteration: i,
				Counter:   counter,
				Token:     token,
			})
		}
	}

	return d.probe(ctx, res)
}

// probe issues one setup with an out-of-range dose. An accepted setup here
// means the counter-gated validation was skipped.
func (d *Driver) probe(ctx context.Context, res Result) (Result, error) {
	start := time.Now()
	token, err := d.client.Setup(ctx, d.cfg.ProbeDose, d.cfg.X, d.cfg.Y)
	if err != nil {
		return res, fmt.Errorf("probe setup: %w", err)
	}
	counter, err := d.client.CounterValue(ctx)
	if err != nil {
		return res, fmt.Errorf("counter read after probe: %w", err)
	}
	d.record(token, time.Since(start))

	res.ProbeToken = token
	if res.Setups > 0 && counter < res.FinalCounter {
		res.WraparoundObserved = true
	}
	res.FinalCounter = counter
	res.BypassObserved = strings.Contains(token, "SETUP_OK")
	res.CriticalPoints = append(res.CriticalPoints, CriticalPoint{
		Iteration: res.Setups,
		Counter:   counter,
		Token:     token,
	})
	if res.BypassObserved {
		d.logger.Warn("out-of-range setup accepted after wrap",
			"token", token,
			"counter", counter,
			"probe_dose", d.cfg.ProbeDose)
	}
	return res, nil
}

// nearWrap reports whether a counter reading falls inside the capture window
// on either side of the wrap point.
func (d *Driver) nearWrap(counter int) bool {
	return counter < d.cfg.Window || counter >= d.cfg.Modulus-d.cfg.Window
}

func (d *Driver) record(token string, dur time.Duration) {
	if d.agg == nil {
		return
	}
	d.agg.RecordIteration()
	d.agg.RecordDuration(dur)
	out := model.Outcome{Token: token, Status: model.OutcomeOK, Violations: classify.Classify(token)}
	for _, cr := range classify.RunChecks(out) {
		d.agg.RecordCheck(cr.Name, cr.Passed)
	}
	for _, v := range out.Violations.Sorted() {
		d.agg.RecordViolation(v)
	}
}
