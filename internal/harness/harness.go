// Package harness orchestrates fault-injection runs: it owns the run
// lifecycle (pending → running → completed/failed/canceled), wires the
// target client, scheduler or overflow driver, aggregator, threshold
// evaluation and report together, and persists everything through the store.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"faultline/internal/engine"
	"faultline/internal/metrics"
	"faultline/internal/model"
	"faultline/internal/overflow"
	"faultline/internal/report"
	"faultline/internal/store"
	"faultline/internal/target"
	"faultline/internal/threshold"
	"faultline/internal/workflow"
)

// DefaultRunTimeout bounds a run when the spec does not.
const DefaultRunTimeout = 10 * time.Minute

// ErrNotActive is returned by Cancel when the run is not currently executing.
var ErrNotActive = errors.New("run is not active")

// Spec describes everything one run needs. It is assembled from a scenario
// by the config package or from an API request body.
type Spec struct {
	TestType string          `yaml:"test_type" json:"test_type"`
	Target   string          `yaml:"target" json:"target"`
	Settings target.Settings `yaml:"settings" json:"settings"`

	// Baseline, when set, names a second target driven with the same
	// profile; its thresholds assert the guarded build stays clean.
	Baseline           string                `yaml:"baseline,omitempty" json:"baseline,omitempty"`
	BaselineThresholds []threshold.Threshold `yaml:"baseline_thresholds,omitempty" json:"baseline_thresholds,omitempty"`

	// Workflows restricts the catalogue to the named workflows, in the
	// order given. Empty means the full catalogue.
	Workflows []string `yaml:"workflows,omitempty" json:"workflows,omitempty"`

	Stages   []engine.Stage        `yaml:"stages,omitempty" json:"stages,omitempty"`
	Executor engine.ExecutorConfig `yaml:"executor,omitempty" json:"executor,omitempty"`
	Grace    time.Duration         `yaml:"grace,omitempty" json:"grace,omitempty"`
	Seed     int64                 `yaml:"seed,omitempty" json:"seed,omitempty"`

	Thresholds []threshold.Threshold `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`

	Overflow overflow.Config `yaml:"overflow,omitempty" json:"overflow,omitempty"`

	// Timeout bounds the whole run. Zero means DefaultRunTimeout.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Validate checks the spec against the registry and catalogue. Errors here
// are configuration errors: the run is rejected before anything starts.
func (s Spec) Validate(reg *target.Registry, cat *workflow.Catalogue) error {
	switch s.TestType {
	case model.TestTypeConcurrency, model.TestTypeOverflow:
	default:
		return fmt.Errorf("unknown test type %q", s.TestType)
	}

	known := reg.List()
	if !slices.Contains(known, s.Target) {
		return fmt.Errorf("unknown target %q (have %v)", s.Target, known)
	}
	if s.Baseline != "" && !slices.Contains(known, s.Baseline) {
		return fmt.Errorf("unknown baseline target %q (have %v)", s.Baseline, known)
	}

	if s.TestType == model.TestTypeConcurrency {
		if len(s.Stages) == 0 {
			return fmt.Errorf("concurrency run needs at least one stage")
		}
		for i, st := range s.Stages {
			if st.Duration <= 0 {
				return fmt.Errorf("stage %d: duration must be positive", i)
			}
			if st.Target < 0 {
				return fmt.Errorf("stage %d: target concurrency must not be negative", i)
			}
		}
	}

	for _, name := range s.Workflows {
		if _, ok := cat.ByName(name); !ok {
			return fmt.Errorf("unknown workflow %q (have %v)", name, cat.Names())
		}
	}

	for _, th := range s.Thresholds {
		if err := th.Validate(); err != nil {
			return fmt.Errorf("threshold %s: %w", th, err)
		}
	}
	for _, th := range s.BaselineThresholds {
		if err := th.Validate(); err != nil {
			return fmt.Errorf("baseline threshold %s: %w", th, err)
		}
	}

	return nil
}

// catalogue resolves the spec's workflow subset against the full catalogue.
func (s Spec) catalogue(cat *workflow.Catalogue) (*workflow.Catalogue, error) {
	if len(s.Workflows) == 0 {
		return cat, nil
	}
	descs := make([]workflow.Descriptor, 0, len(s.Workflows))
	for _, name := range s.Workflows {
		d, ok := cat.ByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown workflow %q", name)
		}
		descs = append(descs, d)
	}
	return workflow.NewCatalogue(descs...)
}

// baselineThresholds defaults to requiring a clean baseline.
func (s Spec) baselineThresholds() []threshold.Threshold {
	if len(s.BaselineThresholds) > 0 {
		return s.BaselineThresholds
	}
	return []threshold.Threshold{{Metric: "violations.total", Op: threshold.OpEQ, Value: 0}}
}

// Harness executes runs asynchronously.
type Harness struct {
	store     store.Store
	registry  *target.Registry
	catalogue *workflow.Catalogue
	logger    *slog.Logger
	broker    *engine.Broker

	wg sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a harness.
func New(s store.Store, reg *target.Registry, cat *workflow.Catalogue, logger *slog.Logger) *Harness {
	return &Harness{
		store:     s,
		registry:  reg,
		catalogue: cat,
		logger:    logger,
		broker:    engine.NewBroker(),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Broker returns the harness's event broker for SSE subscription.
func (h *Harness) Broker() *engine.Broker {
	return h.broker
}

// Catalogue returns the full workflow catalogue.
func (h *Harness) Catalogue() *workflow.Catalogue {
	return h.catalogue
}

// Submit validates the spec, creates a pending run record, and launches
// asynchronous execution. The goroutine operates on a copy of the run to
// avoid data races with the caller.
func (h *Harness) Submit(ctx context.Context, spec Spec) (*model.Run, error) {
	if err := spec.Validate(h.registry, h.catalogue); err != nil {
		return nil, err
	}

	run := &model.Run{
		ID:        model.NewID(),
		Status:    model.StatusPending,
		TestType:  spec.TestType,
		Target:    spec.Target,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	runCopy := *run
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.execute(&runCopy, spec)
	}()

	return run, nil
}

// ActiveRuns reports how many runs are currently executing.
func (h *Harness) ActiveRuns() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cancels)
}

// Cancel requests cooperative cancellation of an executing run.
func (h *Harness) Cancel(id string) error {
	h.mu.Lock()
	cancel, ok := h.cancels[id]
	h.mu.Unlock()
	if !ok {
		return ErrNotActive
	}
	cancel()
	return nil
}

// Wait blocks until all in-flight run goroutines complete.
func (h *Harness) Wait() {
	h.wg.Wait()
}

// pipelineResult is what one target drive produces.
type pipelineResult struct {
	snap metrics.Snapshot
	ovf  *overflow.Result
}

// execute runs the lifecycle for one submitted run.
func (h *Harness) execute(run *model.Run, spec Spec) {
	runCtx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.cancels[run.ID] = cancel
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.cancels, run.ID)
		h.mu.Unlock()
		cancel()
	}()

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	ctx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	defer cancelTimeout()

	// Persist the event stream while it flows. The pump drains until the
	// topic closes, so every published event lands in the store.
	pumpDone := h.startEventPump(run.ID)
	defer func() {
		h.broker.Close(run.ID)
		<-pumpDone
	}()

	if err := h.store.UpdateRunStatus(context.Background(), run.ID, model.StatusRunning); err != nil {
		h.logger.Error("failed to transition to running", "run_id", run.ID, "error", err)
		h.finishFailed(run.ID, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}

	// Capture start time immediately after the running transition so that
	// started_at stays consistent across success, failure, and cancel paths.
	start := time.Now()

	cat, err := spec.catalogue(h.catalogue)
	if err != nil {
		h.finishFailed(run.ID, &start, fmt.Sprintf("resolve workflows: %v", err))
		return
	}

	var primary, baseline pipelineResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		primary, err = h.drive(gctx, run.ID, spec, spec.Target, cat, true)
		return err
	})
	if spec.Baseline != "" {
		g.Go(func() error {
			var err error
			baseline, err = h.drive(gctx, run.ID, spec, spec.Baseline, cat, false)
			return err
		})
	}
	err = g.Wait()

	finished := time.Now()
	durationMS := int(finished.Sub(start).Milliseconds())

	if err != nil {
		if runCtx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
			h.finishCanceled(run.ID, &start)
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			h.finishFailed(run.ID, &start, fmt.Sprintf("run timed out after %s", timeout))
			return
		}
		h.finishFailed(run.ID, &start, err.Error())
		return
	}

	eval := threshold.Evaluate(primary.snap, spec.Thresholds)
	summary := report.Build(run.ID, spec.TestType, spec.Target, cat.Names(),
		primary.snap, spec.Thresholds, eval, primary.ovf, start, finished)

	pass := eval.Pass
	if spec.Baseline != "" {
		bThresholds := spec.baselineThresholds()
		bEval := threshold.Evaluate(baseline.snap, bThresholds)
		bSummary := report.Build(run.ID, spec.TestType, spec.Baseline, cat.Names(),
			baseline.snap, bThresholds, bEval, baseline.ovf, start, finished)
		summary.Baseline = &bSummary
		pass = pass && bEval.Pass
	}
	summary.Pass = pass

	summaryJSON, err := summary.JSON()
	if err != nil {
		h.finishFailed(run.ID, &start, fmt.Sprintf("encode summary: %v", err))
		return
	}

	h.broker.Publish(run.ID, engine.Event{
		Kind:    engine.EventFinished,
		Message: fmt.Sprintf("run finished: pass=%v iterations=%d violations=%d", pass, summary.Iterations, summary.VioTotal),
	})

	iterations := summary.Iterations
	vioTotal := summary.VioTotal
	completed := &model.Run{
		ID:         run.ID,
		Status:     model.StatusCompleted,
		Pass:       &pass,
		Iterations: &iterations,
		Violations: &vioTotal,
		Summary:    summaryJSON,
		DurationMS: &durationMS,
		StartedAt:  &start,
		FinishedAt: &finished,
	}
	if err := h.store.UpdateRun(context.Background(), completed); err != nil {
		h.logger.Error("failed to update completed run", "run_id", run.ID, "error", err)
	}

	h.logger.Info("run completed",
		"run_id", run.ID,
		"pass", pass,
		"iterations", iterations,
		"violations", vioTotal,
		"duration_ms", durationMS)
}

// drive resolves a client and pumps the spec's profile through it. Only the
// primary drive publishes events; the baseline runs quietly.
func (h *Harness) drive(ctx context.Context, runID string, spec Spec, targetName string, cat *workflow.Catalogue, primary bool) (pipelineResult, error) {
	client, err := h.registry.Resolve(targetName, spec.Settings)
	if err != nil {
		return pipelineResult{}, fmt.Errorf("resolve target: %w", err)
	}

	agg := metrics.NewAggregator()
	logger := h.logger.With("run_id", runID, "target", targetName)

	switch spec.TestType {
	case model.TestTypeOverflow:
		driver := overflow.NewDriver(client, agg, logger, spec.Overflow)
		res, err := driver.Run(ctx)
		if err != nil {
			return pipelineResult{}, err
		}
		return pipelineResult{snap: agg.Snapshot(), ovf: &res}, nil

	default:
		broker := h.broker
		topic := runID
		if !primary {
			// Baseline events stay off the run's public stream.
			broker = engine.NewBroker()
			topic = runID + ":baseline"
		}
		sched := engine.NewScheduler(
			engine.NewExecutor(client, spec.Executor),
			cat, agg, broker, topic, logger,
			engine.SchedulerConfig{
				Stages:      spec.Stages,
				GracePeriod: spec.Grace,
				Seed:        spec.Seed,
			},
		)
		if err := sched.Run(ctx); err != nil {
			return pipelineResult{}, err
		}
		return pipelineResult{snap: agg.Snapshot()}, nil
	}
}

// startEventPump subscribes to the run's event stream and persists every
// event. The returned channel closes once the stream ends.
func (h *Harness) startEventPump(runID string) <-chan struct{} {
	ch, _ := h.broker.Subscribe(runID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		seq := 0
		for ev := range ch {
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to encode event", "run_id", runID, "error", err)
				continue
			}
			if err := h.store.InsertEvent(context.Background(), runID, seq, string(payload)); err != nil {
				h.logger.Error("failed to persist event", "run_id", runID, "seq", seq, "error", err)
			}
			seq++
		}
	}()
	return done
}

// finishFailed marks a run as failed with the given error message.
// startedAt may be nil if execution never started.
func (h *Harness) finishFailed(id string, startedAt *time.Time, errMsg string) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(time.Since(*startedAt).Milliseconds())
	}

	r := &model.Run{
		ID:         id,
		Status:     model.StatusFailed,
		Error:      errMsg,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}
	if err := h.store.UpdateRun(context.Background(), r); err != nil {
		h.logger.Error("failed to update failed run", "run_id", id, "error", err)
	}
}

// finishCanceled marks a run as canceled.
func (h *Harness) finishCanceled(id string, startedAt *time.Time) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(time.Since(*startedAt).Milliseconds())
	}

	r := &model.Run{
		ID:         id,
		Status:     model.StatusCanceled,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}
	if err := h.store.UpdateRun(context.Background(), r); err != nil {
		h.logger.Error("failed to update canceled run", "run_id", id, "error", err)
	}
}
