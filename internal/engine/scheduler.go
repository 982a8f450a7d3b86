package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"faultline/internal/classify"
	"faultline/internal/metrics"
	"faultline/internal/model"
	"faultline/internal/workflow"
)

// DefaultGracePeriod bounds how long a stopping scheduler waits for in-flight
// iterations to finish.
const DefaultGracePeriod = 5 * time.Second

// Stage is one step of the concurrency ramp: hold Target virtual users for
// Duration, then move to the next stage.
type Stage struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
	Target   int           `yaml:"target" json:"target"`
}

// SchedulerConfig configures a run's ramp profile.
type SchedulerConfig struct {
	Stages []Stage
	// GracePeriod bounds the wait for in-flight iterations at shutdown.
	// Zero means DefaultGracePeriod.
	GracePeriod time.Duration
	// Seed feeds each virtual user's think-time generator. The per-user
	// seed is Seed plus the user ID, so two runs with the same seed draw
	// the same delays.
	Seed int64
}

// Scheduler ramps a pool of virtual user goroutines through the configured
// stages. Every user loops closed: it starts its next iteration only after
// the previous one returned. Users share the executor's single target client
// without coordination; the aggregator is where their results meet.
type Scheduler struct {
	exec      *Executor
	catalogue *workflow.Catalogue
	agg       *metrics.Aggregator
	broker    *Broker
	runID     string
	logger    *slog.Logger

	stages []Stage
	grace  time.Duration
	seed   int64

	active atomic.Int64
}

// NewScheduler builds a scheduler for one run.
func NewScheduler(exec *Executor, cat *workflow.Catalogue, agg *metrics.Aggregator, broker *Broker, runID string, logger *slog.Logger, cfg SchedulerConfig) *Scheduler {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Scheduler{
		exec:      exec,
		catalogue: cat,
		agg:       agg,
		broker:    broker,
		runID:     runID,
		logger:    logger,
		stages:    cfg.Stages,
		grace:     cfg.GracePeriod,
		seed:      cfg.Seed,
	}
}

// ActiveVUs reports the number of virtual users currently looping.
func (s *Scheduler) ActiveVUs() int {
	return int(s.active.Load())
}

type vuHandle struct {
	id   int
	stop chan struct{}
}

// Run executes the ramp profile and returns when every stage has elapsed and
// all users have retired, or when ctx is canceled. Cancellation is
// cooperative: users finish their current iteration, bounded by the grace
// period. The returned error is ctx.Err() when the run was canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	var (
		wg     sync.WaitGroup
		pool   []*vuHandle
		nextID int
	)

	retireAll := func() {
		for _, h := range pool {
			close(h.stop)
		}
		pool = nil
	}

	for i, st := range s.stages {
		// Grow toward the stage target; retire from the tail to shrink.
		for len(pool) < st.Target {
			h := &vuHandle{id: nextID, stop: make(chan struct{})}
			nextID++
			pool = append(pool, h)
			wg.Add(1)
			go s.vuLoop(ctx, h, &wg)
		}
		for len(pool) > st.Target {
			last := pool[len(pool)-1]
			close(last.stop)
			pool = pool[:len(pool)-1]
		}

		s.logger.Info("stage started",
			"run_id", s.runID,
			"stage", i,
			"target", st.Target,
			"duration", st.Duration)
		s.broker.Publish(s.runID, Event{
			Kind:    EventStage,
			Message: stageMessage(i, st),
		})

		if err := sleepCtx(ctx, st.Duration); err != nil {
			retireAll()
			s.waitWithGrace(&wg)
			return err
		}
	}

	retireAll()
	s.waitWithGrace(&wg)
	return ctx.Err()
}

// vuLoop is one virtual user: resolve the workflow once, then iterate until
// told to stop.
func (s *Scheduler) vuLoop(ctx context.Context, h *vuHandle, wg *sync.WaitGroup) {
	defer wg.Done()

	n := s.active.Add(1)
	metrics.SetActiveVUs(int(n))
	defer func() {
		metrics.SetActiveVUs(int(s.active.Add(-1)))
	}()

	desc := s.catalogue.ForVU(h.id)
	rng := rand.New(rand.NewSource(s.seed + int64(h.id)))

	for iteration := 0; ; iteration++ {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		default:
		}

		out := s.exec.Execute(ctx, desc, h.id, iteration, rng)
		s.record(out)
	}
}

// record feeds one outcome into the aggregator and the event stream.
func (s *Scheduler) record(out model.Outcome) {
	s.agg.RecordIteration()
	s.agg.RecordDuration(out.Duration)
	for _, cr := range classify.RunChecks(out) {
		s.agg.RecordCheck(cr.Name, cr.Passed)
	}
	for _, v := range out.Violations.Sorted() {
		s.agg.RecordViolation(v)
	}

	s.broker.Publish(s.runID, Event{
		Kind:       EventIteration,
		VU:         out.VU,
		Workflow:   out.Workflow,
		Token:      out.Token,
		Violations: out.Violations,
		Message:    out.Error,
	})
	if !out.Violations.Empty() {
		s.broker.Publish(s.runID, Event{
			Kind:       EventViolation,
			VU:         out.VU,
			Workflow:   out.Workflow,
			Token:      out.Token,
			Violations: out.Violations,
		})
		s.logger.Warn("violation observed",
			"run_id", s.runID,
			"vu", out.VU,
			"workflow", out.Workflow,
			"token", out.Token,
			"violations", out.Violations.Sorted())
	}
}

// waitWithGrace waits for the user goroutines, giving up after the grace
// period so a wedged target cannot hang shutdown.
func (s *Scheduler) waitWithGrace(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	t := time.NewTimer(s.grace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		s.logger.Warn("grace period expired with iterations still in flight",
			"run_id", s.runID,
			"active_vus", s.ActiveVUs())
	}
}

func stageMessage(i int, st Stage) string {
	return fmt.Sprintf("stage %d: %d vus for %s", i, st.Target, st.Duration)
}
