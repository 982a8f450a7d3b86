// Package engine drives virtual users through workflow iterations against a
// shared target client. The executor deliberately performs no locking around
// target operations: contention between users, and between racing steps
// inside one user's iteration, is the load being applied. The metrics
// aggregator is the only synchronization point on the results path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"faultline/internal/classify"
	"faultline/internal/model"
	"faultline/internal/target"
	"faultline/internal/workflow"
)

// Default executor tuning.
const (
	DefaultOpTimeout = 10 * time.Second
	DefaultDelayMin  = 10 * time.Millisecond
	DefaultDelayMax  = 50 * time.Millisecond
)

// Executor replays workflow descriptors against one target client and turns
// each iteration into a structured outcome.
type Executor struct {
	client    target.Client
	opTimeout time.Duration
	delayMin  time.Duration
	delayMax  time.Duration
}

// ExecutorConfig tunes iteration execution. Zero values fall back to the
// package defaults.
type ExecutorConfig struct {
	// OpTimeout bounds every individual target operation.
	OpTimeout time.Duration
	// DelayMin and DelayMax bound the think-time inserted between steps.
	DelayMin time.Duration
	DelayMax time.Duration
}

// NewExecutor builds an executor over the given target client.
func NewExecutor(client target.Client, cfg ExecutorConfig) *Executor {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.DelayMax <= 0 {
		cfg.DelayMin = DefaultDelayMin
		cfg.DelayMax = DefaultDelayMax
	}
	if cfg.DelayMin > cfg.DelayMax {
		cfg.DelayMin = cfg.DelayMax
	}
	return &Executor{
		client:    client,
		opTimeout: cfg.OpTimeout,
		delayMin:  cfg.DelayMin,
		delayMax:  cfg.DelayMax,
	}
}

// Execute runs one iteration of the given workflow for a virtual user and
// returns its outcome. A failing step ends the iteration: the outcome keeps
// the tokens collected so far, carries the error, and is marked as a timeout
// when the step overran its operation deadline. Panics out of the target
// client are caught here, at the iteration boundary, and reported as errors
// rather than taking down the run.
func (e *Executor) Execute(ctx context.Context, desc workflow.Descriptor, vu, iteration int, rng *rand.Rand) (out model.Outcome) {
	start := time.Now()
	out = model.Outcome{
		Workflow:  desc.Name,
		VU:        vu,
		Iteration: iteration,
		Status:    model.OutcomeOK,
	}

	defer func() {
		if r := recover(); r != nil {
			out.Status = model.OutcomeError
			out.Error = fmt.Sprintf("panic during iteration: %v", r)
		}
		out.Duration = time.Since(start)
		out.Violations = classify.Classify(out.Token)
		if out.Status != model.OutcomeOK {
			out.Violations.Add(model.ViolationError)
		}
	}()

	var tokens []string
	steps := desc.Steps
	for i := 0; i < len(steps); {
		// Steps sharing a non-zero group are launched together and only
		// rejoined at the end of the group. Nothing orders their target
		// operations against each other.
		j := i + 1
		if steps[i].Group != 0 {
			for j < len(steps) && steps[j].Group == steps[i].Group {
				j++
			}
		}

		var batch []string
		var err error
		if j-i == 1 {
			var tok string
			tok, err = e.runStep(ctx, steps[i])
			batch = []string{tok}
		} else {
			batch, err = e.runGroup(ctx, steps[i:j])
		}
		for _, tok := range batch {
			if tok != "" {
				tokens = append(tokens, tok)
			}
		}
		if err != nil {
			out.Token = strings.Join(tokens, " ")
			out.Error = err.Error()
			if ctx.Err() != nil || isDeadline(err) {
				out.Status = model.OutcomeTimeout
			} else {
				out.Status = model.OutcomeError
			}
			return out
		}
		i = j

		if i < len(steps) {
			if err := e.thinkTime(ctx, rng); err != nil {
				out.Token = strings.Join(tokens, " ")
				out.Error = err.Error()
				out.Status = model.OutcomeTimeout
				return out
			}
		}
	}

	out.Token = strings.Join(tokens, " ")
	return out
}

// runStep performs a single workflow step under the operation timeout.
func (e *Executor) runStep(ctx context.Context, s workflow.Step) (token string, err error) {
	if s.Op == workflow.OpPause {
		return "", sleepCtx(ctx, s.Pause)
	}

	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	switch s.Op {
	case workflow.OpSetup:
		return e.client.Setup(opCtx, s.Dose, s.X, s.Y)
	case workflow.OpChangeMode:
		return e.client.ChangeMode(opCtx, s.Mode)
	case workflow.OpEdit:
		return e.client.Edit(opCtx, s.Field, s.Value)
	case workflow.OpFire:
		return e.client.Fire(opCtx)
	default:
		return "", fmt.Errorf("unknown op %q", s.Op)
	}
}

// runGroup launches every step in the slice concurrently and waits for all
// of them. Tokens come back in step order; the first error wins.
func (e *Executor) runGroup(ctx context.Context, steps []workflow.Step) ([]string, error) {
	tokens := make([]string, len(steps))
	errs := make([]error, len(steps))

	done := make(chan int, len(steps))
	for i := range steps {
		go func(i int) {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("panic in step: %v", r)
				}
				done <- i
			}()
			tokens[i], errs[i] = e.runStep(ctx, steps[i])
		}(i)
	}
	for range steps {
		<-done
	}

	for _, err := range errs {
		if err != nil {
			return tokens, err
		}
	}
	return tokens, nil
}

// thinkTime sleeps for a duration drawn from the configured window.
func (e *Executor) thinkTime(ctx context.Context, rng *rand.Rand) error {
	d := e.delayMin
	if span := e.delayMax - e.delayMin; span > 0 {
		d += time.Duration(rng.Int63n(int64(span)))
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
