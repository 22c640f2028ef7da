package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arcflow/workflow-engine/engine/hook"
	"github.com/arcflow/workflow-engine/engine/interpolate"
	"github.com/arcflow/workflow-engine/engine/metrics"
	"golang.org/x/sync/semaphore"
)

// Scheduler dispatches a Definition's steps group by group: groups run
// strictly sequentially (group N+1 never starts before every step of group
// N has finished, succeeded or not), while the steps within one group run
// concurrently up to the group's MaxConcurrency, further bounded by any
// named resource quota a step declares.
//
// Semaphores are always acquired in the fixed order group-then-resource and
// released in the reverse order, so two steps can never deadlock waiting on
// each other's quota.
type Scheduler struct {
	registry *Registry
	bus      *hook.Bus
	metrics  *metrics.Metrics
	opts     Options

	resourceMu sync.Mutex
	resources  map[string]*semaphore.Weighted
}

// NewScheduler creates a Scheduler bound to a step registry, an optional
// hook bus and metrics recorder (either may be nil to disable), and the
// run's Options.
func NewScheduler(registry *Registry, bus *hook.Bus, m *metrics.Metrics, opts Options) *Scheduler {
	return &Scheduler{
		registry:  registry,
		bus:       bus,
		metrics:   m,
		opts:      opts.normalized(),
		resources: map[string]*semaphore.Weighted{},
	}
}

// resourceSemaphore returns (creating if necessary) the shared semaphore
// for a named resource pool, sized from the Definition's ParallelConfig. A
// pool with quota <= 0 is an unusable configuration, not a pool of size
// one: it returns ErrNegativeResourceQuota rather than silently clamping.
func (s *Scheduler) resourceSemaphore(name string, quota int) (*semaphore.Weighted, error) {
	s.resourceMu.Lock()
	defer s.resourceMu.Unlock()
	if sem, ok := s.resources[name]; ok {
		return sem, nil
	}
	if quota <= 0 {
		return nil, ErrNegativeResourceQuota
	}
	sem := semaphore.NewWeighted(int64(quota))
	s.resources[name] = sem
	return sem, nil
}

// Run executes groups in order against wctx, skipping any step whose id is
// already present in done (used by Runner.Resume to avoid re-running
// completed steps). It records one StepResult per executed step into
// results (results is not locked internally; callers must not read it
// concurrently with Run). Run returns the first fatal error encountered --
// a step failure whose ContinueOnError is false, a context
// cancellation/timeout, or a workflow-level deadline. A fatal step failure
// cancels nothing: every step of its group is still run to completion, and
// Run returns once the group has finished, without starting the next group.
// On context cancellation Run waits at most GracePeriod for the group's
// in-flight steps before returning.
func (s *Scheduler) Run(
	ctx context.Context,
	def *Definition,
	groups []Group,
	wctx *Context,
	in *interpolate.Interpolator,
	done map[string]bool,
	results map[string]*StepResult,
	cp *stepCheckpoint,
) error {
	var resultsMu sync.Mutex
	failed := make(map[string]bool)
	skippedDeps := make(map[string]bool)

	var resourceQuota map[string]int
	if def.Parallel != nil {
		resourceQuota = def.Parallel.Resources
	}

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}

		groupSem := semaphore.NewWeighted(int64(maxInt(group.MaxConcurrency, 1)))

		var wg sync.WaitGroup
		var fatalMu sync.Mutex
		var fatal error

		for _, step := range group.Steps {
			step := step
			if done[step.ID] {
				continue
			}

			if s.dependencyFailed(step, failed, skippedDeps) {
				skippedDeps[step.ID] = true
				resultsMu.Lock()
				results[step.ID] = &StepResult{Skipped: true, SkipReason: "upstream dependency failed or was skipped", ParallelGroup: group.Index}
				snapshot := copyResults(results)
				resultsMu.Unlock()
				s.emit(ctx, hook.StepSkip, def, step.ID, nil)
				cp.save(ctx, snapshot, false)
				continue
			}

			quota := 0
			if step.Parallel != nil && step.Parallel.Resource != "" {
				quota = resourceQuota[step.Parallel.Resource]
			}

			wg.Add(1)
			go func() {
				defer wg.Done()

				if err := groupSem.Acquire(ctx, 1); err != nil {
					resultsMu.Lock()
					results[step.ID] = &StepResult{Cancelled: true, Error: err.Error(), ParallelGroup: group.Index}
					resultsMu.Unlock()
					return
				}
				defer groupSem.Release(1)

				var resSem *semaphore.Weighted
				if step.Parallel != nil && step.Parallel.Resource != "" {
					sem, err := s.resourceSemaphore(step.Parallel.Resource, quota)
					if err != nil {
						resultsMu.Lock()
						results[step.ID] = &StepResult{Success: false, Error: err.Error(), ParallelGroup: group.Index}
						failed[step.ID] = true
						fatalMu.Lock()
						if fatal == nil {
							fatal = NewStepError(step.ID, KindResourceExhausted, err)
						}
						fatalMu.Unlock()
						resultsMu.Unlock()
						return
					}
					resSem = sem
					if err := resSem.Acquire(ctx, 1); err != nil {
						resultsMu.Lock()
						results[step.ID] = &StepResult{Cancelled: true, Error: err.Error(), ParallelGroup: group.Index}
						resultsMu.Unlock()
						return
					}
					defer resSem.Release(1)
				}

				result := s.runStep(ctx, def, step, wctx, in)
				result.ParallelGroup = group.Index

				resultsMu.Lock()
				results[step.ID] = result
				stepFailed := !result.Success && !result.Skipped
				if stepFailed {
					failed[step.ID] = true
					if !step.ContinueOnError && !s.opts.ContinueOnError {
						fatalMu.Lock()
						if fatal == nil {
							fatal = NewStepError(step.ID, classifyFailureKind(result), fmt.Errorf("%s", result.Error))
						}
						fatalMu.Unlock()
					}
				}
				snapshot := copyResults(results)
				resultsMu.Unlock()

				cp.save(ctx, snapshot, stepFailed)
			}()
		}

		waitDone := make(chan struct{})
		go func() { wg.Wait(); close(waitDone) }()

		select {
		case <-waitDone:
		case <-ctx.Done():
			select {
			case <-waitDone:
			case <-time.After(s.opts.GracePeriod):
			}
			return ctx.Err()
		}

		if fatal != nil {
			return fatal
		}
	}

	return nil
}

// dependencyFailed reports whether any of step's dependencies failed or was
// itself skipped because of a failed dependency, which cascades a skip to
// every downstream step. A dependency skipped by its own condition does not
// count: its dependents still run.
func (s *Scheduler) dependencyFailed(step Step, failed, skipped map[string]bool) bool {
	for _, dep := range step.DependsOn {
		if failed[dep] || skipped[dep] {
			return true
		}
	}
	return false
}

// runStep interpolates the step's config and condition, checks the
// condition, dispatches to the registered executor, and emits lifecycle
// hooks. It never returns an error directly -- all outcomes are reported
// through the returned StepResult so the caller can make a single
// fatal/non-fatal decision per the step's ContinueOnError policy.
func (s *Scheduler) runStep(ctx context.Context, def *Definition, step Step, wctx *Context, in *interpolate.Interpolator) *StepResult {
	start := time.Now()
	wctx.SetCurrentStepID(step.ID)
	s.emit(ctx, hook.StepStart, def, step.ID, nil)
	if s.metrics != nil {
		s.metrics.SetActiveSteps(wctx.WorkflowID(), 1)
	}

	ok, err := evaluateCondition(in, step.Condition)
	if err != nil {
		return s.fail(ctx, def, step, start, fmt.Sprintf("condition evaluation failed: %v", err))
	}
	if !ok {
		s.emit(ctx, hook.StepSkip, def, step.ID, nil)
		return &StepResult{Skipped: true, SkipReason: "condition evaluated false", ExecutionTime: time.Since(start)}
	}

	ex, ok := s.registry.Lookup(step.Type)
	if !ok {
		return s.fail(ctx, def, step, start, ErrExecutorMissing.Error())
	}

	interpolated, err := in.InterpolateValue(map[string]any(step.Config))
	if err != nil {
		return s.fail(ctx, def, step, start, fmt.Sprintf("interpolation failed: %v", err))
	}
	stepForExec := step
	if m, ok := interpolated.(map[string]any); ok {
		stepForExec.Config = m
	}

	stepCtx := ctx
	var cancel context.CancelFunc
	if d := stepForExec.Timeout(); d > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	output, attempts, err := runWithRetry(stepCtx, stepForExec, func(c context.Context) (map[string]any, error) {
		return ex.Execute(c, stepForExec, wctx)
	}, s.opts.DefaultRetry, s.metrics, wctx.WorkflowID())

	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.SetActiveSteps(wctx.WorkflowID(), 0)
	}

	if err != nil {
		status := "error"
		if stepCtx.Err() == context.DeadlineExceeded {
			status = "timeout"
		}
		if s.metrics != nil {
			s.metrics.ObserveStepLatency(wctx.WorkflowID(), step.ID, status, elapsed)
		}
		data := map[string]any{"error": err.Error()}
		s.emit(ctx, hook.StepError, def, step.ID, data)
		return &StepResult{Success: false, Error: err.Error(), ExecutionTime: elapsed, Attempts: attempts}
	}

	wctx.SetStepOutput(step.ID, output)
	if s.metrics != nil {
		s.metrics.ObserveStepLatency(wctx.WorkflowID(), step.ID, "success", elapsed)
	}
	s.emit(ctx, hook.StepComplete, def, step.ID, map[string]any{"output": output})
	return &StepResult{Success: true, Output: output, ExecutionTime: elapsed, Attempts: attempts}
}

func (s *Scheduler) fail(ctx context.Context, def *Definition, step Step, start time.Time, msg string) *StepResult {
	s.emit(ctx, hook.StepError, def, step.ID, map[string]any{"error": msg})
	return &StepResult{Success: false, Error: msg, ExecutionTime: time.Since(start)}
}

func (s *Scheduler) emit(ctx context.Context, event hook.Event, def *Definition, stepID string, data map[string]any) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Emit(ctx, hook.Payload{
		WorkflowID: def.Name,
		Event:      event,
		Timestamp:  time.Now(),
		StepID:     stepID,
		Data:       data,
	})
}

func classifyFailureKind(r *StepResult) ErrorKind {
	if r.Cancelled {
		return KindCancelled
	}
	return KindExecutorFailure
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
