package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcflow/workflow-engine/engine/hook"
	"github.com/arcflow/workflow-engine/engine/interpolate"
	"github.com/arcflow/workflow-engine/engine/metrics"
	"github.com/arcflow/workflow-engine/engine/store"
)

// Status is the lifecycle state of one workflow run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Result is what Execute/Resume return: the final status of a run plus
// every step's recorded outcome.
type Result struct {
	WorkflowID  string                 `json:"workflowId"`
	// RunID distinguishes concurrent executions of the same Definition;
	// unlike WorkflowID (the persistence key, stable across Resume), a
	// fresh RunID is minted for every Execute/Resume call.
	RunID       string                 `json:"runId"`
	Status      Status                 `json:"status"`
	StepResults map[string]*StepResult `json:"stepResults"`
	Error       error                  `json:"-"`
	StartedAt   time.Time              `json:"startedAt"`
	FinishedAt  time.Time              `json:"finishedAt"`
}

// run tracks one in-flight or finished workflow execution, enough for
// Status/Progress/Cancel to inspect it without re-reading the store.
type run struct {
	mu         sync.Mutex
	runID      string
	def        *Definition
	wctx       *Context
	order      []string
	groups     []Group
	results    map[string]*StepResult
	status     Status
	cancel     context.CancelFunc
	startedAt  time.Time
	createdAt  time.Time
	generation int64
	err        error
}

// Runner composes the dependency resolver, interpolator, scheduler, step
// registry, hook bus, metrics and persistence store into the single entry
// point a caller uses to execute or resume a workflow Definition.
type Runner struct {
	registry *Registry
	store    store.Store
	bus      *hook.Bus
	metrics  *metrics.Metrics
	opts     Options
	resolver *Resolver

	mu   sync.RWMutex
	runs map[string]*run
}

// NewRunner wires together a Runner. st, bus, and m may all be nil --
// nil store disables persistence (EnablePersistence is then forced off),
// nil bus disables hook emission, nil metrics disables instrumentation.
func NewRunner(registry *Registry, st store.Store, bus *hook.Bus, m *metrics.Metrics, opts Options) *Runner {
	o := opts.normalized()
	if st == nil {
		o.EnablePersistence = false
	}
	if bus == nil {
		o.EnableHooks = false
	}
	if m == nil {
		o.EnableMetrics = false
	}
	return &Runner{
		registry: registry,
		store:    st,
		bus:      bus,
		metrics:  m,
		opts:     o,
		resolver: NewResolver(),
		runs:     map[string]*run{},
	}
}

// Execute validates def, resolves its dependency graph, and runs it to
// completion (or until a fatal error/cancellation), applying any per-call
// Option overrides on top of the Runner's base Options. If the merged
// Options set ResumeFromState, Execute delegates to Resume instead.
func (r *Runner) Execute(ctx context.Context, def *Definition, opts ...Option) (*Result, error) {
	o := r.opts
	o.apply(opts...)

	if o.ResumeFromState != "" {
		return r.Resume(ctx, o.ResumeFromState, opts...)
	}

	if errs := r.registry.ValidateAll(def.Steps); len(errs) > 0 {
		return nil, errs[0]
	}

	maxConcurrency := o.MaxConcurrency
	groups, err := r.resolver.ParallelGroups(def.Steps, maxConcurrency)
	if err != nil {
		return nil, err
	}
	order := make([]string, 0, len(def.Steps))
	for _, g := range groups {
		for _, s := range g.Steps {
			order = append(order, s.ID)
		}
	}

	env := map[string]string{}
	for k, v := range def.Env {
		env[k] = v
	}
	wctx := NewContext(def.Name, o.Variables, env)

	rn := &run{
		runID:     uuid.NewString(),
		def:       def,
		wctx:      wctx,
		order:     order,
		groups:    groups,
		results:   map[string]*StepResult{},
		status:    StatusRunning,
		startedAt: time.Now(),
		createdAt: time.Now(),
	}
	r.register(def.Name, rn)
	defer r.unregister(def.Name)

	return r.run(ctx, rn, o, nil)
}

// Resume loads the most recent snapshot for workflowID and continues
// execution from the first step not already marked completed or skipped.
// Steps that were mid-flight when the prior run stopped (status "running"
// in the snapshot, or simply absent from StepResults) are treated as not
// started and run again from scratch, per the engine's resume contract:
// a step's side effects are only trusted once it reports success.
func (r *Runner) Resume(ctx context.Context, workflowID string, opts ...Option) (*Result, error) {
	if r.store == nil {
		return nil, ErrNotResumable
	}
	snap, err := r.store.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if snap.WorkflowStatus == string(StatusCompleted) {
		return nil, ErrNotResumable
	}

	var def Definition
	if err := json.Unmarshal(snap.DefinitionJSON, &def); err != nil {
		return nil, &ValidationError{Kind: KindPersistence, Err: err}
	}

	o := r.opts
	o.apply(opts...)

	if errs := r.registry.ValidateAll(def.Steps); len(errs) > 0 {
		return nil, errs[0]
	}
	groups, err := r.resolver.ParallelGroups(def.Steps, o.MaxConcurrency)
	if err != nil {
		return nil, err
	}

	wctx := NewContext(def.Name, o.Variables, def.Env)
	if err := wctx.RestoreFromSnapshot(snap.ContextJSON); err != nil {
		return nil, err
	}

	results := make(map[string]*StepResult, len(snap.StepResults))
	done := make(map[string]bool, len(snap.StepResults))
	for id, b := range snap.StepResults {
		sr, err := unmarshalStepResult(b)
		if err != nil {
			return nil, &ValidationError{Kind: KindPersistence, Err: err}
		}
		results[id] = sr
		if state := snap.StepStates[id]; state == "completed" || state == "skipped" {
			done[id] = true
		}
	}

	rn := &run{
		runID:      uuid.NewString(),
		def:        &def,
		wctx:       wctx,
		order:      snap.ExecutionOrder,
		groups:     groups,
		results:    results,
		status:     StatusRunning,
		startedAt:  time.Now(),
		createdAt:  snap.CreatedAt,
		generation: snap.Generation,
	}
	r.register(def.Name, rn)
	defer r.unregister(def.Name)

	return r.run(ctx, rn, o, done)
}

// run drives one resolved, context-ready workflow through the scheduler,
// applying the workflow-level timeout, checkpointing, hook emission and
// final status bookkeeping shared by both Execute and Resume.
func (r *Runner) run(ctx context.Context, rn *run, o Options, done map[string]bool) (*Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = rn.def.Timeout()
	}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	rn.mu.Lock()
	rn.cancel = cancel
	rn.mu.Unlock()
	defer cancel()

	var bus *hook.Bus
	if o.EnableHooks {
		bus = r.bus
	}
	var m *metrics.Metrics
	if o.EnableMetrics {
		m = r.metrics
	}

	sched := NewScheduler(r.registry, bus, m, o)
	in := interpolate.New(rn.wctx)

	if bus != nil {
		_ = bus.Emit(runCtx, hook.Payload{
			WorkflowID: rn.def.Name,
			Event:      hook.WorkflowStart,
			Timestamp:  time.Now(),
			Data:       map[string]any{"runId": rn.runID},
		})
	}

	var ck *checkpointer
	var cp *stepCheckpoint
	if o.EnablePersistence && r.store != nil {
		ck = newCheckpointer(r.store, o.CheckpointInterval)
		defJSON, jerr := json.Marshal(rn.def)
		if jerr == nil {
			cp = &stepCheckpoint{
				ck:         ck,
				def:        rn.def,
				defJSON:    defJSON,
				wctx:       rn.wctx,
				order:      rn.order,
				generation: rn.generation,
				createdAt:  rn.createdAt,
			}
			if m != nil {
				cp.metrics = m
			}
			// Save once as soon as the workflow transitions to Running,
			// before any step has executed.
			cp.save(runCtx, copyResults(rn.results), true)
		}
	}

	if done == nil {
		done = map[string]bool{}
	}
	runErr := sched.Run(runCtx, rn.def, rn.groups, rn.wctx, in, done, rn.results, cp)

	rn.mu.Lock()
	switch {
	case runErr == nil:
		rn.status = StatusCompleted
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		// The workflow-level deadline elapsed; distinct from an explicit
		// Cancel(), which cancels the very same derived runCtx without ever
		// tripping DeadlineExceeded.
		rn.status = StatusFailed
	case runCtx.Err() != nil:
		rn.status = StatusCancelled
	default:
		rn.status = StatusFailed
	}
	rn.err = runErr
	status := rn.status
	rn.mu.Unlock()

	if ck != nil {
		defJSON, jerr := json.Marshal(rn.def)
		if jerr == nil {
			snap, serr := buildSnapshot(rn.def, defJSON, rn.wctx, rn.order, rn.results, len(rn.order), string(status), rn.createdAt, rn.generation)
			if serr == nil {
				_, _ = ck.maybeSave(ctx, true, snap)
				if m != nil {
					m.IncCheckpoints(rn.def.Name, "final")
				}
			}
		}
	}

	if bus != nil {
		switch status {
		case StatusCompleted:
			_ = bus.Emit(ctx, hook.Payload{WorkflowID: rn.def.Name, Event: hook.WorkflowComplete, Timestamp: time.Now()})
		case StatusCancelled:
			_ = bus.Emit(ctx, hook.Payload{WorkflowID: rn.def.Name, Event: hook.WorkflowCancelled, Timestamp: time.Now()})
		case StatusFailed:
			data := map[string]any{}
			if runErr != nil {
				data["error"] = runErr.Error()
			}
			_ = bus.Emit(ctx, hook.Payload{WorkflowID: rn.def.Name, Event: hook.WorkflowError, Timestamp: time.Now(), Data: data})
		}
	}

	result := &Result{
		WorkflowID:  rn.def.Name,
		RunID:       rn.runID,
		Status:      status,
		StepResults: rn.results,
		Error:       runErr,
		StartedAt:   rn.startedAt,
		FinishedAt:  time.Now(),
	}
	return result, runErr
}

func (r *Runner) register(id string, rn *run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id] = rn
}

func (r *Runner) unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, id)
}

// Cancel requests cooperative cancellation of an in-flight run. It is not
// an error to cancel a workflow id with no active run (e.g. already finished).
func (r *Runner) Cancel(workflowID string) error {
	r.mu.RLock()
	rn, ok := r.runs[workflowID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	rn.mu.Lock()
	cancel := rn.cancel
	rn.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Status reports the current lifecycle status of an active run.
func (r *Runner) Status(workflowID string) (Status, error) {
	r.mu.RLock()
	rn, ok := r.runs[workflowID]
	r.mu.RUnlock()
	if !ok {
		return "", ErrNotResumable
	}
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.status, nil
}

// Progress reports how far an active run has gotten, as a percentage in
// [0,100] of steps that have reached a terminal state (completed, failed,
// or skipped). A workflow with zero steps reports 100.
func (r *Runner) Progress(workflowID string) (int, error) {
	r.mu.RLock()
	rn, ok := r.runs[workflowID]
	r.mu.RUnlock()
	if !ok {
		return 0, ErrNotResumable
	}
	rn.mu.Lock()
	defer rn.mu.Unlock()

	if len(rn.order) == 0 {
		return 100, nil
	}
	done := 0
	for _, id := range rn.order {
		if _, ok := rn.results[id]; ok {
			done++
		}
	}
	return done * 100 / len(rn.order), nil
}

// GenerateSummary renders a short, human-readable report of a finished
// Result: the overall status plus one line per step naming its outcome.
func GenerateSummary(res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s (run %s)\n", res.WorkflowID, res.Status, res.RunID)

	ids := make([]string, 0, len(res.StepResults))
	for id := range res.StepResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		sr := res.StepResults[id]
		switch {
		case sr.Skipped:
			fmt.Fprintf(&b, "  %s: skipped (%s)\n", id, sr.SkipReason)
		case sr.Cancelled:
			fmt.Fprintf(&b, "  %s: cancelled\n", id)
		case sr.Success:
			fmt.Fprintf(&b, "  %s: completed in %s\n", id, sr.ExecutionTime)
		default:
			fmt.Fprintf(&b, "  %s: failed: %s\n", id, sr.Error)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// DetailedReport renders the full per-step outcome breakdown of a Result as
// JSON, suitable for machine consumption or a verbose CLI flag.
func DetailedReport(res *Result) ([]byte, error) {
	return json.MarshalIndent(res, "", "  ")
}
