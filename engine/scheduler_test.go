package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arcflow/workflow-engine/engine"
	"github.com/arcflow/workflow-engine/engine/interpolate"
)

// recordingExecutor is a test Executor that runs a user-supplied function
// per step, tracking concurrency so scheduler tests can assert on bounds.
type recordingExecutor struct {
	mu       sync.Mutex
	active   int32
	peak     int32
	fn       func(ctx context.Context, step engine.Step) (map[string]any, error)
	started  []string
	finished []string
}

func (e *recordingExecutor) CanExecute(step engine.Step) bool { return true }
func (e *recordingExecutor) Validate(step engine.Step) []error { return nil }
func (e *recordingExecutor) Execute(ctx context.Context, step engine.Step, wctx *engine.Context) (map[string]any, error) {
	e.mu.Lock()
	e.started = append(e.started, step.ID)
	e.mu.Unlock()

	n := atomic.AddInt32(&e.active, 1)
	for {
		p := atomic.LoadInt32(&e.peak)
		if n <= p || atomic.CompareAndSwapInt32(&e.peak, p, n) {
			break
		}
	}
	defer atomic.AddInt32(&e.active, -1)

	out, err := e.fn(ctx, step)

	e.mu.Lock()
	e.finished = append(e.finished, step.ID)
	e.mu.Unlock()
	return out, err
}

func newRegistry(t *testing.T, ex engine.Executor) *engine.Registry {
	t.Helper()
	reg := engine.NewRegistry()
	if err := reg.Register("test", ex, false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func runScheduler(t *testing.T, def *engine.Definition, reg *engine.Registry, opts engine.Options) (map[string]*engine.StepResult, error) {
	t.Helper()
	groups, err := engine.NewResolver().ParallelGroups(def.Steps, opts.MaxConcurrency)
	if err != nil {
		t.Fatalf("ParallelGroups: %v", err)
	}
	wctx := engine.NewContext(def.Name, nil, def.Env)
	sched := engine.NewScheduler(reg, nil, nil, opts)
	results := map[string]*engine.StepResult{}
	err = sched.Run(context.Background(), def, groups, wctx, interpolate.New(wctx), map[string]bool{}, results, nil)
	return results, err
}

func TestSchedulerLinearChainRunsInDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	ex := &recordingExecutor{fn: func(ctx context.Context, step engine.Step) (map[string]any, error) {
		mu.Lock()
		order = append(order, step.ID)
		mu.Unlock()
		return map[string]any{}, nil
	}}
	def := &engine.Definition{
		Name: "linear",
		Steps: []engine.Step{
			{ID: "a", Type: "test"},
			{ID: "b", Type: "test", DependsOn: []string{"a"}},
			{ID: "c", Type: "test", DependsOn: []string{"b"}},
		},
	}
	results, err := runScheduler(t, def, newRegistry(t, ex), engine.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("want a,b,c order, got %v", order)
	}
	for _, id := range []string{"a", "b", "c"} {
		if !results[id].Success {
			t.Fatalf("want step %s to succeed: %+v", id, results[id])
		}
	}
}

func TestSchedulerResourceQuotaBoundsConcurrency(t *testing.T) {
	release := make(chan struct{})
	ex := &recordingExecutor{fn: func(ctx context.Context, step engine.Step) (map[string]any, error) {
		<-release
		return map[string]any{}, nil
	}}
	def := &engine.Definition{
		Name: "fanout",
		Parallel: &engine.ParallelConfig{
			Enabled:   true,
			Resources: map[string]int{"db": 2},
		},
		Steps: []engine.Step{
			{ID: "s1", Type: "test", Parallel: &engine.StepParallel{Resource: "db"}},
			{ID: "s2", Type: "test", Parallel: &engine.StepParallel{Resource: "db"}},
			{ID: "s3", Type: "test", Parallel: &engine.StepParallel{Resource: "db"}},
			{ID: "s4", Type: "test", Parallel: &engine.StepParallel{Resource: "db"}},
		},
	}

	done := make(chan struct{})
	go func() {
		_, _ = runScheduler(t, def, newRegistry(t, ex), engine.Options{MaxConcurrency: 4})
		close(done)
	}()

	// Give the scheduler time to dispatch every step that can start.
	time.Sleep(100 * time.Millisecond)
	if peak := atomic.LoadInt32(&ex.peak); peak > 2 {
		t.Fatalf("want peak concurrency bounded to the resource quota of 2, got %d", peak)
	}
	close(release)
	<-done
}

func TestSchedulerNegativeResourceQuotaIsFatal(t *testing.T) {
	ex := &recordingExecutor{fn: func(ctx context.Context, step engine.Step) (map[string]any, error) {
		return map[string]any{}, nil
	}}
	def := &engine.Definition{
		Name: "bad-quota",
		Parallel: &engine.ParallelConfig{
			Enabled:   true,
			Resources: map[string]int{"db": -1},
		},
		Steps: []engine.Step{
			{ID: "a", Type: "test", Parallel: &engine.StepParallel{Resource: "db"}},
		},
	}
	results, err := runScheduler(t, def, newRegistry(t, ex), engine.Options{})
	if err == nil {
		t.Fatal("want a fatal error for a negative resource quota")
	}
	if !errors.Is(err, engine.ErrNegativeResourceQuota) {
		t.Fatalf("want ErrNegativeResourceQuota, got %v", err)
	}
	if results["a"].Success {
		t.Fatal("want the step recorded as failed, not run")
	}
}

func TestSchedulerContinueOnErrorShieldsDependents(t *testing.T) {
	ex := &recordingExecutor{fn: func(ctx context.Context, step engine.Step) (map[string]any, error) {
		if step.ID == "flaky" {
			return nil, fmt.Errorf("boom")
		}
		return map[string]any{}, nil
	}}
	def := &engine.Definition{
		Name: "shielded",
		Steps: []engine.Step{
			{ID: "flaky", Type: "test", ContinueOnError: true},
			{ID: "after", Type: "test", DependsOn: []string{"flaky"}},
		},
	}
	results, err := runScheduler(t, def, newRegistry(t, ex), engine.Options{})
	if err != nil {
		t.Fatalf("a shielded failure must not be fatal: %v", err)
	}
	if results["flaky"].Success {
		t.Fatal("want the flaky step itself recorded as failed")
	}
	if !results["after"].Skipped {
		t.Fatalf("want \"after\" to be skipped since its dependency failed, got %+v", results["after"])
	}
}

func TestSchedulerUnshieldedFailureIsFatal(t *testing.T) {
	ex := &recordingExecutor{fn: func(ctx context.Context, step engine.Step) (map[string]any, error) {
		return nil, fmt.Errorf("boom")
	}}
	def := &engine.Definition{
		Name:  "fatal",
		Steps: []engine.Step{{ID: "a", Type: "test"}},
	}
	_, err := runScheduler(t, def, newRegistry(t, ex), engine.Options{})
	if err == nil {
		t.Fatal("want a fatal error when ContinueOnError is false")
	}
}

func TestSchedulerSkipsStepsAlreadyDone(t *testing.T) {
	ex := &recordingExecutor{fn: func(ctx context.Context, step engine.Step) (map[string]any, error) {
		return map[string]any{}, nil
	}}
	def := &engine.Definition{
		Name: "resume",
		Steps: []engine.Step{
			{ID: "a", Type: "test"},
			{ID: "b", Type: "test", DependsOn: []string{"a"}},
		},
	}
	groups, err := engine.NewResolver().ParallelGroups(def.Steps, 0)
	if err != nil {
		t.Fatalf("ParallelGroups: %v", err)
	}
	wctx := engine.NewContext(def.Name, nil, nil)
	sched := engine.NewScheduler(newRegistry(t, ex), nil, nil, engine.Options{})
	results := map[string]*engine.StepResult{}
	done := map[string]bool{"a": true}
	if err := sched.Run(context.Background(), def, groups, wctx, interpolate.New(wctx), done, results, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ex.mu.Lock()
	started := append([]string(nil), ex.started...)
	ex.mu.Unlock()
	if len(started) != 1 || started[0] != "b" {
		t.Fatalf("want only \"b\" to actually execute, got %v", started)
	}
}
