package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/arcflow/workflow-engine/engine/store"
)

func marshalStepResult(r *StepResult) ([]byte, error) { return json.Marshal(r) }

func unmarshalStepResult(b []byte) (*StepResult, error) {
	var r StepResult
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// checkpointer owns the decision of when a Runner writes a Snapshot, and
// how a Snapshot is assembled from the live execution order, step results
// and context. Separated from Runner so the step-count/interval bookkeeping
// doesn't clutter the main orchestration loop.
type checkpointer struct {
	mu              sync.Mutex
	st              store.Store
	interval        int
	sinceLast       int
	generation      int64
	pausedDuration  time.Duration
}

func newCheckpointer(st store.Store, interval int) *checkpointer {
	if interval <= 0 {
		interval = 1
	}
	return &checkpointer{st: st, interval: interval}
}

// maybeSave writes a snapshot if at least interval completed steps have
// accumulated since the last write, or if force is true (used for the
// final snapshot at workflow completion and for pause/cancel). Each write
// carries the generation of the previous successful write (starting from
// snap.Generation), so compare-and-set stores accept every write of a run.
func (c *checkpointer) maybeSave(ctx context.Context, force bool, snap store.Snapshot) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinceLast++
	if !force && c.sinceLast < c.interval {
		return false, nil
	}
	c.sinceLast = 0
	if snap.Generation > c.generation {
		c.generation = snap.Generation
	}
	snap.Generation = c.generation
	snap.PausedDuration = c.pausedDuration
	snap.UpdatedAt = time.Now()
	if err := c.st.Save(ctx, snap); err != nil {
		return false, err
	}
	c.generation++
	return true, nil
}

// stepCheckpoint bundles the fixed, per-run inputs a snapshot needs
// (definition, context, execution order, generation) so the scheduler can
// trigger a save after every step transition without importing Runner or
// reaching back into its bookkeeping. A nil *stepCheckpoint disables
// checkpointing entirely; save is a no-op on a nil receiver, so callers
// need not check for nil.
type stepCheckpoint struct {
	ck         *checkpointer
	def        *Definition
	defJSON    []byte
	wctx       *Context
	order      []string
	generation int64
	createdAt  time.Time
	metrics    checkpointMetrics
}

// checkpointMetrics is the subset of *metrics.Metrics the checkpointer
// needs, kept narrow so checkpoint.go doesn't import engine/metrics just
// for one counter.
type checkpointMetrics interface {
	IncCheckpoints(workflowID, reason string)
}

// save builds a snapshot from the given point-in-time copy of results,
// tagged with status "running", and asks the checkpointer to write it --
// unconditionally on a step failure, and otherwise only once
// checkpointInterval transitions have accumulated since the last write.
func (sc *stepCheckpoint) save(ctx context.Context, results map[string]*StepResult, force bool) {
	if sc == nil || sc.ck == nil {
		return
	}
	snap, err := buildSnapshot(sc.def, sc.defJSON, sc.wctx, sc.order, results, len(sc.order), string(StatusRunning), sc.createdAt, sc.generation)
	if err != nil {
		return
	}
	saved, err := sc.ck.maybeSave(ctx, force, snap)
	if err == nil && saved && sc.metrics != nil {
		sc.metrics.IncCheckpoints(sc.def.Name, "interim")
	}
}

// copyResults returns a shallow copy of results, taken while holding
// whatever lock guards the live map, so a checkpoint write can proceed
// without blocking concurrent step goroutines still mutating the original.
func copyResults(results map[string]*StepResult) map[string]*StepResult {
	out := make(map[string]*StepResult, len(results))
	for k, v := range results {
		out[k] = v
	}
	return out
}

// buildSnapshot assembles a store.Snapshot from a run's current state.
func buildSnapshot(
	def *Definition,
	defJSON []byte,
	wctx *Context,
	order []string,
	results map[string]*StepResult,
	currentIndex int,
	status string,
	createdAt time.Time,
	generation int64,
) (store.Snapshot, error) {
	ctxJSON, err := wctx.CreateSnapshot()
	if err != nil {
		return store.Snapshot{}, &ValidationError{Kind: KindPersistence, Err: err}
	}

	stepStates := make(map[string]string, len(results))
	stepResults := make(map[string][]byte, len(results))
	for id, r := range results {
		switch {
		case r.Success:
			stepStates[id] = "completed"
		case r.Skipped:
			stepStates[id] = "skipped"
		case r.Cancelled:
			stepStates[id] = "cancelled"
		default:
			stepStates[id] = "failed"
		}
		b, err := marshalStepResult(r)
		if err != nil {
			return store.Snapshot{}, &ValidationError{Kind: KindPersistence, Err: err}
		}
		stepResults[id] = b
	}

	return store.Snapshot{
		WorkflowID:     def.Name,
		DefinitionJSON: defJSON,
		ContextJSON:    ctxJSON,
		ExecutionOrder: order,
		StepStates:     stepStates,
		StepResults:    stepResults,
		CurrentIndex:   currentIndex,
		WorkflowStatus: status,
		CreatedAt:      createdAt,
		UpdatedAt:      time.Now(),
		Generation:     generation,
	}, nil
}
