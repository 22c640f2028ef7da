// Package engine provides the workflow execution engine: dependency
// resolution, a parallel scheduler, a workflow context, retry/timeout
// handling, and the runner that composes them.
package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors into the taxonomy described by the
// design: validation, execution, timeout, cancellation, interpolation,
// persistence, hook, and resource errors are each reported distinctly so
// callers can branch on the kind rather than parsing messages.
type ErrorKind string

const (
	// KindValidation covers definition-level problems: cycles, missing
	// dependencies, self-dependencies, unknown step types, bad schema.
	KindValidation ErrorKind = "validation"
	// KindExecutorMissing means no executor is registered for a step type.
	KindExecutorMissing ErrorKind = "executor_missing"
	// KindExecutorFailure means a step's executor returned failure or panicked.
	KindExecutorFailure ErrorKind = "executor_failure"
	// KindTimeout means a step or workflow deadline was exceeded.
	KindTimeout ErrorKind = "timeout"
	// KindCancelled means user or fatal-failure cancellation was observed.
	KindCancelled ErrorKind = "cancelled"
	// KindInterpolation covers undefined variables, max depth, and function errors.
	KindInterpolation ErrorKind = "interpolation"
	// KindPersistence covers snapshot read/write/serialize/deserialize failures.
	KindPersistence ErrorKind = "persistence"
	// KindHook marks an error raised inside a hook handler.
	KindHook ErrorKind = "hook"
	// KindResourceExhausted marks an unusable resource configuration (e.g. negative quota).
	KindResourceExhausted ErrorKind = "resource_exhausted"
)

// Sentinel errors for conditions that do not carry step-specific detail.
var (
	// ErrCyclicDependency is returned by Resolve when the step graph contains a cycle.
	ErrCyclicDependency = errors.New("engine: cyclic dependency detected")
	// ErrUnknownDependency is returned when a step's dependsOn references a
	// step id that does not exist in the workflow.
	ErrUnknownDependency = errors.New("engine: dependency references unknown step")
	// ErrSelfDependency is returned when a step depends on itself.
	ErrSelfDependency = errors.New("engine: step depends on itself")
	// ErrDuplicateStepID is returned when two steps share the same id.
	ErrDuplicateStepID = errors.New("engine: duplicate step id")
	// ErrExecutorMissing is returned when no executor handles a step's type.
	ErrExecutorMissing = errors.New("engine: no executor registered for step type")
	// ErrExecutorAlreadyRegistered is returned on duplicate executor registration
	// for the same step type, when overwriting was not requested.
	ErrExecutorAlreadyRegistered = errors.New("engine: executor already registered for step type")
	// ErrWorkflowCancelled is returned when execution stops due to cancellation.
	ErrWorkflowCancelled = errors.New("engine: workflow cancelled")
	// ErrWorkflowTimeout is returned when the whole-workflow deadline elapses.
	ErrWorkflowTimeout = errors.New("engine: workflow timeout exceeded")
	// ErrStepTimeout is returned when a single step's deadline elapses.
	ErrStepTimeout = errors.New("engine: step timeout exceeded")
	// ErrHookLimitExceeded names a hook registration limit failure. Nothing in
	// package engine returns it; the hook Bus returns hook.ErrHookLimitExceeded.
	ErrHookLimitExceeded = errors.New("engine: hook registration limit exceeded")
	// ErrDuplicateHookID names a duplicate hook id failure. Nothing in package
	// engine returns it; the hook Bus returns hook.ErrDuplicateID.
	ErrDuplicateHookID = errors.New("engine: duplicate hook id")
	// ErrNotResumable is returned by Resume when the stored workflow status cannot be resumed.
	ErrNotResumable = errors.New("engine: workflow snapshot is not in a resumable state")
	// ErrNegativeResourceQuota is returned when a named resource pool is configured with quota <= 0.
	ErrNegativeResourceQuota = errors.New("engine: resource quota must be positive")
)

// ValidationError reports one problem found while validating a workflow
// definition. Multiple ValidationErrors may be returned together from
// Resolver.Validate; each names the offending step(s) so the caller can
// point a user at the exact location in the definition.
type ValidationError struct {
	Kind    ErrorKind
	StepIDs []string
	Err     error
}

func (e *ValidationError) Error() string {
	if len(e.StepIDs) == 0 {
		return fmt.Sprintf("validation: %v", e.Err)
	}
	return fmt.Sprintf("validation: %v (steps: %v)", e.Err, e.StepIDs)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StepError wraps an error that occurred while executing a specific step,
// carrying enough context for the Runner to build an aggregate workflow
// error and for callers to branch on Kind without string matching.
type StepError struct {
	StepID string
	Kind   ErrorKind
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// NewStepError constructs a StepError, the canonical way executors and the
// scheduler report step-scoped failures.
func NewStepError(stepID string, kind ErrorKind, err error) *StepError {
	return &StepError{StepID: stepID, Kind: kind, Err: err}
}
