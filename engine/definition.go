package engine

import "time"

// Definition is the immutable input to a workflow run: a name, an
// environment overlay, an ordered sequence of steps, and optional
// parallelism and timeout configuration. Definitions are typically parsed
// from a YAML document by engine/workflow, but the engine itself only
// depends on this struct — the source format is not its concern.
type Definition struct {
	Name        string            `yaml:"name" json:"name"`
	Version     string            `yaml:"version" json:"version"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Steps       []Step            `yaml:"steps" json:"steps"`
	Parallel    *ParallelConfig   `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	// TimeoutMs is the whole-workflow deadline in milliseconds. Zero means no deadline.
	TimeoutMs int64 `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Timeout returns the workflow-level deadline as a time.Duration, or zero
// if none was configured.
func (d *Definition) Timeout() time.Duration {
	if d.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// ParallelConfig declares workflow-wide parallelism defaults and named
// resource quotas. A named resource is a semaphore shared across every step
// that tags itself with that name, regardless of which parallel group the
// step falls into.
type ParallelConfig struct {
	Enabled                bool           `yaml:"enabled" json:"enabled"`
	DefaultMaxConcurrency  int            `yaml:"defaultMaxConcurrency,omitempty" json:"defaultMaxConcurrency,omitempty"`
	Resources              map[string]int `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// Step is one node of the workflow graph: a unique id, a type dispatched to
// a registered Executor, an opaque type-specific config, and the
// dependency/retry/parallel metadata the scheduler enforces.
type Step struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Type string `yaml:"type" json:"type"`

	// Config is the type-specific, opaque configuration for this step; its
	// shape is understood only by the executor registered for Type.
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`

	DependsOn []string `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`

	// Condition, when non-empty, is evaluated by the interpolator's
	// expression sublanguage before the step runs; a falsy result skips it.
	// An empty string means the step has no condition and always runs; the
	// literal "false" is treated as falsy.
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	ContinueOnError bool `yaml:"continueOnError,omitempty" json:"continueOnError,omitempty"`

	Parallel *StepParallel `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Retry    *RetryConfig  `yaml:"retry,omitempty" json:"retry,omitempty"`

	// TimeoutMs overrides the workflow-level step timeout for this step. Zero
	// means "inherit".
	TimeoutMs int64 `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Extra holds plugin-defined fields not recognized by the core schema;
	// unknown top-level fields on the step are preserved here rather than
	// rejected, per the "unknown fields are ignored with a warning" rule.
	Extra map[string]any `yaml:"-" json:"extra,omitempty"`
}

// Timeout returns this step's configured deadline, or zero if unset.
func (s *Step) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// StepParallel configures how a single step participates in the parallel
// scheduler: whether it opts into parallel grouping at all, a per-step
// concurrency cap, an optional named resource, and whether a failure in
// this step should be isolated from its siblings in the same group.
type StepParallel struct {
	Enabled         bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	MaxConcurrency  int    `yaml:"maxConcurrency,omitempty" json:"maxConcurrency,omitempty"`
	Resource        string `yaml:"resource,omitempty" json:"resource,omitempty"`
	IsolateErrors   bool   `yaml:"isolateErrors,omitempty" json:"isolateErrors,omitempty"`
}

// RetryConfig configures the attempt/backoff policy applied to a single
// step's execution by the retry wrapper (see retry.go).
type RetryConfig struct {
	MaxAttempts     int      `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	InitialDelayMs  int64    `yaml:"initialDelayMs,omitempty" json:"initialDelayMs,omitempty"`
	BackoffFactor   float64  `yaml:"backoffFactor,omitempty" json:"backoffFactor,omitempty"`
	MaxDelayMs      int64    `yaml:"maxDelayMs,omitempty" json:"maxDelayMs,omitempty"`
	RetryableKinds  []string `yaml:"retryableKinds,omitempty" json:"retryableKinds,omitempty"`
}

// normalized returns a copy of rc with defaults applied: MaxAttempts
// defaults to 1 (no retry), BackoffFactor defaults to 2.
func (rc *RetryConfig) normalized() RetryConfig {
	out := RetryConfig{MaxAttempts: 1, BackoffFactor: 2}
	if rc == nil {
		return out
	}
	out = *rc
	if out.MaxAttempts < 1 {
		out.MaxAttempts = 1
	}
	if out.BackoffFactor <= 0 {
		out.BackoffFactor = 2
	}
	return out
}

// StepResult is the outcome of executing one step, recorded by the
// scheduler and surfaced in the workflow result and persistence snapshots.
type StepResult struct {
	Success        bool           `json:"success"`
	Output         map[string]any `json:"output,omitempty"`
	Error          string         `json:"error,omitempty"`
	Skipped        bool           `json:"skipped,omitempty"`
	SkipReason     string         `json:"skipReason,omitempty"`
	ExecutionTime  time.Duration  `json:"executionTime"`
	Attempts       int            `json:"attempts"`
	ParallelGroup  int            `json:"parallelGroup"`
	Cancelled      bool           `json:"cancelled,omitempty"`
}

// Group is a derived, non-persisted set of steps sharing the same
// dependency level, schedulable concurrently under a shared concurrency
// cap and (if uniform across the group) a named resource quota.
type Group struct {
	Index          int
	Steps          []Step
	MaxConcurrency int
	Resource       string // empty if the group's steps don't all share one resource
}
