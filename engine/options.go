package engine

import "time"

// Options configures a Runner. Every field has a documented default so a
// zero-value Options (or one built incrementally with the With* functions
// below) behaves sensibly.
//
// Functional options compose cleanly with a plain Options struct, matching
// the style used throughout this codebase: pass Options for bulk
// configuration, then layer With* calls to override individual fields.
//
//	r := engine.NewRunner(registry, store, bus, nil,
//	    engine.Options{MaxConcurrency: 4},
//	)
//	res, err := r.Execute(ctx, def, engine.WithCheckpointInterval(5))
type Options struct {
	// Timeout is the whole-workflow deadline. Zero means the Definition's
	// own Timeout (if any) applies; both zero means no deadline.
	Timeout time.Duration

	// ContinueOnError is the workflow-wide default for steps that don't
	// set their own continueOnError.
	ContinueOnError bool

	// Variables seeds the workflow Context's variables before execution.
	Variables map[string]any

	// ParallelEnabled is carried on Options but is not read by the Runner or
	// Scheduler, and neither is the Definition's own Parallel.Enabled flag:
	// the steps of a group always run concurrently up to the group's cap.
	ParallelEnabled *bool

	// MaxConcurrency is the default per-group concurrency cap used when a
	// group does not otherwise constrain itself. Zero means "unbounded
	// within the group's own size" (see Resolver.ParallelGroups).
	MaxConcurrency int

	// DefaultRetry is applied to steps that don't declare their own retry policy.
	DefaultRetry *RetryConfig

	// EnableLogging is carried on Options but is not read by the Runner or
	// Scheduler; neither writes Context log entries for step lifecycle
	// transitions.
	EnableLogging bool

	// EnableMetrics turns on Prometheus counters/gauges for scheduler and
	// runner activity (see engine/metrics).
	EnableMetrics bool

	// EnableHooks turns on Hook Bus emission. Disabling this is cheaper for
	// benchmarks and unit tests that don't need lifecycle events.
	EnableHooks bool

	// EnablePersistence turns on snapshot writes via the configured Store.
	EnablePersistence bool

	// CheckpointInterval is the number of completed steps between
	// checkpoint writes. Default 1 (checkpoint after every completion).
	CheckpointInterval int

	// ResumeFromState, when non-empty, tells Runner.Execute to behave like
	// Runner.Resume for this workflow id instead of starting fresh.
	ResumeFromState string

	// GracePeriod bounds how long the scheduler waits for in-flight steps
	// to observe cancellation before abandoning them. Default 5s.
	GracePeriod time.Duration

	// MaxHooks defaults to 256. It is not passed to any hook Bus; a Bus's
	// capacity is the maxHooks given to hook.New.
	MaxHooks int
}

// Option mutates Options; With* constructors below return one each so they
// can be passed to Runner.Execute and Runner.Resume, which apply them over
// the base Options value given to NewRunner.
type Option func(*Options)

func (o *Options) apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}

// WithTimeout sets the whole-workflow deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithContinueOnError sets the workflow-wide continueOnError default.
func WithContinueOnError(v bool) Option {
	return func(o *Options) { o.ContinueOnError = v }
}

// WithVariables seeds the workflow Context's initial variables.
func WithVariables(vars map[string]any) Option {
	return func(o *Options) { o.Variables = vars }
}

// WithParallelEnabled sets Options.ParallelEnabled, which the Runner and
// Scheduler do not read.
func WithParallelEnabled(v bool) Option {
	return func(o *Options) { o.ParallelEnabled = &v }
}

// WithMaxConcurrency sets the default per-group concurrency cap.
func WithMaxConcurrency(n int) Option {
	return func(o *Options) { o.MaxConcurrency = n }
}

// WithDefaultRetry sets the retry policy applied to steps without their own.
func WithDefaultRetry(rc RetryConfig) Option {
	return func(o *Options) { o.DefaultRetry = &rc }
}

// WithLogging sets Options.EnableLogging, which the Runner and Scheduler do
// not read.
func WithLogging(v bool) Option {
	return func(o *Options) { o.EnableLogging = v }
}

// WithMetrics enables or disables Prometheus instrumentation.
func WithMetrics(v bool) Option {
	return func(o *Options) { o.EnableMetrics = v }
}

// WithHooks enables or disables Hook Bus emission.
func WithHooks(v bool) Option {
	return func(o *Options) { o.EnableHooks = v }
}

// WithPersistence enables or disables snapshot writes.
func WithPersistence(v bool) Option {
	return func(o *Options) { o.EnablePersistence = v }
}

// WithCheckpointInterval sets the number of completed steps between checkpoints.
func WithCheckpointInterval(n int) Option {
	return func(o *Options) { o.CheckpointInterval = n }
}

// WithResumeFromState marks this Execute call as a resume of workflowID.
func WithResumeFromState(workflowID string) Option {
	return func(o *Options) { o.ResumeFromState = workflowID }
}

// WithGracePeriod sets how long the scheduler waits for cancelled steps to
// finish before abandoning them.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Options) { o.GracePeriod = d }
}

// WithMaxHooks sets Options.MaxHooks, which is not passed to any hook Bus.
func WithMaxHooks(n int) Option {
	return func(o *Options) { o.MaxHooks = n }
}

// normalized returns a copy of o with documented defaults filled in.
func (o Options) normalized() Options {
	out := o
	if out.CheckpointInterval <= 0 {
		out.CheckpointInterval = 1
	}
	if out.GracePeriod <= 0 {
		out.GracePeriod = 5 * time.Second
	}
	if out.MaxHooks <= 0 {
		out.MaxHooks = 256
	}
	return out
}
