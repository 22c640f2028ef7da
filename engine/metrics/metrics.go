// Package metrics provides Prometheus-backed instrumentation for the
// workflow engine's scheduler, retry wrapper, and persistence layer,
// adapted from the engine's original node-level metrics to the workflow
// engine's step/group/resource vocabulary.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the gauges/histograms/counters the Runner and Scheduler
// update when Options.EnableMetrics is set. All metrics are namespaced
// "workflow_engine_". The engine fills the run_id label with the workflow id.
//
//  1. active_steps (gauge): steps currently executing, labeled by run_id.
//  2. queue_depth (gauge): work items waiting to be dispatched in the
//     current group, labeled by run_id. Set only through SetQueueDepth,
//     which the Runner and Scheduler do not call.
//  3. resource_in_use (gauge): in-flight holders of a named resource pool,
//     labeled by run_id, resource. Must never exceed the pool's quota. Set
//     only through SetResourceInUse, which the Runner and Scheduler do not
//     call.
//  4. step_latency_ms (histogram): step execution duration, labeled by
//     run_id, step_id, status (success/error/timeout). Skipped steps are
//     not observed.
//  5. retries_total (counter): retry attempts, labeled by run_id, step_id.
//  6. checkpoints_total (counter): checkpoint writes, labeled by run_id, reason.
type Metrics struct {
	activeSteps    *prometheus.GaugeVec
	queueDepth     *prometheus.GaugeVec
	resourceInUse  *prometheus.GaugeVec
	stepLatency    *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	checkpoints    *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// New creates and registers all engine metrics with the given registry. If
// registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		enabled: true,
		activeSteps: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workflow_engine",
			Name:      "active_steps",
			Help:      "Steps currently executing within a run",
		}, []string{"run_id"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workflow_engine",
			Name:      "queue_depth",
			Help:      "Steps waiting for a scheduler slot within the current group",
		}, []string{"run_id"}),
		resourceInUse: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workflow_engine",
			Name:      "resource_in_use",
			Help:      "In-flight holders of a named resource pool",
		}, []string{"run_id", "resource"}),
		stepLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflow_engine",
			Name:      "step_latency_ms",
			Help:      "Step execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"run_id", "step_id", "status"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Name:      "retries_total",
			Help:      "Cumulative retry attempts per step",
		}, []string{"run_id", "step_id"}),
		checkpoints: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Name:      "checkpoints_total",
			Help:      "Checkpoint writes, by trigger reason",
		}, []string{"run_id", "reason"}),
	}
}

func (m *Metrics) isEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Disable stops metric recording (tests that want a clean registry per run).
func (m *Metrics) Disable() { m.mu.Lock(); m.enabled = false; m.mu.Unlock() }

// Enable resumes metric recording.
func (m *Metrics) Enable() { m.mu.Lock(); m.enabled = true; m.mu.Unlock() }

// SetActiveSteps records the current in-flight step count for a run.
func (m *Metrics) SetActiveSteps(runID string, n int) {
	if !m.isEnabled() {
		return
	}
	m.activeSteps.WithLabelValues(runID).Set(float64(n))
}

// SetQueueDepth records the current backlog for a run's active group.
func (m *Metrics) SetQueueDepth(runID string, n int) {
	if !m.isEnabled() {
		return
	}
	m.queueDepth.WithLabelValues(runID).Set(float64(n))
}

// SetResourceInUse records the current holder count of a named resource pool.
func (m *Metrics) SetResourceInUse(runID, resource string, n int) {
	if !m.isEnabled() {
		return
	}
	m.resourceInUse.WithLabelValues(runID, resource).Set(float64(n))
}

// ObserveStepLatency records one step's execution duration.
func (m *Metrics) ObserveStepLatency(runID, stepID, status string, d time.Duration) {
	if !m.isEnabled() {
		return
	}
	m.stepLatency.WithLabelValues(runID, stepID, status).Observe(float64(d.Milliseconds()))
}

// IncRetries increments the retry counter for a step.
func (m *Metrics) IncRetries(runID, stepID string) {
	if !m.isEnabled() {
		return
	}
	m.retries.WithLabelValues(runID, stepID).Inc()
}

// IncCheckpoints increments the checkpoint counter for a run.
func (m *Metrics) IncCheckpoints(runID, reason string) {
	if !m.isEnabled() {
		return
	}
	m.checkpoints.WithLabelValues(runID, reason).Inc()
}
