package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arcflow/workflow-engine/engine/metrics"
)

// runWithRetry executes fn, retrying on failure according to rc (falling
// back to def when rc is nil, and to a single-attempt policy when both are
// nil). Backoff timing is delegated to cenkalti/backoff's exponential
// implementation; this function's own job is just mapping RetryConfig onto
// a backoff.BackOff and deciding, per attempt, whether the error qualifies
// for another try at all.
func runWithRetry(
	ctx context.Context,
	step Step,
	fn func(context.Context) (map[string]any, error),
	def *RetryConfig,
	m *metrics.Metrics,
	workflowID string,
) (map[string]any, int, error) {
	rc := step.Retry
	if rc == nil {
		rc = def
	}
	policy := rc.normalized()

	bo := backoff.NewExponentialBackOff()
	// Randomization is disabled: retry delays follow the exponential formula
	// deterministically, with no jitter spread around each interval.
	bo.RandomizationFactor = 0
	bo.InitialInterval = time.Duration(policy.InitialDelayMs) * time.Millisecond
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = 500 * time.Millisecond
	}
	bo.Multiplier = policy.BackoffFactor
	bo.MaxInterval = time.Duration(policy.MaxDelayMs) * time.Millisecond
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = 30 * time.Second
	}
	bo.MaxElapsedTime = 0 // bounded by attempt count below, not wall clock

	bounded := backoff.WithMaxRetries(bo, uint64(maxInt(policy.MaxAttempts-1, 0)))
	withCtx := backoff.WithContext(bounded, ctx)

	var output map[string]any
	attempts := 0
	var lastErr error

	operation := func() error {
		attempts++
		out, err := fn(ctx)
		if err == nil {
			output = out
			return nil
		}
		lastErr = err
		if attempts >= policy.MaxAttempts || !retryable(err, policy.RetryableKinds) {
			return backoff.Permanent(err)
		}
		if m != nil {
			m.IncRetries(workflowID, step.ID)
		}
		return err
	}

	err := backoff.Retry(operation, withCtx)
	if err != nil {
		if lastErr != nil {
			return nil, attempts, NewStepError(step.ID, classifyErrKind(lastErr), lastErr)
		}
		return nil, attempts, NewStepError(step.ID, KindExecutorFailure, err)
	}
	return output, attempts, nil
}

// retryable reports whether err qualifies for another attempt under kinds.
// An empty kinds list means every error is retryable; otherwise the error's
// classified ErrorKind (if it carries one) must appear in the list.
func retryable(err error, kinds []string) bool {
	if len(kinds) == 0 {
		return true
	}
	kind := string(classifyErrKind(err))
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// classifyErrKind extracts the ErrorKind carried by a StepError/ValidationError,
// falling back to KindTimeout for context deadline errors and
// KindExecutorFailure for anything else unclassified.
func classifyErrKind(err error) ErrorKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindExecutorFailure
}
