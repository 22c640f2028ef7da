package hook

import "context"

// NullHandler discards every event. Useful for benchmarks and tests that
// need a Handler but no observable side effect.
type NullHandler struct{}

// Handle satisfies hook.Handler by doing nothing.
func (NullHandler) Handle(context.Context, Payload) error { return nil }
