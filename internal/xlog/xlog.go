// Package xlog provides the engine's ambient (non-workflow-event) logging:
// process startup/shutdown, store/connection errors, and other operational
// messages that aren't part of a workflow's own hook-delivered lifecycle.
package xlog

import (
	"context"
	"log/slog"
	"os"
)

var base = slog.New(slog.NewTextHandler(os.Stderr, nil))

// SetJSON switches ambient logging to JSON output, for deployments that
// ship logs to a collector rather than a terminal.
func SetJSON() {
	base = slog.New(slog.NewJSONHandler(os.Stderr, nil))
}

// With returns a logger annotated with the given key/value pairs.
func With(args ...any) *slog.Logger { return base.With(args...) }

// Info logs at info level.
func Info(ctx context.Context, msg string, args ...any) { base.InfoContext(ctx, msg, args...) }

// Warn logs at warn level.
func Warn(ctx context.Context, msg string, args ...any) { base.WarnContext(ctx, msg, args...) }

// Error logs at error level.
func Error(ctx context.Context, msg string, args ...any) { base.ErrorContext(ctx, msg, args...) }

// Debug logs at debug level.
func Debug(ctx context.Context, msg string, args ...any) { base.DebugContext(ctx, msg, args...) }
