// Package executor provides the engine's built-in step executors: script
// (subprocess) and agent (LLM chat), registered against an engine.Registry
// by the caller that wires up a Runner.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/arcflow/workflow-engine/engine"
	"github.com/dustin/go-humanize"
)

// DefaultMaxOutputBytes bounds stdout/stderr capture per script invocation
// unless a step overrides it via config.maxOutputBytes.
const DefaultMaxOutputBytes = 10 * 1024 * 1024

// runSentinelEnv is set on every spawned process so scripts can detect
// they're running under the engine rather than a developer's shell.
const runSentinelEnv = "WORKFLOW_RUN=1"

// Script runs a step's config.command as a subprocess, feeding it the
// workflow environment overlay and capturing size-bounded stdout/stderr.
//
// Expected step.Config:
//
//	command: ["/bin/sh", "-c", "echo hello"]   // required, argv form
//	workdir: "/path"                           // optional
//	maxOutputBytes: 1048576                     // optional, default 10MiB
type Script struct{}

// CanExecute implements engine.Executor.
func (Script) CanExecute(step engine.Step) bool { return step.Type == "script" }

// Validate implements engine.Executor.
func (Script) Validate(step engine.Step) []error {
	var errs []error
	cmd, ok := step.Config["command"]
	if !ok {
		errs = append(errs, errors.New("script: config.command is required"))
		return errs
	}
	argv, ok := toStringSlice(cmd)
	if !ok || len(argv) == 0 {
		errs = append(errs, errors.New("script: config.command must be a non-empty string array"))
	}
	return errs
}

// Execute implements engine.Executor.
func (Script) Execute(ctx context.Context, step engine.Step, wctx *engine.Context) (map[string]any, error) {
	argv, ok := toStringSlice(step.Config["command"])
	if !ok || len(argv) == 0 {
		return nil, errors.New("script: config.command must be a non-empty string array")
	}

	maxBytes := DefaultMaxOutputBytes
	if n, ok := step.Config["maxOutputBytes"].(float64); ok && n > 0 {
		maxBytes = int(n)
	}

	// runCtx is cancelled the moment either stream exceeds maxBytes, which
	// makes exec.CommandContext's watcher goroutine kill the child --
	// exceeding the limit always fails the step, regardless of exit code.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	if wd, ok := step.Config["workdir"].(string); ok && wd != "" {
		cmd.Dir = wd
	}

	cmd.Env = append(os.Environ(), runSentinelEnv)
	for k, v := range wctx.Environment() {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout := newBoundedBuffer(maxBytes, cancel)
	stderr := newBoundedBuffer(maxBytes, cancel)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()

	out := map[string]any{
		"stdout": stdout.String(),
		"stderr": stderr.String(),
	}
	if exitErr, ok := asExitError(err); ok {
		out["exitCode"] = exitErr.ExitCode()
	} else if err == nil {
		out["exitCode"] = 0
	}

	if stdout.truncated || stderr.truncated {
		return out, fmt.Errorf("script: output exceeded %s limit, process killed", humanize.Bytes(uint64(maxBytes)))
	}

	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return out, fmt.Errorf("script: %s", detail)
	}
	return out, nil
}

func asExitError(err error) (*exec.ExitError, bool) {
	var ee *exec.ExitError
	return ee, errors.As(err, &ee)
}

func toStringSlice(v any) ([]string, bool) {
	switch val := v.(type) {
	case []string:
		return val, true
	case []any:
		out := make([]string, len(val))
		for i, e := range val {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// errOutputLimitExceeded is returned from boundedBuffer.Write once a stream
// exceeds its cap, so the copying goroutine inside exec.Cmd surfaces it as
// a Wait() error instead of silently absorbing the extra bytes.
var errOutputLimitExceeded = errors.New("executor: output limit exceeded")

// boundedBuffer caps how much of a stream it retains. The first write that
// would exceed max is rejected and onLimit is invoked once to tear down the
// process producing the stream.
type boundedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
	onLimit   func()
	killOnce  sync.Once
}

func newBoundedBuffer(max int, onLimit func()) *boundedBuffer {
	return &boundedBuffer{max: max, onLimit: onLimit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.markTruncated()
		return 0, errOutputLimitExceeded
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.markTruncated()
		return remaining, errOutputLimitExceeded
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) markTruncated() {
	b.truncated = true
	if b.onLimit != nil {
		b.killOnce.Do(b.onLimit)
	}
}

func (b *boundedBuffer) String() string { return b.buf.String() }
