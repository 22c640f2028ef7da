// Package store provides persistence backends for workflow run snapshots:
// an in-memory store for tests, a file-backed store using atomic
// temp-then-rename writes with an advisory lock, and SQL-backed stores for
// SQLite and MySQL using compare-and-set generations.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested workflow id has no snapshot.
var ErrNotFound = errors.New("store: snapshot not found")

// ErrGenerationConflict is returned by Save when the caller's expected
// generation does not match the stored generation -- someone else wrote a
// snapshot for this workflow id in the meantime.
var ErrGenerationConflict = errors.New("store: generation conflict")

// Snapshot is the complete, JSON-serializable state needed to resume a
// workflow run: the definition it was started from, the Context's
// deep-copied state, per-step results recorded so far, and run metadata.
type Snapshot struct {
	WorkflowID      string            `json:"workflowId"`
	DefinitionJSON  []byte            `json:"definition"`
	ContextJSON     []byte            `json:"context"`
	ExecutionOrder  []string          `json:"executionOrder"`
	StepStates      map[string]string `json:"stepStates"`
	StepResults     map[string][]byte `json:"stepResults"`
	CurrentIndex    int               `json:"currentIndex"`
	WorkflowStatus  string            `json:"workflowStatus"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	PausedDuration  time.Duration     `json:"pausedDuration"`
	// Generation is a monotonically increasing write counter used for
	// compare-and-set updates by backends that support it (sqlite, mysql).
	// The memory backend ignores the value passed to Save and reports the
	// number of saves on Load; the file backend writes the value as given and
	// reports it back on Load. Neither checks it.
	Generation int64 `json:"generation"`
}

// Store persists and retrieves workflow Snapshots, keyed by workflow id.
type Store interface {
	// Save writes snap, overwriting any existing snapshot for its
	// WorkflowID. Backends that support compare-and-set use
	// snap.Generation as the expected current generation; passing the
	// wrong value returns ErrGenerationConflict.
	Save(ctx context.Context, snap Snapshot) error

	// Load retrieves the snapshot for workflowID, or ErrNotFound.
	Load(ctx context.Context, workflowID string) (Snapshot, error)

	// Delete removes the snapshot for workflowID. Deleting an id with no
	// snapshot is not an error.
	Delete(ctx context.Context, workflowID string) error

	// List returns the workflow ids with a persisted snapshot.
	List(ctx context.Context) ([]string, error)

	// Cleanup deletes every snapshot last updated more than olderThan ago,
	// returning how many were removed. Backends prune by UpdatedAt, not
	// CreatedAt, so a long-running workflow that keeps checkpointing is
	// never pruned out from under itself.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// Close releases any resources (file handles, DB connections) held by the store.
	Close() error
}
