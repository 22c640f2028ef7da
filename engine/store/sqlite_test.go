package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arcflow/workflow-engine/engine/store"
)

func TestSQLiteSaveLoadRoundTrip(t *testing.T) {
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	snap := store.Snapshot{WorkflowID: "wf-1", DefinitionJSON: []byte(`{"name":"wf-1"}`)}
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.WorkflowID != "wf-1" {
		t.Fatalf("want wf-1, got %q", got.WorkflowID)
	}
	if got.Generation != 1 {
		t.Fatalf("want generation 1 after the first save, got %d", got.Generation)
	}
}

func TestSQLiteLoadMissingReturnsErrNotFound(t *testing.T) {
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	_, err = s.Load(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSQLiteSaveDetectsGenerationConflict(t *testing.T) {
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Save(ctx, store.Snapshot{WorkflowID: "wf"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Saving again with the same (stale) generation must conflict, since the
	// first save already advanced the stored generation to 1.
	err = s.Save(ctx, store.Snapshot{WorkflowID: "wf", Generation: 0})
	if !errors.Is(err, store.ErrGenerationConflict) {
		t.Fatalf("want ErrGenerationConflict, got %v", err)
	}
}

func TestSQLiteSaveSucceedsWithCurrentGeneration(t *testing.T) {
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Save(ctx, store.Snapshot{WorkflowID: "wf"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := s.Load(ctx, "wf")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Save(ctx, store.Snapshot{WorkflowID: "wf", Generation: loaded.Generation}); err != nil {
		t.Fatalf("want a save with the current generation to succeed, got %v", err)
	}
}

func TestSQLiteDeleteAndList(t *testing.T) {
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	_ = s.Save(ctx, store.Snapshot{WorkflowID: "a"})
	_ = s.Save(ctx, store.Snapshot{WorkflowID: "b"})

	ids, err := s.List(ctx)
	if err != nil || len(ids) != 2 {
		t.Fatalf("want 2 ids, got %v, err=%v", ids, err)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ids, _ = s.List(ctx)
	if len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("want only \"b\" left, got %v", ids)
	}
}

func TestSQLiteCleanupLeavesFreshSnapshotsAlone(t *testing.T) {
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Save(ctx, store.Snapshot{WorkflowID: "wf"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	n, err := s.Cleanup(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 0 {
		t.Fatalf("want 0 removed, got %d", n)
	}
	if _, err := s.Load(ctx, "wf"); err != nil {
		t.Fatalf("want the fresh snapshot to survive cleanup: %v", err)
	}
}

func TestSQLiteCleanupRemovesStaleSnapshots(t *testing.T) {
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Save(ctx, store.Snapshot{WorkflowID: "wf"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A negative olderThan pushes the cutoff into the future, so the row
	// just written by CURRENT_TIMESTAMP counts as stale.
	n, err := s.Cleanup(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 removed, got %d", n)
	}
	if _, err := s.Load(ctx, "wf"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want the stale snapshot gone, got %v", err)
	}
}
