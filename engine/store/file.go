package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// File is a filesystem-backed Store. Each workflow id maps to one JSON
// file under root; writes go through a temp-file-then-rename so a reader
// never observes a partially written snapshot, guarded by a gofrs/flock
// advisory lock so concurrent processes (not just goroutines) serialize
// their writes. The previous version of a snapshot is kept alongside as a
// single-generation ".bak" file before being overwritten.
type File struct {
	root string

	mu    sync.Mutex
	locks map[string]*flock.Flock
}

// NewFile creates a File store rooted at dir, creating it if necessary.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &File{root: dir, locks: map[string]*flock.Flock{}}, nil
}

func (f *File) path(workflowID string) string {
	return filepath.Join(f.root, workflowID+".json")
}

func (f *File) bakPath(workflowID string) string {
	return filepath.Join(f.root, workflowID+".json.bak")
}

func (f *File) lockPath(workflowID string) string {
	return filepath.Join(f.root, workflowID+".lock")
}

func (f *File) lockFor(workflowID string) *flock.Flock {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[workflowID]
	if !ok {
		l = flock.New(f.lockPath(workflowID))
		f.locks[workflowID] = l
	}
	return l
}

// Save implements Store. Generation is ignored -- the filesystem backend
// has no concurrent-writer CAS support; last writer wins, serialized by
// the advisory lock.
func (f *File) Save(_ context.Context, snap Snapshot) error {
	lock := f.lockFor(snap.WorkflowID)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	target := f.path(snap.WorkflowID)
	if existing, err := os.ReadFile(target); err == nil {
		_ = os.WriteFile(f.bakPath(snap.WorkflowID), existing, 0o644)
	}

	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Load implements Store.
func (f *File) Load(_ context.Context, workflowID string) (Snapshot, error) {
	lock := f.lockFor(workflowID)
	if err := lock.RLock(); err != nil {
		return Snapshot{}, err
	}
	defer lock.Unlock()

	data, err := os.ReadFile(f.path(workflowID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Delete implements Store.
func (f *File) Delete(_ context.Context, workflowID string) error {
	lock := f.lockFor(workflowID)
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	for _, p := range []string{f.path(workflowID), f.bakPath(workflowID)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// List implements Store.
func (f *File) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		const suffix = ".json"
		if !e.IsDir() && len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			ids = append(ids, name[:len(name)-len(suffix)])
		}
	}
	return ids, nil
}

// Cleanup implements Store by loading each id's snapshot and removing the
// ones whose UpdatedAt is older than olderThan. A snapshot this process
// cannot parse is left alone rather than guessed at.
func (f *File) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := f.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for _, id := range ids {
		snap, err := f.Load(ctx, id)
		if err != nil {
			continue
		}
		if snap.UpdatedAt.Before(cutoff) {
			if err := f.Delete(ctx, id); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// Close implements Store. No-op: file handles are opened and closed per call.
func (f *File) Close() error { return nil }
