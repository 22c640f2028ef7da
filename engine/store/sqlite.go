package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a SQLite-backed Store: a single file database holding one row
// per workflow id, with WAL mode enabled for concurrent reads and a
// compare-and-set Save guarded by the row's generation column.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (creating if necessary) a SQLite database at path and
// ensures its schema exists. path may be ":memory:" for an ephemeral store.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	s := &SQLite{db: db, path: path}
	if err := s.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) createSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS workflow_snapshots (
			workflow_id     TEXT PRIMARY KEY,
			snapshot        TEXT NOT NULL,
			generation      INTEGER NOT NULL DEFAULT 0,
			created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: create schema: %w", err)
	}
	return nil
}

// Save implements Store, using an UPSERT that succeeds unconditionally
// when no row exists yet, and otherwise only when the stored generation
// matches snap.Generation (compare-and-set).
func (s *SQLite) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_snapshots (workflow_id, snapshot, generation, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(workflow_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			generation = workflow_snapshots.generation + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE workflow_snapshots.generation = ?
	`, snap.WorkflowID, data, snap.Generation+1, snap.Generation)
	if err != nil {
		return fmt.Errorf("sqlite: save: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: save: %w", err)
	}
	if rows == 0 {
		// No insert happened (row existed) and the conditional update
		// didn't match: either a real conflict, or a first-ever insert
		// raced with another writer. Distinguish by checking existence.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM workflow_snapshots WHERE workflow_id = ?)`,
			snap.WorkflowID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("sqlite: save: %w", err)
		}
		if exists {
			return ErrGenerationConflict
		}
	}
	return nil
}

// Load implements Store.
func (s *SQLite) Load(ctx context.Context, workflowID string) (Snapshot, error) {
	var data []byte
	var generation int64
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot, generation FROM workflow_snapshots WHERE workflow_id = ?`,
		workflowID,
	).Scan(&data, &generation)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("sqlite: load: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("sqlite: load: %w", err)
	}
	snap.Generation = generation
	return snap, nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, workflowID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflow_snapshots WHERE workflow_id = ?`, workflowID); err != nil {
		return fmt.Errorf("sqlite: delete: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLite) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT workflow_id FROM workflow_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: list: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Cleanup implements Store, deleting every row last updated before
// time.Now().Add(-olderThan).
func (s *SQLite) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflow_snapshots WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: cleanup: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: cleanup: %w", err)
	}
	return int(rows), nil
}

// Close implements Store.
func (s *SQLite) Close() error { return s.db.Close() }
