package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQL is a MySQL-backed Store: one row per workflow id in a
// workflow_snapshots table, with compare-and-set Save via the row's
// generation column, mirroring the SQLite backend's semantics for
// deployments that need a shared database across Runner instances.
type MySQL struct {
	db *sql.DB
}

// NewMySQL opens a connection pool against dsn and ensures the schema exists.
func NewMySQL(dsn string) (*MySQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	m := &MySQL{db: db}
	if err := m.createSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func (m *MySQL) createSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS workflow_snapshots (
			workflow_id VARCHAR(255) PRIMARY KEY,
			snapshot    LONGTEXT NOT NULL,
			generation  BIGINT NOT NULL DEFAULT 0,
			created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)
	`
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("mysql: create schema: %w", err)
	}
	return nil
}

// Save implements Store. MySQL lacks SQLite's INSERT ... ON CONFLICT DO
// UPDATE ... WHERE form, so the compare-and-set is done with an explicit
// transaction: read the current generation, then write only if it still
// matches what the caller expects.
func (m *MySQL) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysql: save: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT generation FROM workflow_snapshots WHERE workflow_id = ? FOR UPDATE`,
		snap.WorkflowID,
	).Scan(&current)

	switch err {
	case sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_snapshots (workflow_id, snapshot, generation) VALUES (?, ?, ?)`,
			snap.WorkflowID, data, snap.Generation+1,
		); err != nil {
			return fmt.Errorf("mysql: save: %w", err)
		}
	case nil:
		if current != snap.Generation {
			return ErrGenerationConflict
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE workflow_snapshots SET snapshot = ?, generation = generation + 1 WHERE workflow_id = ?`,
			data, snap.WorkflowID,
		); err != nil {
			return fmt.Errorf("mysql: save: %w", err)
		}
	default:
		return fmt.Errorf("mysql: save: %w", err)
	}

	return tx.Commit()
}

// Load implements Store.
func (m *MySQL) Load(ctx context.Context, workflowID string) (Snapshot, error) {
	var data []byte
	var generation int64
	err := m.db.QueryRowContext(ctx,
		`SELECT snapshot, generation FROM workflow_snapshots WHERE workflow_id = ?`,
		workflowID,
	).Scan(&data, &generation)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("mysql: load: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("mysql: load: %w", err)
	}
	snap.Generation = generation
	return snap, nil
}

// Delete implements Store.
func (m *MySQL) Delete(ctx context.Context, workflowID string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM workflow_snapshots WHERE workflow_id = ?`, workflowID); err != nil {
		return fmt.Errorf("mysql: delete: %w", err)
	}
	return nil
}

// List implements Store.
func (m *MySQL) List(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT workflow_id FROM workflow_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("mysql: list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("mysql: list: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Cleanup implements Store, deleting every row last updated before
// time.Now().Add(-olderThan).
func (m *MySQL) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := m.db.ExecContext(ctx, `DELETE FROM workflow_snapshots WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mysql: cleanup: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mysql: cleanup: %w", err)
	}
	return int(rows), nil
}

// Close implements Store.
func (m *MySQL) Close() error { return m.db.Close() }
