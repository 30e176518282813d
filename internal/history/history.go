// Package history persists migration run logs in a local SQLite file so
// past runs can be inspected after the process exits. The in-memory log
// returned to the caller stays authoritative; recording here is an
// append-only journal.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gestock/dbgate/internal/migrate"
	"github.com/gestock/dbgate/internal/tenant"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS migration_run (
	run_id      TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS migration_entry (
	run_id         TEXT    NOT NULL REFERENCES migration_run(run_id),
	seq            INTEGER NOT NULL,
	tenant_id      TEXT    NOT NULL,
	table_name     TEXT    NOT NULL,
	phase          TEXT    NOT NULL,
	status         TEXT    NOT NULL,
	rows_attempted INTEGER NOT NULL,
	rows_succeeded INTEGER NOT NULL,
	error          TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, seq)
);`

// Store is a journal over one SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the journal file and applies its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// RecordRun writes a completed run and its entries in one transaction.
func (s *Store) RecordRun(ctx context.Context, log *migrate.Log) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO migration_run (run_id, status, started_at, finished_at) VALUES (?, ?, ?, ?)`,
		log.RunID, log.Status, log.StartedAt.Format(time.RFC3339Nano), log.FinishedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("record run %s: %w", log.RunID, err)
	}
	for i, e := range log.Entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO migration_entry
			 (run_id, seq, tenant_id, table_name, phase, status, rows_attempted, rows_succeeded, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			log.RunID, i, e.Tenant.String(), e.Table, string(e.Phase), string(e.Status),
			e.RowsAttempted, e.RowsSucceeded, e.Error,
		); err != nil {
			return fmt.Errorf("record entry %d of run %s: %w", i, log.RunID, err)
		}
	}
	return tx.Commit()
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID      string    `json:"runId"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Entries    int       `json:"entries"`
	Failed     int       `json:"failed"`
}

// ListRuns returns recorded runs, most recent first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.status, r.started_at, r.finished_at,
		       COUNT(e.run_id),
		       COALESCE(SUM(CASE WHEN e.status = 'FAILED' THEN 1 ELSE 0 END), 0)
		FROM migration_run r
		LEFT JOIN migration_entry e ON e.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var started, finished string
		if err := rows.Scan(&rs.RunID, &rs.Status, &started, &finished, &rs.Entries, &rs.Failed); err != nil {
			return nil, err
		}
		rs.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rs.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, rs)
	}
	return out, rows.Err()
}

// RunExists reports whether a run was recorded, independently of how
// many entries it produced.
func (s *Store) RunExists(ctx context.Context, runID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM migration_run WHERE run_id = ?`, runID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RunEntries returns the entries of one run in append order.
func (s *Store) RunEntries(ctx context.Context, runID string) ([]migrate.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, table_name, phase, status, rows_attempted, rows_succeeded, error
		FROM migration_entry WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []migrate.Entry
	for rows.Next() {
		var e migrate.Entry
		var tid, phase, status string
		if err := rows.Scan(&tid, &e.Table, &phase, &status, &e.RowsAttempted, &e.RowsSucceeded, &e.Error); err != nil {
			return nil, err
		}
		e.Tenant = tenant.ID(tid)
		e.Phase = migrate.Phase(phase)
		e.Status = migrate.Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
