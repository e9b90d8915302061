// Package history persists the outcome of monitored workflow runs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("run not found")

// Record is one monitored run's outcome.
type Record struct {
	InvocationID string
	Workflow     string
	Outcome      string // completed, failed, timeout, shutdown
	StartedAt    time.Time
	FinishedAt   time.Time
	Statuses     map[string]string // node display name -> final status
}

// Store is a SQLite-backed run-history store.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	invocation_id TEXT PRIMARY KEY,
	workflow      TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT NOT NULL,
	statuses      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow, started_at);
`

// Open opens (creating if necessary) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record inserts a run outcome.
func (s *Store) Record(ctx context.Context, rec *Record) error {
	statuses, err := json.Marshal(rec.Statuses)
	if err != nil {
		return fmt.Errorf("encoding statuses: %w", err)
	}

	query := `
		INSERT INTO runs (invocation_id, workflow, outcome, started_at, finished_at, statuses)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.InvocationID,
		rec.Workflow,
		rec.Outcome,
		rec.StartedAt.UTC().Format(time.RFC3339),
		rec.FinishedAt.UTC().Format(time.RFC3339),
		string(statuses),
	)
	if err != nil {
		return fmt.Errorf("inserting run record: %w", err)
	}

	return nil
}

// Get retrieves a run by invocation ID.
func (s *Store) Get(ctx context.Context, invocationID string) (*Record, error) {
	query := `
		SELECT invocation_id, workflow, outcome, started_at, finished_at, statuses
		FROM runs
		WHERE invocation_id = ?
	`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, invocationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// List returns the most recent runs for a workflow, newest first.
func (s *Store) List(ctx context.Context, workflow string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT invocation_id, workflow, outcome, started_at, finished_at, statuses
		FROM runs
		WHERE workflow = ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, workflow, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteOlderThan removes runs finished before the retention window.
func (s *Store) DeleteOlderThan(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE finished_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("deleting old runs: %w", err)
	}
	return nil
}

// Close closes the underlying database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var startedAt, finishedAt, statuses string

	if err := row.Scan(
		&rec.InvocationID,
		&rec.Workflow,
		&rec.Outcome,
		&startedAt,
		&finishedAt,
		&statuses,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning run record: %w", err)
	}

	var err error
	if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if rec.FinishedAt, err = time.Parse(time.RFC3339, finishedAt); err != nil {
		return nil, fmt.Errorf("parsing finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(statuses), &rec.Statuses); err != nil {
		return nil, fmt.Errorf("decoding statuses: %w", err)
	}

	return &rec, nil
}
