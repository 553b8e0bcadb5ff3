// Package history persists workflow run summaries in a local SQLite
// database. The engine itself never touches it; recording runs is the
// caller's concern.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flumeworks/flume/pkg/engine"
)

// ErrRunNotFound is returned when a run ID has no history record.
var ErrRunNotFound = errors.New("workflow run not found")

// Record is one workflow run summary.
type Record struct {
	ID         string
	Pipeline   string
	Namespace  string
	GitURL     string
	GitRef     string
	CommitHash string
	State      string
	Error      string
	Stages     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRecord summarises a finished workflow run.
func NewRecord(run *engine.WorkflowRun) *Record {
	stages := 0
	for _, step := range run.Steps {
		stages += len(step.Stages)
	}
	record := &Record{
		ID:         run.ID,
		Pipeline:   run.Pipeline,
		Namespace:  run.Namespace,
		GitURL:     run.GitURL,
		GitRef:     run.GitRef,
		CommitHash: run.CommitHash,
		State:      string(run.State),
		Stages:     stages,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	if run.Err != nil {
		record.Error = run.Err.Error()
	}
	return record
}

// Duration returns the run's wall-clock duration.
func (r *Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the history database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS workflow_runs (
		id TEXT PRIMARY KEY,
		pipeline TEXT NOT NULL,
		namespace TEXT NOT NULL,
		git_url TEXT NOT NULL,
		git_ref TEXT,
		commit_hash TEXT,
		state TEXT NOT NULL,
		error TEXT,
		stages INTEGER DEFAULT 0,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON workflow_runs(pipeline);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON workflow_runs(started_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// Insert stores one run summary.
func (s *Store) Insert(ctx context.Context, r *Record) error {
	query := `
		INSERT INTO workflow_runs (id, pipeline, namespace, git_url, git_ref, commit_hash, state, error, stages, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Pipeline, r.Namespace, r.GitURL, r.GitRef, r.CommitHash,
		r.State, r.Error, r.Stages,
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}
	return nil
}

// Get returns the run with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	query := `
		SELECT id, pipeline, namespace, git_url, git_ref, commit_hash, state, error, stages, started_at, finished_at
		FROM workflow_runs WHERE id = ?
	`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow run: %w", err)
	}
	return record, nil
}

// List returns the most recent runs, newest first. A non-positive
// limit defaults to 100.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, pipeline, namespace, git_url, git_ref, commit_hash, state, error, stages, started_at, finished_at
		FROM workflow_runs
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query workflow runs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	r := &Record{}
	var startedAt, finishedAt int64

	err := row.Scan(
		&r.ID, &r.Pipeline, &r.Namespace, &r.GitURL, &r.GitRef, &r.CommitHash,
		&r.State, &r.Error, &r.Stages, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	r.StartedAt = time.UnixMilli(startedAt)
	r.FinishedAt = time.UnixMilli(finishedAt)
	return r, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
