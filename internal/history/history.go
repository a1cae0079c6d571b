// Package history persists run reports in a local SQLite catalog.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/dirhaul/dirhaul/internal/models"
)

// ErrNoRuns is returned by LastRun when the job has no recorded runs.
var ErrNoRuns = errors.New("no runs recorded")

// Store is a SQLite-backed run catalog.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the catalog at path and runs migrations.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	// modernc.org/sqlite applies pragmas through the _pragma query form.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}

	store.logger.Debug().Str("path", path).Msg("history database opened")

	return store, nil
}

// migrate creates the necessary tables.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			job TEXT NOT NULL,
			status TEXT NOT NULL,
			artifact TEXT,
			error TEXT,
			archive_bytes INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			pruned_local INTEGER NOT NULL DEFAULT 0,
			pruned_remote INTEGER NOT NULL DEFAULT 0,
			prune_failures INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job);
		CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordRun stores a finished run report.
func (s *Store) RecordRun(ctx context.Context, rep *models.RunReport) error {
	query := `
		INSERT INTO runs (id, job, status, artifact, error, archive_bytes, duration_ms, pruned_local, pruned_remote, prune_failures, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rep.ID,
		rep.Job,
		string(rep.Status),
		nullString(rep.Artifact),
		nullString(rep.Error),
		rep.ArchiveBytes,
		rep.Duration().Milliseconds(),
		rep.PrunedLocal,
		rep.PrunedRemote,
		rep.PruneFailures,
		rep.StartedAt.Format(time.RFC3339),
		rep.FinishedAt.Format(time.RFC3339),
	)

	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	return nil
}

// ListOptions narrows a List call.
type ListOptions struct {
	// Job filters to one job when non-empty.
	Job string
	// Limit caps the result count; zero means no cap.
	Limit int
	// OnlyFailed keeps failed runs only.
	OnlyFailed bool
}

// List returns runs newest-first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*models.RunReport, error) {
	query := `
		SELECT id, job, status, artifact, error, archive_bytes, pruned_local, pruned_remote, prune_failures, started_at, finished_at
		FROM runs
	`

	var (
		where []string
		args  []any
	)
	if opts.Job != "" {
		where = append(where, "job = ?")
		args = append(args, opts.Job)
	}
	if opts.OnlyFailed {
		where = append(where, "status = ?")
		args = append(args, string(models.RunFailed))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.RunReport
	for rows.Next() {
		rep, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, rep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// LastRun returns the most recent run for job, or ErrNoRuns.
func (s *Store) LastRun(ctx context.Context, job string) (*models.RunReport, error) {
	runs, err := s.List(ctx, ListOptions{Job: job, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	return runs[0], nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanRun(rows *sql.Rows) (*models.RunReport, error) {
	var (
		rep                 models.RunReport
		status              string
		artifact, runErr    sql.NullString
		startedAt, finished string
	)

	err := rows.Scan(&rep.ID, &rep.Job, &status, &artifact, &runErr, &rep.ArchiveBytes, &rep.PrunedLocal, &rep.PrunedRemote, &rep.PruneFailures, &startedAt, &finished)
	if err != nil {
		return nil, err
	}

	rep.Status = models.RunStatus(status)
	if artifact.Valid {
		rep.Artifact = artifact.String
	}
	if runErr.Valid {
		rep.Error = runErr.String
	}
	if rep.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if rep.FinishedAt, err = time.Parse(time.RFC3339, finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	return &rep, nil
}

// nullString converts a string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
