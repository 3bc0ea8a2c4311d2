// Package history persists past wake runs and their state transitions in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/gowake-homelab/internal/models"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// DefaultLimit is the number of runs List returns when no limit is given.
const DefaultLimit = 20

// Service defines the interface for run history operations.
type Service interface {
	RecordEvent(ctx context.Context, ev models.Event) error
	RecordRun(ctx context.Context, result *models.RunResult) error
	List(ctx context.Context, limit int) ([]models.RunRecord, error)
	Events(ctx context.Context, runID string) ([]models.EventRecord, error)
	Close() error
}

// Store implements Service on top of a SQLite database file.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open opens (creating if needed) the history database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := configure(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug().Str("path", path).Msg("history database opened")

	return &Store{db: db, path: path, logger: logger}, nil
}

func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to configure history database (%s): %w", p, err)
		}
	}
	db.SetMaxOpenConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL,
			success     INTEGER NOT NULL,
			healthy     INTEGER NOT NULL,
			failed      INTEGER NOT NULL,
			blocked     INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL,
			at          INTEGER NOT NULL,
			device      TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status   TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to prepare history schema: %w", err)
		}
	}
	return nil
}

// RecordEvent appends one state transition.
func (s *Store) RecordEvent(ctx context.Context, ev models.Event) error {
	var errText string
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, at, device, from_status, to_status, error) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Time.UnixNano(), ev.Device, ev.From.String(), ev.To.String(), errText)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// RecordRun stores the summary of a finished run. Recording the same run
// twice replaces the earlier summary.
func (s *Store) RecordRun(ctx context.Context, result *models.RunResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, duration_ns, success, healthy, failed, blocked)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			started_at=excluded.started_at,
			duration_ns=excluded.duration_ns,
			success=excluded.success,
			healthy=excluded.healthy,
			failed=excluded.failed,
			blocked=excluded.blocked`,
		result.RunID,
		result.StartTime.UnixNano(),
		int64(result.Duration),
		result.Success,
		result.Count(models.StatusHealthy),
		result.Count(models.StatusFailed),
		result.Count(models.StatusBlocked),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, started_at, duration_ns, success, healthy, failed, blocked
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []models.RunRecord
	for rows.Next() {
		var (
			rec       models.RunRecord
			startedAt int64
			duration  int64
		)
		if err := rows.Scan(&rec.RunID, &startedAt, &duration, &rec.Success, &rec.Healthy, &rec.Failed, &rec.Blocked); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.StartTime = time.Unix(0, startedAt)
		rec.Duration = time.Duration(duration)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}

	return records, nil
}

// Events returns the transitions of one run in the order they were recorded.
func (s *Store) Events(ctx context.Context, runID string) ([]models.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, at, device, from_status, to_status, error
		FROM events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []models.EventRecord
	for rows.Next() {
		var (
			rec models.EventRecord
			at  int64
		)
		if err := rows.Scan(&rec.RunID, &at, &rec.Device, &rec.From, &rec.To, &rec.Error); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Time = time.Unix(0, at)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	return records, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
