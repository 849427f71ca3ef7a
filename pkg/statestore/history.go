package statestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/deckhand/deckhand/pkg/orchestrator"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// History is the SQLite-backed run archive. It journals run and phase
// outcomes and indexes captured backups, sharing the data directory with the
// state file so there is a single persistence surface per target.
//
// History writes are advisory: the state file remains the source of truth
// for resume decisions.
type History struct {
	db   *sql.DB
	path string
}

// NewHistory creates a history store instance for the given database path.
// Use ":memory:" for tests.
func NewHistory(path string) (*History, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &History{path: path}, nil
}

// Init opens the database and enables WAL mode.
func (h *History) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", h.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// A short-lived CLI needs exactly one connection; more just risks
	// SQLITE_BUSY on the shared file.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	h.db = db
	return nil
}

// Close closes the database connection.
func (h *History) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded sources.
func (h *History) Migrate(_ context.Context) error {
	if h.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(h.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RunStarted implements orchestrator.Journal.
func (h *History) RunStarted(ctx context.Context, state *orchestrator.InstallationState, resumed bool) error {
	mode := RunModeFresh
	if resumed {
		mode = RunModeResume
	}
	query := `
		INSERT INTO runs (id, mode, status, config_hash, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = NULL,
			failed_phase = NULL,
			error = NULL
	`
	_, err := h.db.ExecContext(ctx, query,
		state.RunID, mode, string(state.Status), state.ConfigHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// PhaseAttempted implements orchestrator.Journal.
func (h *History) PhaseAttempted(ctx context.Context, runID string, result orchestrator.PhaseResult) error {
	var errMsg *string
	if result.Err != nil {
		msg := result.Err.Error()
		errMsg = &msg
	}
	query := `
		INSERT INTO phase_events (run_id, phase, status, attempts, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := h.db.ExecContext(ctx, query,
		runID, result.Name, string(result.Status), result.Attempts,
		result.Duration.Milliseconds(), errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record phase event: %w", err)
	}
	return nil
}

// RunFinished implements orchestrator.Journal.
func (h *History) RunFinished(ctx context.Context, runID string, result *orchestrator.RunResult) error {
	var failedPhase, errMsg *string
	if result.FailedPhase != "" {
		failedPhase = &result.FailedPhase
	}
	if result.Err != nil {
		msg := result.Err.Error()
		errMsg = &msg
	}
	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, failed_phase = ?, error = ?
		WHERE id = ?
	`
	res, err := h.db.ExecContext(ctx, query,
		string(result.Status), time.Now().UTC(), failedPhase, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to record run outcome: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// RecordBackup indexes a captured backup against its run and phase.
func (h *History) RecordBackup(ctx context.Context, entry *BackupIndexEntry) error {
	query := `
		INSERT INTO backups (name, run_id, phase, artifacts, total_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := h.db.ExecContext(ctx, query,
		entry.Name, entry.RunID, entry.Phase, entry.Artifacts, entry.TotalSize, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record backup: %w", err)
	}
	return nil
}

// DeleteBackup removes a pruned backup from the index.
func (h *History) DeleteBackup(ctx context.Context, name string) error {
	_, err := h.db.ExecContext(ctx, `DELETE FROM backups WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete backup record: %w", err)
	}
	return nil
}

// ListRuns lists archived runs, most recent first.
func (h *History) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := `
		SELECT id, mode, status, config_hash, started_at, completed_at, failed_phase, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := h.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		r := &RunRecord{}
		if err := rows.Scan(&r.ID, &r.Mode, &r.Status, &r.ConfigHash,
			&r.StartedAt, &r.CompletedAt, &r.FailedPhase, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// ListPhaseEvents lists the phase events for one run, oldest first.
func (h *History) ListPhaseEvents(ctx context.Context, runID string) ([]*PhaseEvent, error) {
	query := `
		SELECT id, run_id, phase, status, attempts, duration_ms, error, created_at
		FROM phase_events
		WHERE run_id = ?
		ORDER BY id ASC
	`
	rows, err := h.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phase events: %w", err)
	}
	defer rows.Close()

	events := []*PhaseEvent{}
	for rows.Next() {
		e := &PhaseEvent{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.Phase, &e.Status,
			&e.Attempts, &e.DurationMS, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phase event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating phase events: %w", err)
	}
	return events, nil
}

// HealthCheck verifies the database connection is healthy.
func (h *History) HealthCheck(ctx context.Context) error {
	if h.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return h.db.PingContext(ctx)
}
