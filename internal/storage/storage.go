package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	// ErrCadenceNotFound is returned when a cadence does not exist
	ErrCadenceNotFound = errors.New("cadence not found")

	// ErrInstanceNotFound is returned when an instance does not exist
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInvalidTransition is returned when a status change violates the
	// instance state machine
	ErrInvalidTransition = errors.New("invalid instance status transition")
)

// Open opens (or creates) the engine database and applies the schema.
// Instants are stored as unix seconds so range comparisons in SQL are exact
// regardless of the zone a time.Time carried when it was written.
func Open(logger *zap.Logger, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Storage initialized", zap.String("path", dbPath))
	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cadences (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			form_id TEXT NOT NULL,
			name TEXT NOT NULL,
			schedule TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			assigned_to TEXT,
			created_by TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cadences_workspace ON cadences(workspace_id);
		CREATE INDEX IF NOT EXISTS idx_cadences_active ON cadences(is_active);

		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			cadence_id TEXT,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			scheduled_for INTEGER NOT NULL,
			due_at INTEGER NOT NULL,
			submission_id TEXT,
			started_at INTEGER,
			completed_at INTEGER,
			completed_by TEXT,
			assigned_to TEXT,
			metadata TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(cadence_id, scheduled_for)
		);
		CREATE INDEX IF NOT EXISTS idx_instances_workspace ON instances(workspace_id);
		CREATE INDEX IF NOT EXISTS idx_instances_cadence ON instances(cadence_id);
		CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);
		CREATE INDEX IF NOT EXISTS idx_instances_due_at ON instances(due_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}
