package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeck/cadence/internal/model"
)

// CadenceStore defines the persistence surface for cadence definitions.
type CadenceStore interface {
	// Create stores a new cadence
	Create(ctx context.Context, cadence *model.Cadence) error

	// Update replaces a cadence definition. Schedule edits never touch
	// already-materialized instances.
	Update(ctx context.Context, cadence *model.Cadence) error

	// Get retrieves a cadence by ID
	Get(ctx context.Context, id string) (*model.Cadence, error)

	// ListActive retrieves all cadences eligible for generation
	ListActive(ctx context.Context) ([]*model.Cadence, error)

	// SetActive flips the activation flag without touching instances
	SetActive(ctx context.Context, id string, active bool, now time.Time) error
}

// SQLiteCadenceStore implements CadenceStore using SQLite
type SQLiteCadenceStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteCadenceStore creates a new SQLite-backed cadence store
func NewSQLiteCadenceStore(logger *zap.Logger, db *sql.DB) *SQLiteCadenceStore {
	return &SQLiteCadenceStore{
		logger: logger.Named("cadence-store"),
		db:     db,
	}
}

// Create implements CadenceStore.Create
func (s *SQLiteCadenceStore) Create(ctx context.Context, cadence *model.Cadence) error {
	schedule, err := json.Marshal(cadence.Schedule)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}
	assigned, err := json.Marshal(cadence.AssignedTo)
	if err != nil {
		return fmt.Errorf("failed to marshal assignments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cadences (
			id, workspace_id, form_id, name, schedule, is_active,
			assigned_to, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cadence.ID,
		cadence.WorkspaceID,
		cadence.FormID,
		cadence.Name,
		string(schedule),
		boolToInt(cadence.IsActive),
		string(assigned),
		cadence.CreatedBy,
		cadence.CreatedAt.Unix(),
		cadence.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store cadence: %w", err)
	}
	return nil
}

// Update implements CadenceStore.Update
func (s *SQLiteCadenceStore) Update(ctx context.Context, cadence *model.Cadence) error {
	schedule, err := json.Marshal(cadence.Schedule)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}
	assigned, err := json.Marshal(cadence.AssignedTo)
	if err != nil {
		return fmt.Errorf("failed to marshal assignments: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE cadences SET
			form_id = ?,
			name = ?,
			schedule = ?,
			is_active = ?,
			assigned_to = ?,
			updated_at = ?
		WHERE id = ?`,
		cadence.FormID,
		cadence.Name,
		string(schedule),
		boolToInt(cadence.IsActive),
		string(assigned),
		cadence.UpdatedAt.Unix(),
		cadence.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update cadence: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrCadenceNotFound
	}
	return nil
}

// Get implements CadenceStore.Get
func (s *SQLiteCadenceStore) Get(ctx context.Context, id string) (*model.Cadence, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, form_id, name, schedule, is_active,
		       assigned_to, created_by, created_at, updated_at
		FROM cadences
		WHERE id = ?`, id)

	cadence, err := scanCadence(row)
	if err == sql.ErrNoRows {
		return nil, ErrCadenceNotFound
	}
	return cadence, err
}

// ListActive implements CadenceStore.ListActive
func (s *SQLiteCadenceStore) ListActive(ctx context.Context) ([]*model.Cadence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, form_id, name, schedule, is_active,
		       assigned_to, created_by, created_at, updated_at
		FROM cadences
		WHERE is_active = 1
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cadences: %w", err)
	}
	defer rows.Close()

	var cadences []*model.Cadence
	for rows.Next() {
		cadence, err := scanCadence(rows)
		if err != nil {
			return nil, err
		}
		cadences = append(cadences, cadence)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return cadences, nil
}

// SetActive implements CadenceStore.SetActive
func (s *SQLiteCadenceStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE cadences SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), now.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update cadence activation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrCadenceNotFound
	}

	s.logger.Info("Cadence activation changed",
		zap.String("id", id),
		zap.Bool("active", active))
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCadence(row rowScanner) (*model.Cadence, error) {
	var cadence model.Cadence
	var schedule string
	var assigned sql.NullString
	var isActive int
	var createdAt, updatedAt int64

	err := row.Scan(
		&cadence.ID,
		&cadence.WorkspaceID,
		&cadence.FormID,
		&cadence.Name,
		&schedule,
		&isActive,
		&assigned,
		&cadence.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan cadence: %w", err)
	}

	if err := json.Unmarshal([]byte(schedule), &cadence.Schedule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	if assigned.Valid && assigned.String != "" {
		if err := json.Unmarshal([]byte(assigned.String), &cadence.AssignedTo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal assignments: %w", err)
		}
	}
	cadence.IsActive = isActive != 0
	cadence.CreatedAt = time.Unix(createdAt, 0).UTC()
	cadence.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &cadence, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
