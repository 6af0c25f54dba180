package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/opsdeck/cadence/internal/model"
)

// InstanceFilters narrows instance listing
type InstanceFilters struct {
	WorkspaceID string
	CadenceID   string
	Status      model.InstanceStatus
	Limit       int
	Offset      int
}

// InstanceStore defines the persistence surface for task instances. The
// UNIQUE(cadence_id, scheduled_for) constraint is the authority that keeps
// concurrent generation runs from materializing duplicates; no in-process
// lock is involved. Instances are never deleted.
type InstanceStore interface {
	// InsertIfAbsent stores a new instance. It reports created=false without
	// error when an instance with the same (cadence_id, scheduled_for)
	// already exists.
	InsertIfAbsent(ctx context.Context, instance *model.Instance) (created bool, err error)

	// ExistsAt reports whether the cadence already has an instance at the
	// exact scheduled_for instant
	ExistsAt(ctx context.Context, cadenceID string, scheduledFor time.Time) (bool, error)

	// Get retrieves an instance by ID
	Get(ctx context.Context, id string) (*model.Instance, error)

	// List retrieves instances matching the filters
	List(ctx context.Context, filters InstanceFilters) ([]*model.Instance, error)

	// CountByStatus returns instance counts grouped by status
	CountByStatus(ctx context.Context) (map[model.InstanceStatus]int, error)

	// MarkReadyDue transitions pending instances whose scheduled_for has
	// passed to ready, judged against the single now snapshot. Returns the
	// affected instance IDs.
	MarkReadyDue(ctx context.Context, now time.Time) ([]string, error)

	// MarkMissedDue transitions ready and in_progress instances whose due_at
	// has passed to missed. Returns the affected instance IDs.
	MarkMissedDue(ctx context.Context, now time.Time) ([]string, error)

	// UpdateStatus applies a user-driven status transition, enforcing the
	// state machine and stamping started/completed times
	UpdateStatus(ctx context.Context, id string, to model.InstanceStatus, actor string, now time.Time) error
}

// SQLiteInstanceStore implements InstanceStore using SQLite
type SQLiteInstanceStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteInstanceStore creates a new SQLite-backed instance store
func NewSQLiteInstanceStore(logger *zap.Logger, db *sql.DB) *SQLiteInstanceStore {
	return &SQLiteInstanceStore{
		logger: logger.Named("instance-store"),
		db:     db,
	}
}

// InsertIfAbsent implements InstanceStore.InsertIfAbsent
func (s *SQLiteInstanceStore) InsertIfAbsent(ctx context.Context, instance *model.Instance) (bool, error) {
	var assigned, metadata sql.NullString
	if len(instance.AssignedTo) > 0 {
		data, err := json.Marshal(instance.AssignedTo)
		if err != nil {
			return false, fmt.Errorf("failed to marshal assignments: %w", err)
		}
		assigned = sql.NullString{String: string(data), Valid: true}
	}
	if len(instance.Metadata) > 0 {
		metadata = sql.NullString{String: string(instance.Metadata), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (
			id, workspace_id, cadence_id, name, status, scheduled_for, due_at,
			submission_id, assigned_to, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		instance.ID,
		instance.WorkspaceID,
		nullString(instance.CadenceID),
		instance.Name,
		instance.Status,
		instance.ScheduledFor.Unix(),
		instance.DueAt.Unix(),
		nullString(instance.SubmissionID),
		assigned,
		metadata,
		instance.CreatedAt.Unix(),
		instance.UpdatedAt.Unix(),
	)
	if err != nil {
		// A lost check-then-insert race lands here; the row already exists,
		// which is success for idempotent generation.
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
			return false, nil
		}
		return false, fmt.Errorf("failed to store instance: %w", err)
	}
	return true, nil
}

// ExistsAt implements InstanceStore.ExistsAt
func (s *SQLiteInstanceStore) ExistsAt(ctx context.Context, cadenceID string, scheduledFor time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM instances WHERE cadence_id = ? AND scheduled_for = ?`,
		cadenceID, scheduledFor.Unix()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check instance existence: %w", err)
	}
	return true, nil
}

// Get implements InstanceStore.Get
func (s *SQLiteInstanceStore) Get(ctx context.Context, id string) (*model.Instance, error) {
	row := s.db.QueryRowContext(ctx, selectInstance+` WHERE id = ?`, id)
	instance, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, ErrInstanceNotFound
	}
	return instance, err
}

// List implements InstanceStore.List
func (s *SQLiteInstanceStore) List(ctx context.Context, filters InstanceFilters) ([]*model.Instance, error) {
	query := selectInstance
	args := make([]interface{}, 0)
	where := ""

	appendFilter := func(clause string, value interface{}) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}

	if filters.WorkspaceID != "" {
		appendFilter("workspace_id = ?", filters.WorkspaceID)
	}
	if filters.CadenceID != "" {
		appendFilter("cadence_id = ?", filters.CadenceID)
	}
	if filters.Status != "" {
		appendFilter("status = ?", filters.Status)
	}

	query += where + " ORDER BY scheduled_for"
	if filters.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filters.Limit, filters.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*model.Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return instances, nil
}

// CountByStatus implements InstanceStore.CountByStatus
func (s *SQLiteInstanceStore) CountByStatus(ctx context.Context) (map[model.InstanceStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM instances GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count instances: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.InstanceStatus]int)
	for rows.Next() {
		var status model.InstanceStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan instance count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return counts, nil
}

// MarkReadyDue implements InstanceStore.MarkReadyDue
func (s *SQLiteInstanceStore) MarkReadyDue(ctx context.Context, now time.Time) ([]string, error) {
	return s.transition(ctx, `
		UPDATE instances SET status = ?, updated_at = ?
		WHERE status = ? AND scheduled_for <= ?
		RETURNING id`,
		model.InstanceStatusReady, now.Unix(),
		model.InstanceStatusPending, now.Unix())
}

// MarkMissedDue implements InstanceStore.MarkMissedDue
func (s *SQLiteInstanceStore) MarkMissedDue(ctx context.Context, now time.Time) ([]string, error) {
	return s.transition(ctx, `
		UPDATE instances SET status = ?, updated_at = ?
		WHERE status IN (?, ?) AND due_at <= ?
		RETURNING id`,
		model.InstanceStatusMissed, now.Unix(),
		model.InstanceStatusReady, model.InstanceStatusInProgress, now.Unix())
}

func (s *SQLiteInstanceStore) transition(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition instances: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan transitioned id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return ids, nil
}

// UpdateStatus implements InstanceStore.UpdateStatus
func (s *SQLiteInstanceStore) UpdateStatus(ctx context.Context, id string, to model.InstanceStatus, actor string, now time.Time) error {
	instance, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if !model.CanTransition(instance.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, instance.Status, to)
	}

	var startedAt, completedAt sql.NullInt64
	var completedBy sql.NullString
	if instance.StartedAt != nil {
		startedAt = sql.NullInt64{Int64: instance.StartedAt.Unix(), Valid: true}
	}
	if to == model.InstanceStatusInProgress {
		startedAt = sql.NullInt64{Int64: now.Unix(), Valid: true}
	}
	if to == model.InstanceStatusCompleted {
		completedAt = sql.NullInt64{Int64: now.Unix(), Valid: true}
		completedBy = nullString(actor)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE instances SET
			status = ?,
			started_at = ?,
			completed_at = ?,
			completed_by = ?,
			updated_at = ?
		WHERE id = ?`,
		to, startedAt, completedAt, completedBy, now.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}

	s.logger.Info("Instance status updated",
		zap.String("id", id),
		zap.String("from", string(instance.Status)),
		zap.String("to", string(to)))
	return nil
}

const selectInstance = `
	SELECT id, workspace_id, cadence_id, name, status, scheduled_for, due_at,
	       submission_id, started_at, completed_at, completed_by,
	       assigned_to, metadata, created_at, updated_at
	FROM instances`

func scanInstance(row rowScanner) (*model.Instance, error) {
	var instance model.Instance
	var cadenceID, submissionID, completedBy, assigned, metadata sql.NullString
	var scheduledFor, dueAt, createdAt, updatedAt int64
	var startedAt, completedAt sql.NullInt64

	err := row.Scan(
		&instance.ID,
		&instance.WorkspaceID,
		&cadenceID,
		&instance.Name,
		&instance.Status,
		&scheduledFor,
		&dueAt,
		&submissionID,
		&startedAt,
		&completedAt,
		&completedBy,
		&assigned,
		&metadata,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	instance.CadenceID = cadenceID.String
	instance.SubmissionID = submissionID.String
	instance.CompletedBy = completedBy.String
	instance.ScheduledFor = time.Unix(scheduledFor, 0).UTC()
	instance.DueAt = time.Unix(dueAt, 0).UTC()
	instance.CreatedAt = time.Unix(createdAt, 0).UTC()
	instance.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0).UTC()
		instance.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		instance.CompletedAt = &t
	}
	if assigned.Valid && assigned.String != "" {
		if err := json.Unmarshal([]byte(assigned.String), &instance.AssignedTo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal assignments: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		instance.Metadata = json.RawMessage(metadata.String)
	}

	return &instance, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
