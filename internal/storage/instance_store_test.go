package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsdeck/cadence/internal/model"
)

func openTestDB(t *testing.T) *SQLiteInstanceStore {
	t.Helper()

	db, err := Open(zap.NewNop(), filepath.Join(t.TempDir(), "cadence.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewSQLiteInstanceStore(zap.NewNop(), db)
}

func newInstance(cadenceID string, scheduledFor time.Time) *model.Instance {
	return &model.Instance{
		ID:           uuid.New().String(),
		WorkspaceID:  "ws-1",
		CadenceID:    cadenceID,
		Name:         "Safety Walk - Jun 2, 2025",
		Status:       model.InstanceStatusPending,
		ScheduledFor: scheduledFor,
		DueAt:        scheduledFor.Add(8 * time.Hour),
		AssignedTo:   []string{"user-1"},
		CreatedAt:    scheduledFor.Add(-72 * time.Hour),
		UpdatedAt:    scheduledFor.Add(-72 * time.Hour),
	}
}

func TestInstanceStoreInsertIfAbsent(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	created, err := store.InsertIfAbsent(ctx, newInstance("cad-1", at))
	require.NoError(t, err)
	assert.True(t, created)

	t.Run("duplicate scheduled_for is rejected silently", func(t *testing.T) {
		created, err := store.InsertIfAbsent(ctx, newInstance("cad-1", at))
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("same instant for another cadence is allowed", func(t *testing.T) {
		created, err := store.InsertIfAbsent(ctx, newInstance("cad-2", at))
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("ad hoc instances never collide", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			created, err := store.InsertIfAbsent(ctx, newInstance("", at))
			require.NoError(t, err)
			assert.True(t, created)
		}
	})

	t.Run("existence check", func(t *testing.T) {
		exists, err := store.ExistsAt(ctx, "cad-1", at)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = store.ExistsAt(ctx, "cad-1", at.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestInstanceStoreRoundTrip(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	want := newInstance("cad-1", at)
	want.Metadata = []byte(`{"source":"generator"}`)
	_, err := store.InsertIfAbsent(ctx, want)
	require.NoError(t, err)

	got, err := store.Get(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.CadenceID, got.CadenceID)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, model.InstanceStatusPending, got.Status)
	assert.True(t, got.ScheduledFor.Equal(at))
	assert.True(t, got.DueAt.Equal(at.Add(8*time.Hour)))
	assert.Equal(t, []string{"user-1"}, got.AssignedTo)
	assert.JSONEq(t, `{"source":"generator"}`, string(got.Metadata))

	_, err = store.Get(ctx, "no-such-id")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestInstanceStoreSweepTransitions(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	past := newInstance("cad-1", now.Add(-time.Minute))
	future := newInstance("cad-1", now.Add(time.Minute))
	for _, inst := range []*model.Instance{past, future} {
		_, err := store.InsertIfAbsent(ctx, inst)
		require.NoError(t, err)
	}

	t.Run("pending past scheduled_for becomes ready", func(t *testing.T) {
		ids, err := store.MarkReadyDue(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, []string{past.ID}, ids)

		got, err := store.Get(ctx, past.ID)
		require.NoError(t, err)
		assert.Equal(t, model.InstanceStatusReady, got.Status)

		got, err = store.Get(ctx, future.ID)
		require.NoError(t, err)
		assert.Equal(t, model.InstanceStatusPending, got.Status)
	})

	t.Run("re-running with the same now is a no-op", func(t *testing.T) {
		ids, err := store.MarkReadyDue(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("ready past due_at becomes missed", func(t *testing.T) {
		ids, err := store.MarkMissedDue(ctx, now.Add(9*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{past.ID}, ids)

		got, err := store.Get(ctx, past.ID)
		require.NoError(t, err)
		assert.Equal(t, model.InstanceStatusMissed, got.Status)
	})
}

func TestInstanceStoreUpdateStatus(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	inst := newInstance("cad-1", now.Add(-time.Hour))
	_, err := store.InsertIfAbsent(ctx, inst)
	require.NoError(t, err)

	_, err = store.MarkReadyDue(ctx, now)
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, inst.ID, model.InstanceStatusInProgress, "user-1", now))
	require.NoError(t, store.UpdateStatus(ctx, inst.ID, model.InstanceStatusCompleted, "user-1", now.Add(time.Hour)))

	got, err := store.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusCompleted, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, "user-1", got.CompletedBy)

	t.Run("terminal states reject further transitions", func(t *testing.T) {
		err := store.UpdateStatus(ctx, inst.ID, model.InstanceStatusReady, "user-1", now)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("completed instances are untouched by sweeps", func(t *testing.T) {
		ids, err := store.MarkMissedDue(ctx, now.Add(48*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestInstanceStoreCountByStatus(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := store.InsertIfAbsent(ctx, newInstance("cad-1", now.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[model.InstanceStatusPending])
}
