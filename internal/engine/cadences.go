package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdeck/cadence/internal/clock"
	"github.com/opsdeck/cadence/internal/model"
	"github.com/opsdeck/cadence/internal/storage"
)

// Cadences manages cadence definitions. The creator identity is resolved by
// the caller; this service never authenticates. Schedule changes do not
// retroactively alter already-materialized instances, and deactivation only
// stops future generation.
type Cadences struct {
	logger *zap.Logger
	store  storage.CadenceStore
	clock  clock.Clock
}

// NewCadences creates a new cadence lifecycle service
func NewCadences(store storage.CadenceStore, clk clock.Clock, logger *zap.Logger) *Cadences {
	return &Cadences{
		logger: logger.Named("cadences"),
		store:  store,
		clock:  clk,
	}
}

// Create validates and stores a new cadence. Malformed schedule
// configurations are rejected here and never reach the generator.
func (c *Cadences) Create(ctx context.Context, cadence *model.Cadence) error {
	if cadence.WorkspaceID == "" {
		return ErrMissingWorkspace
	}
	if cadence.Name == "" {
		return ErrMissingName
	}
	if cadence.FormID == "" {
		return ErrMissingForm
	}
	if cadence.CreatedBy == "" {
		return ErrMissingCreator
	}
	if err := cadence.Schedule.Validate(); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	if cadence.ID == "" {
		cadence.ID = uuid.New().String()
	}
	now := c.clock.Now()
	cadence.IsActive = true
	cadence.CreatedAt = now
	cadence.UpdatedAt = now

	if err := c.store.Create(ctx, cadence); err != nil {
		return err
	}

	c.logger.Info("Cadence created",
		zap.String("id", cadence.ID),
		zap.String("name", cadence.Name),
		zap.String("workspace_id", cadence.WorkspaceID),
		zap.String("pattern", string(cadence.Schedule.Pattern)))
	return nil
}

// Update replaces a cadence definition after re-validating its schedule.
func (c *Cadences) Update(ctx context.Context, cadence *model.Cadence) error {
	if err := cadence.Schedule.Validate(); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	cadence.UpdatedAt = c.clock.Now()
	if err := c.store.Update(ctx, cadence); err != nil {
		return err
	}

	c.logger.Info("Cadence updated",
		zap.String("id", cadence.ID),
		zap.String("name", cadence.Name))
	return nil
}

// Deactivate stops future generation for a cadence. Existing instances are
// left untouched.
func (c *Cadences) Deactivate(ctx context.Context, id string) error {
	return c.store.SetActive(ctx, id, false, c.clock.Now())
}
