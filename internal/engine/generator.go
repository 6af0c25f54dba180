package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdeck/cadence/internal/model"
	"github.com/opsdeck/cadence/internal/schedule"
	"github.com/opsdeck/cadence/internal/storage"
)

// Generator materializes cadence occurrences as task instances. It is safe to
// invoke repeatedly and concurrently for the same cadence: the existence check
// plus the store's uniqueness constraint on (cadence_id, scheduled_for) is the
// duplication guard.
type Generator struct {
	logger    *zap.Logger
	instances storage.InstanceStore
}

// NewGenerator creates a new instance generator
func NewGenerator(instances storage.InstanceStore, logger *zap.Logger) *Generator {
	return &Generator{
		logger:    logger.Named("generator"),
		instances: instances,
	}
}

// InstanceFailure reports one occurrence that could not be materialized.
type InstanceFailure struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	Message      string    `json:"message"`
}

// GenerateOutcome reports one generation pass over a single cadence.
type GenerateOutcome struct {
	Created  []*model.Instance
	Skipped  int
	Failures []InstanceFailure
}

// Generate materializes every occurrence of the cadence within
// [now, now+lookahead) that does not already have an instance. Each instance
// creation is independent: a failed insert is reported in the outcome and
// does not abort instances already written in the same call. A uniqueness
// violation from a concurrent run counts as already existing, not as an error.
func (g *Generator) Generate(ctx context.Context, cadence *model.Cadence, lookahead time.Duration, now time.Time) (*GenerateOutcome, error) {
	instants, err := schedule.Occurrences(cadence.Schedule, now, now.Add(lookahead))
	if err != nil {
		return nil, fmt.Errorf("failed to compute occurrences: %w", err)
	}

	loc, err := cadence.Schedule.Location()
	if err != nil {
		return nil, err
	}

	outcome := &GenerateOutcome{}
	for _, at := range instants {
		exists, err := g.instances.ExistsAt(ctx, cadence.ID, at)
		if err != nil {
			outcome.Failures = append(outcome.Failures, InstanceFailure{ScheduledFor: at, Message: err.Error()})
			continue
		}
		if exists {
			outcome.Skipped++
			continue
		}

		instance := &model.Instance{
			ID:           uuid.New().String(),
			WorkspaceID:  cadence.WorkspaceID,
			CadenceID:    cadence.ID,
			Name:         instanceName(cadence.Name, at, loc),
			Status:       model.InstanceStatusPending,
			ScheduledFor: at,
			DueAt:        at.Add(cadence.Schedule.CompletionWindow),
			AssignedTo:   append([]string(nil), cadence.AssignedTo...),
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		created, err := g.instances.InsertIfAbsent(ctx, instance)
		if err != nil {
			g.logger.Error("Failed to store instance",
				zap.String("cadence_id", cadence.ID),
				zap.Time("scheduled_for", at),
				zap.Error(err))
			outcome.Failures = append(outcome.Failures, InstanceFailure{ScheduledFor: at, Message: err.Error()})
			continue
		}
		if !created {
			// Lost the check-then-insert gap to a concurrent run.
			outcome.Skipped++
			continue
		}
		outcome.Created = append(outcome.Created, instance)
	}

	g.logger.Debug("Generation pass complete",
		zap.String("cadence_id", cadence.ID),
		zap.Int("created", len(outcome.Created)),
		zap.Int("skipped", outcome.Skipped),
		zap.Int("failed", len(outcome.Failures)))

	return outcome, nil
}

// instanceName combines the cadence name with the occurrence's local date.
func instanceName(base string, at time.Time, loc *time.Location) string {
	return fmt.Sprintf("%s - %s", base, at.In(loc).Format("Jan 2, 2006"))
}
