package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/opsdeck/cadence/internal/clock"
	"github.com/opsdeck/cadence/internal/storage"
)

// Sweeper advances instance statuses from elapsed wall-clock time: pending
// instances whose scheduled_for has passed become ready, ready or in_progress
// instances whose due_at has passed become missed. Terminal and user-set
// states are never touched.
type Sweeper struct {
	logger    *zap.Logger
	instances storage.InstanceStore
	clock     clock.Clock
}

// NewSweeper creates a new status sweeper
func NewSweeper(instances storage.InstanceStore, clk clock.Clock, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		logger:    logger.Named("sweeper"),
		instances: instances,
		clock:     clk,
	}
}

// SweepOutcome reports one sweep pass.
type SweepOutcome struct {
	Ready  []string `json:"ready,omitempty"`
	Missed []string `json:"missed,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// Updated is the total number of instances transitioned.
func (o *SweepOutcome) Updated() int {
	return len(o.Ready) + len(o.Missed)
}

// Sweep runs one pass over all workspaces. Every row is judged against the
// single now snapshot taken at sweep start. A failure in one transition batch
// is recorded and does not block the other; the outcome is always returned.
// Running the sweep twice with no elapsed time transitions nothing the second
// time.
func (s *Sweeper) Sweep(ctx context.Context) *SweepOutcome {
	now := s.clock.Now()
	outcome := &SweepOutcome{}

	ready, err := s.instances.MarkReadyDue(ctx, now)
	if err != nil {
		s.logger.Error("Failed to mark due instances ready", zap.Error(err))
		outcome.Errors = append(outcome.Errors, err.Error())
	} else {
		outcome.Ready = ready
	}

	missed, err := s.instances.MarkMissedDue(ctx, now)
	if err != nil {
		s.logger.Error("Failed to mark overdue instances missed", zap.Error(err))
		outcome.Errors = append(outcome.Errors, err.Error())
	} else {
		outcome.Missed = missed
	}

	if outcome.Updated() > 0 {
		s.logger.Info("Sweep transitioned instances",
			zap.Time("now", now),
			zap.Int("ready", len(outcome.Ready)),
			zap.Int("missed", len(outcome.Missed)))
	}

	return outcome
}
