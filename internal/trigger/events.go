package trigger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/opsdeck/cadence/internal/clock"
)

const (
	// ReadySubject carries instances that just became actionable
	ReadySubject = "cadence.instance.ready"

	// MissedSubject carries instances whose completion window lapsed
	MissedSubject = "cadence.instance.missed"
)

// InstanceEvent announces a batch of instance transitions. Downstream
// notification collaborators decide what, if anything, to deliver.
type InstanceEvent struct {
	InstanceIDs []string  `json:"instance_ids"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Events publishes instance lifecycle transitions over NATS. It implements
// engine.EventPublisher.
type Events struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	clock  clock.Clock
}

// NewEvents creates a new lifecycle event publisher
func NewEvents(js nats.JetStreamContext, clk clock.Clock, logger *zap.Logger) *Events {
	return &Events{
		logger: logger.Named("events"),
		js:     js,
		clock:  clk,
	}
}

// InstancesReady implements engine.EventPublisher.InstancesReady
func (e *Events) InstancesReady(ctx context.Context, ids []string) error {
	return e.publish(ReadySubject, ids)
}

// InstancesMissed implements engine.EventPublisher.InstancesMissed
func (e *Events) InstancesMissed(ctx context.Context, ids []string) error {
	return e.publish(MissedSubject, ids)
}

func (e *Events) publish(subject string, ids []string) error {
	data, err := json.Marshal(InstanceEvent{
		InstanceIDs: ids,
		OccurredAt:  e.clock.Now(),
	})
	if err != nil {
		return err
	}

	if _, err := e.js.Publish(subject, data); err != nil {
		e.logger.Error("Failed to publish instance event",
			zap.String("subject", subject),
			zap.Int("count", len(ids)),
			zap.Error(err))
		return err
	}
	return nil
}
