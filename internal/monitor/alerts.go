package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/opsdeck/cadence/internal/model"
	"github.com/opsdeck/cadence/internal/trigger"
)

const alertSubject = "alert.cadence"

// AlertManager watches missed-instance announcements and raises an alert when
// a single sweep misses at least Threshold instances. Delivery of the alert to
// humans is a downstream collaborator's concern.
type AlertManager struct {
	logger    *zap.Logger
	js        nats.JetStreamContext
	threshold int
	sub       *nats.Subscription
}

// NewAlertManager creates a new alert manager
func NewAlertManager(js nats.JetStreamContext, threshold int, logger *zap.Logger) *AlertManager {
	return &AlertManager{
		logger:    logger.Named("alert-manager"),
		js:        js,
		threshold: threshold,
	}
}

// Start ensures the alert stream exists and subscribes to missed-instance
// events.
func (m *AlertManager) Start(ctx context.Context) error {
	stream, err := m.js.StreamInfo("ALERTS")
	if err != nil && err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if stream == nil {
		if _, err := m.js.AddStream(&nats.StreamConfig{
			Name:     "ALERTS",
			Subjects: []string{"alert.*"},
			Storage:  nats.FileStorage,
		}); err != nil && err != nats.ErrStreamNameAlreadyInUse {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	sub, err := m.js.Subscribe(trigger.MissedSubject, m.handleMissed)
	if err != nil {
		return fmt.Errorf("failed to subscribe to missed events: %w", err)
	}
	m.sub = sub

	m.logger.Info("Alert manager started", zap.Int("threshold", m.threshold))
	return nil
}

// Stop stops the alert manager
func (m *AlertManager) Stop() {
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
}

func (m *AlertManager) handleMissed(msg *nats.Msg) {
	var event trigger.InstanceEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("Failed to unmarshal instance event", zap.Error(err))
		return
	}

	if len(event.InstanceIDs) < m.threshold {
		return
	}

	alert := &model.Alert{
		ID:        uuid.New().String(),
		Type:      "missed_spike",
		Severity:  model.AlertSeverityWarning,
		Message:   fmt.Sprintf("%d instances missed in a single sweep", len(event.InstanceIDs)),
		Count:     len(event.InstanceIDs),
		CreatedAt: event.OccurredAt,
	}

	data, err := json.Marshal(alert)
	if err != nil {
		m.logger.Error("Failed to marshal alert", zap.Error(err))
		return
	}

	if _, err := m.js.Publish(alertSubject, data); err != nil {
		m.logger.Error("Failed to publish alert", zap.Error(err))
		return
	}

	m.logger.Info("Alert raised",
		zap.String("id", alert.ID),
		zap.String("type", alert.Type),
		zap.Int("count", alert.Count))
}
