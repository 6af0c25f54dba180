// Package trigger exposes the engine's two operations over NATS so a cron
// provider (or an operator, manually) can invoke them on demand. Both
// operations are idempotent, so duplicate or overlapping deliveries are safe.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/opsdeck/cadence/internal/clock"
	"github.com/opsdeck/cadence/internal/engine"
)

const (
	streamName      = "CADENCE"
	generateSubject = "cadence.trigger.generate"
	sweepSubject    = "cadence.trigger.sweep"
	resultSubject   = "cadence.trigger.result"
)

// Runner is the engine surface the trigger service drives.
type Runner interface {
	RunGeneration(ctx context.Context, lookahead time.Duration) (*engine.GenerationReport, error)
	RunStatusSweep(ctx context.Context) (*engine.SweepReport, error)
}

// Command is the payload of a trigger message. Token must match the engine's
// shared secret; the caller is otherwise unauthenticated.
type Command struct {
	Token          string `json:"token"`
	LookaheadHours int    `json:"lookahead_hours,omitempty"`
}

// Result is published after every authorized invocation.
type Result struct {
	Operation   string                   `json:"operation"`
	Generation  *engine.GenerationReport `json:"generation,omitempty"`
	Sweep       *engine.SweepReport      `json:"sweep,omitempty"`
	Error       string                   `json:"error,omitempty"`
	CompletedAt time.Time                `json:"completed_at"`
}

// Service subscribes to trigger subjects and relays invocations to the runner.
type Service struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	runner Runner
	token  string
	clock  clock.Clock
}

// NewService creates a new trigger service
func NewService(js nats.JetStreamContext, runner Runner, token string, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{
		logger: logger.Named("trigger"),
		js:     js,
		runner: runner,
		token:  token,
		clock:  clk,
	}
}

// Start ensures the CADENCE stream exists and subscribes to the trigger
// subjects with durable consumers.
func (s *Service) Start(ctx context.Context) error {
	if err := EnsureStream(s.js); err != nil {
		return err
	}

	if _, err := s.js.Subscribe(generateSubject, func(msg *nats.Msg) {
		s.handleGenerate(ctx, msg)
	}, nats.Durable("trigger-generate-consumer")); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", generateSubject, err)
	}

	if _, err := s.js.Subscribe(sweepSubject, func(msg *nats.Msg) {
		s.handleSweep(ctx, msg)
	}, nats.Durable("trigger-sweep-consumer")); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", sweepSubject, err)
	}

	s.logger.Info("Trigger service started")
	return nil
}

// EnsureStream creates the CADENCE stream if it does not exist yet.
func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(streamName)
	if err == nil {
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"cadence.>"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func (s *Service) authorize(msg *nats.Msg) (*Command, bool) {
	var cmd Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Error("Failed to unmarshal trigger command", zap.Error(err))
		return nil, false
	}
	if cmd.Token != s.token {
		// No result is echoed for unauthorized callers.
		s.logger.Warn("Rejected trigger with bad token", zap.String("subject", msg.Subject))
		return nil, false
	}
	return &cmd, true
}

func (s *Service) handleGenerate(ctx context.Context, msg *nats.Msg) {
	cmd, ok := s.authorize(msg)
	if !ok {
		return
	}

	lookahead := time.Duration(cmd.LookaheadHours) * time.Hour
	result := Result{Operation: "generation"}

	report, err := s.runner.RunGeneration(ctx, lookahead)
	if err != nil {
		result.Error = err.Error()
		s.logger.Error("Triggered generation failed", zap.Error(err))
	} else {
		result.Generation = report
	}
	result.CompletedAt = s.clock.Now()

	s.publishResult(result)
	msg.Ack()
}

func (s *Service) handleSweep(ctx context.Context, msg *nats.Msg) {
	if _, ok := s.authorize(msg); !ok {
		return
	}

	result := Result{Operation: "sweep"}

	report, err := s.runner.RunStatusSweep(ctx)
	if err != nil {
		result.Error = err.Error()
		s.logger.Error("Triggered sweep failed", zap.Error(err))
	} else {
		result.Sweep = report
	}
	result.CompletedAt = s.clock.Now()

	s.publishResult(result)
	msg.Ack()
}

func (s *Service) publishResult(result Result) {
	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("Failed to marshal trigger result", zap.Error(err))
		return
	}
	if _, err := s.js.Publish(resultSubject, data); err != nil {
		s.logger.Error("Failed to publish trigger result", zap.Error(err))
	}
}
