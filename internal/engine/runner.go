package engine

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/opsdeck/cadence/internal/clock"
	"github.com/opsdeck/cadence/internal/storage"
)

// EventPublisher is the hand-off point to the external notification
// collaborators. The runner never decides who gets notified.
type EventPublisher interface {
	// InstancesReady announces instances that just became actionable
	InstancesReady(ctx context.Context, ids []string) error

	// InstancesMissed announces instances whose completion window lapsed
	InstancesMissed(ctx context.Context, ids []string) error
}

// RunnerConfig carries the runner's timer specs and default lookahead.
type RunnerConfig struct {
	Lookahead      time.Duration
	GenerationSpec string
	SweepSpec      string
}

// Runner drives the generator over all active cadences and the sweeper
// globally, on independent schedules. Each invocation runs to completion and
// returns an aggregate result; a single cadence's failure is recorded with
// its identity and never aborts the batch.
type Runner struct {
	logger    *zap.Logger
	cadences  storage.CadenceStore
	generator *Generator
	sweeper   *Sweeper
	events    EventPublisher
	clock     clock.Clock
	cron      *cron.Cron
	config    RunnerConfig
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewRunner creates a new batch runner. events may be nil when no collaborator
// consumes lifecycle announcements.
func NewRunner(cadences storage.CadenceStore, generator *Generator, sweeper *Sweeper, events EventPublisher, clk clock.Clock, config RunnerConfig, logger *zap.Logger) *Runner {
	if config.Lookahead <= 0 {
		config.Lookahead = DefaultLookahead
	}
	if config.GenerationSpec == "" {
		config.GenerationSpec = DefaultGenerationSpec
	}
	if config.SweepSpec == "" {
		config.SweepSpec = DefaultSweepSpec
	}

	cronLogger := &cronLogger{logger: logger.Named("cron")}
	return &Runner{
		logger:    logger.Named("runner"),
		cadences:  cadences,
		generator: generator,
		sweeper:   sweeper,
		events:    events,
		clock:     clk,
		cron:      cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger))),
		config:    config,
	}
}

// CadenceResult reports one cadence's generation within a batch.
type CadenceResult struct {
	CadenceID   string `json:"cadence_id"`
	CadenceName string `json:"cadence_name"`
	Created     int    `json:"created"`
	Skipped     int    `json:"skipped"`
	Error       string `json:"error,omitempty"`
}

// GenerationReport aggregates one generation batch.
type GenerationReport struct {
	Processed int             `json:"processed"`
	Generated int             `json:"generated"`
	Results   []CadenceResult `json:"results"`
}

// SweepReport aggregates one status sweep.
type SweepReport struct {
	Updated int      `json:"updated"`
	Ready   int      `json:"ready"`
	Missed  int      `json:"missed"`
	Errors  []string `json:"errors,omitempty"`
}

// RunGeneration materializes instances for every active cadence within
// [now, now+lookahead). A non-positive lookahead uses the configured default.
// Idempotent: re-running with the same now produces no additional instances.
func (r *Runner) RunGeneration(ctx context.Context, lookahead time.Duration) (*GenerationReport, error) {
	if lookahead <= 0 {
		lookahead = r.config.Lookahead
	}

	cadences, err := r.cadences.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	report := &GenerationReport{}
	for _, cadence := range cadences {
		report.Processed++

		outcome, err := r.generator.Generate(ctx, cadence, lookahead, now)
		if err != nil {
			r.logger.Error("Cadence generation failed",
				zap.String("cadence_id", cadence.ID),
				zap.String("cadence_name", cadence.Name),
				zap.Error(err))
			report.Results = append(report.Results, CadenceResult{
				CadenceID:   cadence.ID,
				CadenceName: cadence.Name,
				Error:       err.Error(),
			})
			continue
		}

		result := CadenceResult{
			CadenceID:   cadence.ID,
			CadenceName: cadence.Name,
			Created:     len(outcome.Created),
			Skipped:     outcome.Skipped,
		}
		if len(outcome.Failures) > 0 {
			messages := make([]string, 0, len(outcome.Failures))
			for _, f := range outcome.Failures {
				messages = append(messages, f.Message)
			}
			result.Error = strings.Join(messages, "; ")
		}
		report.Generated += result.Created
		report.Results = append(report.Results, result)
	}

	r.logger.Info("Generation batch complete",
		zap.Time("now", now),
		zap.Duration("lookahead", lookahead),
		zap.Int("processed", report.Processed),
		zap.Int("generated", report.Generated))

	return report, nil
}

// RunStatusSweep runs one sweep across all workspaces and announces the
// resulting transitions to the event publisher.
func (r *Runner) RunStatusSweep(ctx context.Context) (*SweepReport, error) {
	outcome := r.sweeper.Sweep(ctx)

	report := &SweepReport{
		Updated: outcome.Updated(),
		Ready:   len(outcome.Ready),
		Missed:  len(outcome.Missed),
		Errors:  outcome.Errors,
	}

	if r.events != nil {
		if len(outcome.Ready) > 0 {
			if err := r.events.InstancesReady(ctx, outcome.Ready); err != nil {
				r.logger.Error("Failed to announce ready instances", zap.Error(err))
			}
		}
		if len(outcome.Missed) > 0 {
			if err := r.events.InstancesMissed(ctx, outcome.Missed); err != nil {
				r.logger.Error("Failed to announce missed instances", zap.Error(err))
			}
		}
	}

	return report, nil
}

// Start registers the generation and sweep timers and starts them. The two
// run on independent schedules; overlapping or duplicated firings are safe
// because both operations are idempotent.
func (r *Runner) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.config.GenerationSpec, func() {
		if _, err := r.RunGeneration(ctx, 0); err != nil {
			r.logger.Error("Scheduled generation failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := r.cron.AddFunc(r.config.SweepSpec, func() {
		if _, err := r.RunStatusSweep(ctx); err != nil {
			r.logger.Error("Scheduled sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	r.cron.Start()
	r.logger.Info("Runner started",
		zap.String("generation_spec", r.config.GenerationSpec),
		zap.String("sweep_spec", r.config.SweepSpec),
		zap.Duration("lookahead", r.config.Lookahead))
	return nil
}

// Stop stops the timers and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
