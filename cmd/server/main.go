package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/opsdeck/cadence/internal/clock"
	"github.com/opsdeck/cadence/internal/engine"
	"github.com/opsdeck/cadence/internal/monitor"
	"github.com/opsdeck/cadence/internal/storage"
	"github.com/opsdeck/cadence/internal/trigger"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	// Connect to NATS with retry
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully", zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Open storage
	db, err := storage.Open(logger, viper.GetString("storage.path"))
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer db.Close()

	cadenceStore := storage.NewSQLiteCadenceStore(logger, db)
	instanceStore := storage.NewSQLiteInstanceStore(logger, db)

	// Wire the engine
	clk := clock.System{}
	generator := engine.NewGenerator(instanceStore, logger)
	sweeper := engine.NewSweeper(instanceStore, clk, logger)
	events := trigger.NewEvents(js, clk, logger)
	runner := engine.NewRunner(cadenceStore, generator, sweeper, events, clk, engine.RunnerConfig{
		Lookahead:      time.Duration(viper.GetInt("engine.lookahead_hours")) * time.Hour,
		GenerationSpec: viper.GetString("engine.generation_spec"),
		SweepSpec:      viper.GetString("engine.sweep_spec"),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// On-demand triggers over NATS, same semantics as the timers
	triggerService := trigger.NewService(js, runner, viper.GetString("trigger.token"), clk, logger)
	if err := triggerService.Start(ctx); err != nil {
		logger.Fatal("Failed to start trigger service", zap.Error(err))
	}

	// Health and alerting
	heartbeat := monitor.NewHeartbeat(js, instanceStore,
		viper.GetDuration("monitor.heartbeat_interval"), logger)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	alerts := monitor.NewAlertManager(js, viper.GetInt("monitor.missed_alert_threshold"), logger)
	if err := alerts.Start(ctx); err != nil {
		logger.Fatal("Failed to start alert manager", zap.Error(err))
	}
	defer alerts.Stop()

	// Periodic generation and sweep timers
	if err := runner.Start(ctx); err != nil {
		logger.Fatal("Failed to start runner", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	// A run interrupted mid-way is safe to resume: generation is idempotent
	// and the sweep judges rows against its own snapshot. Still, let in-flight
	// runs finish before closing.
	runner.Stop()
	logger.Info("Server shutting down gracefully")
}
