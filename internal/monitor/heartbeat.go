package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/opsdeck/cadence/internal/model"
	"github.com/opsdeck/cadence/internal/storage"
)

const metricsSubject = "metrics.engine"

// Heartbeat periodically publishes an engine health snapshot: host CPU and
// memory usage plus the instance backlog broken down by status.
type Heartbeat struct {
	logger    *zap.Logger
	js        nats.JetStreamContext
	instances storage.InstanceStore
	interval  time.Duration
	stop      chan struct{}
}

// NewHeartbeat creates a new heartbeat publisher
func NewHeartbeat(js nats.JetStreamContext, instances storage.InstanceStore, interval time.Duration, logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		logger:    logger.Named("heartbeat"),
		js:        js,
		instances: instances,
		interval:  interval,
		stop:      make(chan struct{}),
	}
}

// Start starts the heartbeat loop
func (h *Heartbeat) Start(ctx context.Context) {
	h.logger.Info("Starting heartbeat", zap.Duration("interval", h.interval))
	go h.loop(ctx)
}

// Stop stops the heartbeat loop
func (h *Heartbeat) Stop() {
	close(h.stop)
}

func (h *Heartbeat) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			h.publish(ctx)
		}
	}
}

func (h *Heartbeat) publish(ctx context.Context) {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		h.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		h.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	backlog, err := h.instances.CountByStatus(ctx)
	if err != nil {
		h.logger.Error("Failed to count instance backlog", zap.Error(err))
		return
	}

	snapshot := struct {
		Timestamp   time.Time                    `json:"timestamp"`
		CPUUsage    float64                      `json:"cpu_usage"`
		MemoryUsage float64                      `json:"memory_usage"`
		Backlog     map[model.InstanceStatus]int `json:"backlog"`
	}{
		Timestamp:   time.Now(),
		CPUUsage:    cpuPercent[0],
		MemoryUsage: memInfo.UsedPercent,
		Backlog:     backlog,
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Error("Failed to marshal heartbeat", zap.Error(err))
		return
	}

	if _, err := h.js.Publish(metricsSubject, data); err != nil {
		h.logger.Error("Failed to publish heartbeat", zap.Error(err))
		return
	}

	h.logger.Debug("Heartbeat published",
		zap.Float64("cpu_usage", snapshot.CPUUsage),
		zap.Float64("memory_usage", snapshot.MemoryUsage),
		zap.Int("pending", backlog[model.InstanceStatusPending]),
		zap.Int("ready", backlog[model.InstanceStatusReady]))
}
