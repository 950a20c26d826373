package ble

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Health topic layout under the service prefix.
const (
	healthTopic = "dalilink/health"
	stateTopic  = "dalilink/state"
)

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// healthMessage is the JSON document published to the health topic.
type healthMessage struct {
	Service   string  `json:"service"`
	Version   string  `json:"version"`
	Status    string  `json:"status"`
	Reason    string  `json:"reason,omitempty"`
	UptimeSec int64   `json:"uptime_seconds"`
	Transport Status  `json:"transport"`
	Commands  uint64  `json:"commands_total"`
	Failures  uint64  `json:"failures_total"`
	AvgMs     int64   `json:"avg_command_ms"`
	Success   float64 `json:"success_rate"`
	Timestamp string  `json:"timestamp"`
}

// stateMessage is the JSON document published per command outcome.
type stateMessage struct {
	DeviceID  string `json:"device_id"`
	Percent   int    `json:"percent"`
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp"`
}

// Reporter periodically publishes controller health over MQTT and
// implements StatePublisher for per-command state updates.
type Reporter struct {
	controller *Controller
	publisher  HealthPublisher
	version    string
	interval   time.Duration
	startTime  time.Time
	qos        byte

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// ReporterConfig assembles a Reporter.
type ReporterConfig struct {
	Controller *Controller
	Publisher  HealthPublisher
	Version    string

	// Interval between health publications. Default: 30s.
	Interval time.Duration

	// QoS for published messages. Default: 1.
	QoS byte
}

// NewReporter creates a health reporter. Call Start to begin.
func NewReporter(cfg ReporterConfig) *Reporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	qos := cfg.QoS
	if qos == 0 {
		qos = 1
	}
	return &Reporter{
		controller: cfg.Controller,
		publisher:  cfg.Publisher,
		version:    cfg.Version,
		interval:   interval,
		qos:        qos,
		startTime:  time.Now(),
		done:       make(chan struct{}),
	}
}

// SetLogger sets the logger for this reporter.
func (r *Reporter) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// Start begins periodic health publication.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop publishes a final stopping status and shuts the loop down.
// Safe to call multiple times.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		//nolint:errcheck // best-effort during shutdown
		r.publish("stopping", "shutdown requested")
	})
}

// PublishNow publishes the current health immediately.
func (r *Reporter) PublishNow() error {
	status, reason := r.assess()
	return r.publish(status, reason)
}

// PublishDeviceState implements StatePublisher.
func (r *Reporter) PublishDeviceState(deviceID string, percent int, success bool) {
	if r.publisher == nil || !r.publisher.IsConnected() {
		return
	}
	payload, err := json.Marshal(stateMessage{
		DeviceID:  deviceID,
		Percent:   percent,
		Success:   success,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := r.publisher.Publish(stateTopic+"/"+deviceID, payload, r.qos, false); err != nil {
		r.logError("state publish failed", err)
	}
}

func (r *Reporter) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.PublishNow(); err != nil {
		r.logError("initial health publish failed", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.PublishNow(); err != nil {
				r.logError("health publish failed", err)
			}
		}
	}
}

// assess derives the published status from controller state.
func (r *Reporter) assess() (status, reason string) {
	if r.publisher == nil || !r.publisher.IsConnected() {
		return "degraded", "MQTT disconnected"
	}
	if r.controller.Simulated() {
		return "degraded", "simulation mode"
	}
	return "healthy", ""
}

func (r *Reporter) publish(status, reason string) error {
	if r.publisher == nil {
		return nil
	}

	stats := r.controller.Monitor().Snapshot()
	msg := healthMessage{
		Service:   "dalilink",
		Version:   r.version,
		Status:    status,
		Reason:    reason,
		UptimeSec: int64(time.Since(r.startTime).Seconds()),
		Transport: r.controller.ConnectionStatus(),
		Commands:  stats.TotalCommands,
		Failures:  stats.TotalFailures,
		AvgMs:     stats.AvgCommand.Milliseconds(),
		Success:   stats.CommandSuccess,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.publisher.Publish(healthTopic, payload, r.qos, true)
}

func (r *Reporter) logError(msg string, err error) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
