package enocean

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the slice of the MQTT client the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval between reports. Zero means 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher

	// Gateway supplies link statistics. A nil gateway reports as
	// disconnected.
	Gateway Connector

	// GatewayAddress is copied into the connection block as-is.
	GatewayAddress string

	// LearnActive, when set, fills the learn_mode field.
	LearnActive func() bool
}

// HealthReporter publishes the retained bridge status on
// graylogic/health/enocean: once on Start, then every interval, and a
// final "stopping" on Stop. The broker publishes the LWT variant if the
// process dies.
type HealthReporter struct {
	cfg       HealthReporterConfig
	bridgeID  string
	version   string
	interval  time.Duration
	startTime time.Time

	deviceCount atomic.Int64

	// dropped counter as of the previous report
	droppedMu   sync.Mutex
	lastDropped uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger atomic.Pointer[Logger]
}

// NewHealthReporter returns a reporter; nothing is published until Start
// or PublishStarting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval == 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		interval:  cfg.Interval,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// Start publishes the current status and then keeps reporting until ctx
// ends or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the report loop and publishes "stopping". Further calls do
// nothing.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		//nolint:errcheck // shutting down; the LWT covers a lost publish
		h.publishStatus(HealthStopping, "")
	})
}

// SetDeviceCount records how many configured devices the bridge manages.
func (h *HealthReporter) SetDeviceCount(count int) {
	h.deviceCount.Store(int64(count))
}

// SetLogger sets where publish failures are reported.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.logger.Store(&logger)
}

// PublishStarting announces that the bridge is coming up.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow evaluates and publishes the status immediately.
func (h *HealthReporter) PublishNow() error {
	return h.publishStatus(h.determineStatus())
}

// GetLWTPayload returns the offline message to register as MQTT will.
func (h *HealthReporter) GetLWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.bridgeID))
}

// GetLWTTopic returns the topic the will must be registered on.
func (h *HealthReporter) GetLWTTopic() string {
	return HealthTopic()
}

// determineStatus checks MQTT, then the gateway link, then whether any
// telegrams were dropped since the last call.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.cfg.Gateway == nil {
		return HealthDegraded, "gateway disconnected"
	}

	stats := h.cfg.Gateway.Stats()
	switch {
	case stats.Reconnecting && !stats.Connected:
		return HealthDegraded, "gateway reconnecting"
	case !stats.Connected:
		return HealthDegraded, "gateway disconnected"
	}

	h.droppedMu.Lock()
	dropped := stats.TelegramsDropped - h.lastDropped
	h.lastDropped = stats.TelegramsDropped
	h.droppedMu.Unlock()
	if dropped > 0 {
		return HealthDegraded, fmt.Sprintf("%d telegrams dropped", dropped)
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	var stats GatewayStats
	if h.cfg.Gateway != nil {
		stats = h.cfg.Gateway.Stats()
	}

	msg := NewHealthMessage(h.bridgeID, h.version, status, stats, int(h.deviceCount.Load()), h.startTime)
	if reason != "" {
		msg.Reason = reason
	}
	if msg.Connection != nil {
		msg.Connection.Address = h.cfg.GatewayAddress
	}
	if h.cfg.LearnActive != nil {
		msg.LearnMode = h.cfg.LearnActive()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal health: %w", err)
	}
	return h.cfg.Publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	if l := h.logger.Load(); l != nil && *l != nil {
		(*l).Error(msg, "error", err)
	}
}
