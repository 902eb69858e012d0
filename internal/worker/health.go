package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/escape-exam/score-service/internal/config"
)

// Pinger is anything whose reachability can be checked
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusRecorder receives the result of each ping
type StatusRecorder interface {
	SetStoreUp(up bool)
}

// HealthMonitor pings the store on an interval and remembers whether the last
// ping succeeded
type HealthMonitor struct {
	store    Pinger
	config   *config.HealthConfig
	recorder StatusRecorder
	logger   *slog.Logger

	connected atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewHealthMonitor creates a monitor. recorder may be nil.
func NewHealthMonitor(store Pinger, cfg *config.HealthConfig, recorder StatusRecorder, logger *slog.Logger) *HealthMonitor {
	return &HealthMonitor{
		store:    store,
		config:   cfg,
		recorder: recorder,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start pings once and then keeps pinging in the background
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	m.CheckOnce(ctx)
	m.logger.Info("health monitor started", "interval", m.config.Interval)

	go m.run(ctx)
	return nil
}

// Stop stops the background probing
func (m *HealthMonitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.logger.Info("health monitor stopped")
	return nil
}

func (m *HealthMonitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce pings the store and returns whether it answered
func (m *HealthMonitor) CheckOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	err := m.store.Ping(ctx)
	up := err == nil

	if previous := m.connected.Swap(up); previous != up {
		if up {
			m.logger.Info("store connected")
		} else {
			m.logger.Warn("store disconnected", "error", err)
		}
	}
	if m.recorder != nil {
		m.recorder.SetStoreUp(up)
	}
	return up
}

// Connected reports the result of the latest ping
func (m *HealthMonitor) Connected() bool {
	return m.connected.Load()
}

// IsRunning returns whether the monitor is currently running
func (m *HealthMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
