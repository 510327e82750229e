package worker

import (
	"context"
	"sync"
	"time"

	"github.com/telarch/telarch/internal/logger"
	"github.com/telarch/telarch/pkg/store"
	"github.com/telarch/telarch/pkg/store/models"
)

// MonitorConfig tunes the session health loop.
type MonitorConfig struct {
	// Interval between health probes. Default 5 minutes.
	Interval time.Duration

	// MaxFailures is the consecutive recovery-failure limit before the
	// worker gives up and simulates. Default 3.
	MaxFailures int
}

// Monitor probes the MTProto session and drives interactive re-login when it
// expires. Recovery asks the administrators for a verification code through
// the chat platform and waits for them to submit it.
type Monitor struct {
	session  Session
	store    *store.Store
	notifier Notifier
	cfg      MonitorConfig

	// onGiveUp flips the worker to simulate mode.
	onGiveUp func(ctx context.Context, reason string)

	mu         sync.Mutex
	recovering bool
	failures   int
}

// NewMonitor builds a Monitor.
func NewMonitor(session Session, st *store.Store, notifier Notifier, cfg MonitorConfig, onGiveUp func(ctx context.Context, reason string)) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	return &Monitor{
		session:  session,
		store:    st,
		notifier: notifier,
		cfg:      cfg,
		onGiveUp: onGiveUp,
	}
}

// Failures returns the consecutive recovery-failure count.
func (m *Monitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// Run probes the session until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	now := time.Now()
	err := m.session.Healthy(ctx)
	m.writeStatus(ctx, err == nil, now)
	if err == nil {
		return
	}
	logger.Warn("Session health probe failed", "error", err)
	m.TriggerRecovery(ctx)
}

// TriggerRecovery runs one recovery attempt. Concurrent callers coalesce
// into a single attempt; extra calls return immediately.
func (m *Monitor) TriggerRecovery(ctx context.Context) {
	m.mu.Lock()
	if m.recovering {
		m.mu.Unlock()
		return
	}
	m.recovering = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.recovering = false
		m.mu.Unlock()
	}()

	m.recover(ctx)
}

func (m *Monitor) recover(ctx context.Context) {
	if m.notifier != nil {
		_ = m.notifier.NotifyAdmins(ctx,
			"MTProto session expired. Submit the verification code with /mtcode <code> (and /mtpass <password> if 2FA is enabled).")
	}

	err := m.session.Authorize(ctx)

	m.mu.Lock()
	if err != nil {
		m.failures++
		failures := m.failures
		m.mu.Unlock()

		logger.Error("Session recovery failed", "error", err, "consecutive_failures", failures)
		if failures >= m.cfg.MaxFailures && m.onGiveUp != nil {
			m.onGiveUp(ctx, "authentication recovery failed repeatedly")
		}
		return
	}
	m.failures = 0
	m.mu.Unlock()

	logger.Info("Session restored")
	m.writeStatus(ctx, true, time.Now())
	if m.notifier != nil {
		_ = m.notifier.NotifyAdmins(ctx, "MTProto session restored. Large-file processing resumed.")
	}
}

func (m *Monitor) writeStatus(ctx context.Context, authorized bool, probedAt time.Time) {
	m.mu.Lock()
	failures := m.failures
	m.mu.Unlock()

	mode := "real"
	if !authorized && failures >= m.cfg.MaxFailures {
		mode = "simulate"
	}
	err := m.store.SetWorkerStatus(ctx, &models.WorkerStatus{
		Mode:         mode,
		Authorized:   authorized,
		AuthFailures: failures,
		LastProbeAt:  probedAt,
	})
	if err != nil {
		logger.Warn("Failed to write worker status", "error", err)
	}
}
