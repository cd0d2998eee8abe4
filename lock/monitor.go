package lock

import (
	"context"
	"log/slog"
	"time"
)

// DefaultMonitorInterval is how often the Monitor checks for idleness.
const DefaultMonitorInterval = time.Minute

// Monitor periodically asks the Authority to lock an idle session.
type Monitor struct {
	authority *Authority
	store     *Store
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMonitorClock replaces time.Now.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		m.now = now
	}
}

// WithMonitorLogger sets the logger.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// NewMonitor returns a Monitor for authority reading settings from store.
func NewMonitor(authority *Authority, store *Store, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		authority: authority,
		store:     store,
		interval:  DefaultMonitorInterval,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "monitor")
	return m
}

// Run ticks until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, m.interval)
			if _, err := m.Tick(tickCtx); err != nil {
				m.logger.Warn("inactivity check failed", "error", err)
			}
			cancel()
		}
	}
}

// Tick runs one inactivity check and reports whether it locked the session.
// When enforcement is disabled it never locks. A failed settings read falls
// back to the defaults.
func (m *Monitor) Tick(ctx context.Context) (bool, error) {
	settings, err := m.store.Settings(ctx)
	if err != nil {
		m.logger.Warn("reading settings, using defaults", "error", err)
		settings = DefaultSettings()
	}
	if !settings.Enabled {
		return false, nil
	}
	snap, err := m.authority.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	if !snap.Expired(m.now(), settings.InactivityTimeout()) {
		return false, nil
	}
	return m.authority.ExpireIdle(ctx)
}
