package audit

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const AlertUnlockFailureSpike AlertType = "unlock_failure_spike"

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultFailureWindow    = 5 * time.Minute
	defaultFailureThreshold = 10
)

// collector tracks a sliding window of unlock failures.
type collector struct {
	mu sync.Mutex

	failures  []time.Time
	window    time.Duration
	threshold int
	now       func() time.Time

	alertFn AlertFunc
}

func newCollector(alertFn AlertFunc) *collector {
	return &collector{
		window:    defaultFailureWindow,
		threshold: defaultFailureThreshold,
		now:       time.Now,
		alertFn:   alertFn,
	}
}

func (m *collector) recordEvent(event Event) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case EventAuthMismatch, EventVerificationFailed:
		m.recordFailure()
	}
}

func (m *collector) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.failures = append(m.failures, now)
	m.failures = trimWindow(m.failures, now, m.window)

	if len(m.failures) >= m.threshold {
		m.alertFn(AlertEvent{
			Type:      AlertUnlockFailureSpike,
			Message:   "unlock failure rate exceeds threshold",
			Count:     len(m.failures),
			Threshold: m.threshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		m.failures = m.failures[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
