// Package audit records security-relevant lock transitions as structured
// slog entries and watches them for failure spikes.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event identifies the type of security-relevant action being logged.
type Event string

const (
	EventUnlock             Event = "unlock"
	EventLock               Event = "lock"
	EventTimeoutLock        Event = "timeout_lock"
	EventResetAuthorized    Event = "reset_authorized"
	EventAuthMismatch       Event = "auth_mismatch"
	EventVerificationFailed Event = "verification_failed"
	EventVerifyRateLimited  Event = "verify_rate_limited"
	EventPasswordSet        Event = "password_set"
	EventBiometricEnrolled  Event = "biometric_enrolled"
	EventSettingsChanged    Event = "settings_changed"
	EventColdStart          Event = "cold_start"
)

// Logger wraps slog.Logger for structured security audit logging.
type Logger struct {
	logger  *slog.Logger
	metrics *collector
	sinks   []Sink
	now     func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithAlertFunc enables failure-spike detection; fn is called when the
// number of unlock failures inside the window reaches the threshold.
func WithAlertFunc(fn AlertFunc) Option {
	return func(l *Logger) {
		l.metrics = newCollector(fn)
	}
}

// WithSink forwards every entry to s after it is logged.
func WithSink(s Sink) Option {
	return func(l *Logger) {
		l.sinks = append(l.sinks, s)
	}
}

// New returns an audit logger writing through logger.
func New(logger *slog.Logger, opts ...Option) *Logger {
	l := &Logger{logger: logger.With("component", "audit"), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Discard returns a Logger that drops everything, for tests and tools.
func Discard() *Logger {
	return New(slog.New(slog.DiscardHandler))
}

// Log writes a structured audit log entry.
func (l *Logger) Log(ctx context.Context, event Event, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	now := l.now().UTC()
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("timestamp", now.Format(time.RFC3339)),
	}
	base = append(base, attrs...)
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit", base...)
	l.metrics.recordEvent(event)

	if len(l.sinks) == 0 {
		return
	}
	entry := newEntry(event, now, attrs)
	for _, s := range l.sinks {
		s.Record(ctx, entry)
	}
}

// Failure logs a failed attempt with its reason.
func (l *Logger) Failure(ctx context.Context, event Event, reason string, attrs ...slog.Attr) {
	all := append([]slog.Attr{slog.String("reason", reason)}, attrs...)
	l.Log(ctx, event, all...)
}
