package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmcleod/pagelock/internal/uuid"
)

// Entry is one audit record as handed to sinks.
type Entry struct {
	ID        string            `json:"id"`
	Event     Event             `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Sink receives audit entries. Record must not block for long; it runs on
// the caller's goroutine.
type Sink interface {
	Record(ctx context.Context, entry Entry)
}

func newEntry(event Event, at time.Time, attrs []slog.Attr) Entry {
	e := Entry{ID: uuid.New(), Event: event, Timestamp: at}
	if len(attrs) > 0 {
		e.Attrs = make(map[string]string, len(attrs))
		for _, a := range attrs {
			e.Attrs[a.Key] = a.Value.String()
		}
	}
	return e
}
