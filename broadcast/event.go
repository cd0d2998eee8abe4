// Package broadcast fans lock-state notifications out to every live page
// context. Payloads are full snapshots, so a missed or duplicated delivery
// heals on the next one.
package broadcast

import (
	"context"
	"time"
)

// Kind names an event on the wire.
type Kind string

const (
	KindStateChanged    Kind = "stateChanged"
	KindResetAuthorized Kind = "resetAuthorized"
)

// Event is a state snapshot sent from the Session Authority to page guards.
//
// Epoch identifies one authority lifetime and Seq increases with every
// broadcast inside it, letting receivers discard a stale snapshot that
// arrives after a newer one.
type Event struct {
	Kind       Kind      `json:"type"`
	IsUnlocked bool      `json:"isUnlocked"`
	Epoch      string    `json:"epoch"`
	Seq        uint64    `json:"seq"`
	At         time.Time `json:"at"`
}

// NewerThan reports whether e supersedes the last event seen from
// (epoch, seq). An event from a different epoch always wins because the
// authority restarted.
func (e Event) NewerThan(epoch string, seq uint64) bool {
	if e.Epoch != epoch {
		return true
	}
	return e.Seq > seq
}

// Publisher delivers events to whoever is listening, if anyone.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber yields events until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}
