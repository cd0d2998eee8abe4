package api

import (
	"sync"
	"time"

	"github.com/jmcleod/pagelock/internal/util"
)

const (
	// grantTTL bounds the gap between a password check and the unlock it
	// authorizes.
	grantTTL = time.Minute
	// resetWindowTTL is how long after a verified reset the password may be
	// replaced while locked.
	resetWindowTTL = 5 * time.Minute
)

// grantStore issues single-use tokens proving a recent successful password
// check. POST /session/unlock redeems one.
type grantStore struct {
	now func() time.Time

	mu     sync.Mutex
	grants map[string]time.Time
}

func newGrantStore(now func() time.Time) *grantStore {
	return &grantStore{now: now, grants: make(map[string]time.Time)}
}

func (g *grantStore) issue() (string, error) {
	token, err := util.RandomToken(32)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for t, expires := range g.grants {
		if now.After(expires) {
			delete(g.grants, t)
		}
	}
	g.grants[token] = now.Add(grantTTL)
	return token, nil
}

func (g *grantStore) redeem(token string) bool {
	if token == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	expires, ok := g.grants[token]
	if !ok {
		return false
	}
	delete(g.grants, token)
	return !g.now().After(expires)
}

// resetWindow remembers the last verified reset authorization.
type resetWindow struct {
	now func() time.Time

	mu    sync.Mutex
	until time.Time
}

func newResetWindow(now func() time.Time) *resetWindow {
	return &resetWindow{now: now}
}

func (r *resetWindow) open() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.until = r.now().Add(resetWindowTTL)
}

func (r *resetWindow) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Before(r.until)
}

func (r *resetWindow) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.until = time.Time{}
}
