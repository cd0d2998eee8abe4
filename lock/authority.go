package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmcleod/pagelock/broadcast"
	"github.com/jmcleod/pagelock/internal/audit"
	"github.com/jmcleod/pagelock/internal/uuid"
)

const defaultQueueSize = 64

type op int

const (
	opQuery op = iota
	opSnapshot
	opUnlock
	opLock
	opReset
	opHeartbeat
	opExpire
)

func (o op) String() string {
	switch o {
	case opQuery:
		return "query"
	case opSnapshot:
		return "snapshot"
	case opUnlock:
		return "unlock"
	case opLock:
		return "lock"
	case opReset:
		return "reset"
	case opHeartbeat:
		return "heartbeat"
	case opExpire:
		return "expire"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

type request struct {
	op    op
	reply chan reply
}

type reply struct {
	state   SessionState
	changed bool
	err     error
}

// Authority is the Session Authority: the single owner of SessionState.
// Every request is processed by the Run goroutine one at a time, so a
// timeout lock and an unlock can never interleave.
type Authority struct {
	store  *Store
	pub    broadcast.Publisher
	now    func() time.Time
	logger *slog.Logger
	audit  *audit.Logger

	epoch    string
	requests chan request
	stopped  chan struct{}
	running  atomic.Bool

	// Owned by the Run goroutine.
	state SessionState
	seq   uint64
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		a.now = now
	}
}

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authority) {
		a.logger = logger
	}
}

// WithAudit sets the audit logger for lock transitions.
func WithAudit(l *audit.Logger) Option {
	return func(a *Authority) {
		a.audit = l
	}
}

// WithQueueSize sets how many requests may wait for the Run loop.
func WithQueueSize(n int) Option {
	return func(a *Authority) {
		if n > 0 {
			a.requests = make(chan request, n)
		}
	}
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, broadcast.Event) error { return nil }

// NewAuthority returns an Authority that persists through store and
// announces transitions on pub. It does nothing until Run is called.
func NewAuthority(store *Store, pub broadcast.Publisher, opts ...Option) *Authority {
	if pub == nil {
		pub = discardPublisher{}
	}
	a := &Authority{
		store:    store,
		pub:      pub,
		now:      time.Now,
		logger:   slog.Default(),
		epoch:    uuid.New(),
		requests: make(chan request, defaultQueueSize),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "authority")
	return a
}

// Epoch identifies this Authority's lifetime. Events from a previous
// lifetime carry a different epoch.
func (a *Authority) Epoch() string {
	return a.epoch
}

// Run processes requests until ctx is canceled. The session always starts
// locked, whatever state was persisted by a previous lifetime.
func (a *Authority) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(a.stopped)

	a.coldStart(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("session authority stopped")
			return nil
		case req := <-a.requests:
			r := a.handle(ctx, req.op)
			if req.reply != nil {
				req.reply <- r
			}
		}
	}
}

func (a *Authority) coldStart(ctx context.Context) {
	prev, err := a.store.SessionState(ctx)
	if err != nil {
		a.logger.Warn("reading persisted session state", "error", err)
	}
	if _, err := a.store.Install(ctx); err != nil {
		a.logger.Error("installing default settings", "error", err)
	}
	a.state = SessionState{IsUnlocked: false, LastActivity: a.now()}
	if err := a.store.putSessionState(ctx, a.state); err != nil {
		a.logger.Error("persisting cold start state", "error", err)
	}
	a.audit.Log(ctx, audit.EventColdStart,
		slog.String("epoch", a.epoch),
		slog.Bool("previously_unlocked", prev.IsUnlocked),
	)
	a.logger.Info("session authority started", "epoch", a.epoch)
}

func (a *Authority) handle(ctx context.Context, o op) reply {
	switch o {
	case opQuery:
		a.enforceTimeout(ctx)
		return reply{state: a.state}
	case opSnapshot:
		return reply{state: a.state}
	case opExpire:
		changed := a.enforceTimeout(ctx)
		return reply{state: a.state, changed: changed}
	case opUnlock:
		return a.unlock(ctx)
	case opLock:
		changed := a.lock(ctx, audit.EventLock)
		return reply{state: a.state, changed: changed}
	case opReset:
		a.announce(ctx, broadcast.KindResetAuthorized)
		a.audit.Log(ctx, audit.EventResetAuthorized)
		return reply{state: a.state}
	case opHeartbeat:
		return a.heartbeat(ctx)
	default:
		return reply{state: a.state, err: fmt.Errorf("unknown request %s", o)}
	}
}

func (a *Authority) unlock(ctx context.Context) reply {
	next := SessionState{IsUnlocked: true, LastActivity: a.now()}
	if a.state.IsUnlocked && next.LastActivity.Before(a.state.LastActivity) {
		next.LastActivity = a.state.LastActivity
	}
	if err := a.store.putSessionState(ctx, next); err != nil {
		a.logger.Error("persisting unlock, staying locked", "error", err)
		return reply{state: a.state, err: fmt.Errorf("persisting unlock: %w", err)}
	}
	changed := !a.state.IsUnlocked
	a.state = next
	a.announce(ctx, broadcast.KindStateChanged)
	a.audit.Log(ctx, audit.EventUnlock)
	return reply{state: a.state, changed: changed}
}

// lock moves to LOCKED. The in-memory state changes even if persisting
// fails.
func (a *Authority) lock(ctx context.Context, event audit.Event) bool {
	changed := a.state.IsUnlocked
	a.state.IsUnlocked = false
	if err := a.store.putSessionState(ctx, a.state); err != nil {
		a.logger.Error("persisting lock", "error", err)
	}
	a.announce(ctx, broadcast.KindStateChanged)
	a.audit.Log(ctx, event, slog.Bool("was_unlocked", changed))
	return changed
}

func (a *Authority) heartbeat(ctx context.Context) reply {
	// A heartbeat from a page that has not yet seen the lock must not
	// revive the session.
	if !a.state.IsUnlocked {
		return reply{state: a.state}
	}
	if a.enforceTimeout(ctx) {
		return reply{state: a.state, changed: true}
	}
	now := a.now()
	if !now.After(a.state.LastActivity) {
		return reply{state: a.state}
	}
	a.state.LastActivity = now
	if err := a.store.putSessionState(ctx, a.state); err != nil {
		a.logger.Warn("persisting heartbeat", "error", err)
	}
	return reply{state: a.state}
}

// enforceTimeout locks an unlocked session that has been idle for longer
// than the configured timeout. It reports whether it locked.
func (a *Authority) enforceTimeout(ctx context.Context) bool {
	if !a.state.IsUnlocked {
		return false
	}
	settings, err := a.store.Settings(ctx)
	if err != nil {
		a.logger.Warn("reading settings, using defaults", "error", err)
		settings = DefaultSettings()
	}
	if !settings.Enabled {
		return false
	}
	if !a.state.Expired(a.now(), settings.InactivityTimeout()) {
		return false
	}
	a.logger.Info("inactivity timeout reached",
		"last_activity", a.state.LastActivity,
		"timeout", settings.InactivityTimeout(),
	)
	return a.lock(ctx, audit.EventTimeoutLock)
}

func (a *Authority) announce(ctx context.Context, kind broadcast.Kind) {
	a.seq++
	ev := broadcast.Event{
		Kind:       kind,
		IsUnlocked: a.state.IsUnlocked,
		Epoch:      a.epoch,
		Seq:        a.seq,
		At:         a.now(),
	}
	if err := a.pub.Publish(ctx, ev); err != nil {
		a.logger.Warn("broadcasting event", "type", kind, "seq", a.seq, "error", err)
	}
}

func (a *Authority) do(ctx context.Context, o op) (reply, error) {
	req := request{op: o, reply: make(chan reply, 1)}
	select {
	case a.requests <- req:
	case <-ctx.Done():
		return reply{}, fmt.Errorf("%w: %s: %w", ErrNoResponse, o, ctx.Err())
	case <-a.stopped:
		return reply{}, fmt.Errorf("%w: %s: authority stopped", ErrNoResponse, o)
	}
	select {
	case r := <-req.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, fmt.Errorf("%w: %s: %w", ErrNoResponse, o, ctx.Err())
	case <-a.stopped:
		// The loop may have answered just before it stopped.
		select {
		case r := <-req.reply:
			return r, r.err
		default:
		}
		return reply{}, fmt.Errorf("%w: %s: authority stopped", ErrNoResponse, o)
	}
}

// QueryLockStatus reports whether the session is unlocked. An unlocked
// session past its timeout is locked before answering.
func (a *Authority) QueryLockStatus(ctx context.Context) (bool, error) {
	r, err := a.do(ctx, opQuery)
	if err != nil {
		return false, err
	}
	return r.state.IsUnlocked, nil
}

// UnlockGranted records a successful authentication. If the new state
// cannot be persisted the session stays locked and an error is returned.
func (a *Authority) UnlockGranted(ctx context.Context) error {
	_, err := a.do(ctx, opUnlock)
	return err
}

// LockRequested locks the session. Locking an already locked session is a
// no-op apart from a fresh broadcast.
func (a *Authority) LockRequested(ctx context.Context) error {
	_, err := a.do(ctx, opLock)
	return err
}

// ResetAuthorized announces that a password reset has been authorized so
// every page can switch to the reset view. The lock state is unchanged.
func (a *Authority) ResetAuthorized(ctx context.Context) error {
	_, err := a.do(ctx, opReset)
	return err
}

// Heartbeat records user activity. It never blocks; when the queue is full
// the heartbeat is dropped, which only makes the timeout fire sooner.
func (a *Authority) Heartbeat(ctx context.Context) {
	select {
	case a.requests <- request{op: opHeartbeat}:
	case <-ctx.Done():
	case <-a.stopped:
	default:
		a.logger.Debug("heartbeat dropped, queue full")
	}
}

// Snapshot returns the current state without evaluating the timeout.
func (a *Authority) Snapshot(ctx context.Context) (SessionState, error) {
	r, err := a.do(ctx, opSnapshot)
	return r.state, err
}

// ExpireIdle locks the session if it is unlocked and idle past the
// timeout. The check is repeated inside the Run loop so concurrent callers
// lock at most once.
func (a *Authority) ExpireIdle(ctx context.Context) (bool, error) {
	r, err := a.do(ctx, opExpire)
	return r.changed, err
}
