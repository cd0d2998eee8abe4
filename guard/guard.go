// Package guard implements the Page Guard: the per-page component that
// renders the lock surface, collects credentials and relays user actions to
// the Session Authority.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmcleod/pagelock/broadcast"
	"github.com/jmcleod/pagelock/internal/audit"
	"github.com/jmcleod/pagelock/lock"
)

// DefaultHeartbeatInterval is the minimum gap between heartbeats.
const DefaultHeartbeatInterval = 60 * time.Second

// Session is the subset of the Session Authority protocol a guard uses.
type Session interface {
	UnlockGranted(ctx context.Context) error
	Heartbeat(ctx context.Context)
}

// Credentials reads and writes the stored password and settings.
type Credentials interface {
	HasCredential(ctx context.Context) (bool, error)
	VerifyPassword(ctx context.Context, password []byte) (bool, error)
	SetPassword(ctx context.Context, password []byte) error
	Settings(ctx context.Context) (lock.Settings, error)
}

// Guard drives one Surface.
type Guard struct {
	session Session
	creds   Credentials
	surface Surface
	logger  *slog.Logger
	audit   *audit.Logger
	now     func() time.Time
	limiter *rate.Limiter

	mu      sync.Mutex
	present bool
	view    View
	epoch   string
	seq     uint64
	// locks counts applied lock broadcasts.
	locks uint64
}

// Option configures a Guard.
type Option func(*Guard)

// WithHeartbeatInterval sets the heartbeat throttle.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// WithAudit sets the audit logger for failed unlock attempts.
func WithAudit(l *audit.Logger) Option {
	return func(g *Guard) {
		g.audit = l
	}
}

// WithClock replaces time.Now for the heartbeat throttle.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// New returns a Guard. Nothing is rendered until Start.
func New(session Session, creds Credentials, surface Surface, opts ...Option) *Guard {
	g := &Guard{
		session: session,
		creds:   creds,
		surface: surface,
		logger:  slog.Default(),
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Every(DefaultHeartbeatInterval), 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "guard")
	return g
}

// Start renders the lock view, then picks the view the stored state calls
// for. The page starts locked whatever the Authority believes; only a new
// unlock removes the surface.
func (g *Guard) Start(ctx context.Context) error {
	g.mu.Lock()
	g.surface.Render(ViewLock)
	g.present = true
	g.view = ViewLock
	g.limiter.AllowN(g.now(), 1)
	g.mu.Unlock()

	exists, err := g.creds.HasCredential(ctx)
	if err != nil {
		return fmt.Errorf("checking credential: %w", err)
	}
	if !exists {
		g.switchTo(ViewCreate)
		return nil
	}

	settings, err := g.creds.Settings(ctx)
	if err != nil {
		g.logger.Warn("reading settings", "error", err)
		return nil
	}
	if settings.BiometricsEnabled {
		g.mu.Lock()
		if g.present {
			g.surface.OfferBiometric()
		}
		g.mu.Unlock()
	}
	return nil
}

// Watch subscribes to sub and applies events until ctx is done or the
// subscription closes.
func (g *Guard) Watch(ctx context.Context, sub broadcast.Subscriber) error {
	events, err := sub.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			g.HandleEvent(ev)
		}
	}
}

// HandleEvent applies one broadcast. Events older than the newest one seen
// are dropped.
func (g *Guard) HandleEvent(ev broadcast.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !ev.NewerThan(g.epoch, g.seq) {
		g.logger.Debug("dropping stale event", "type", ev.Kind, "seq", ev.Seq)
		return
	}
	g.epoch, g.seq = ev.Epoch, ev.Seq

	switch ev.Kind {
	case broadcast.KindStateChanged:
		if ev.IsUnlocked {
			g.removeLocked()
			break
		}
		g.locks++
		if !g.present {
			g.surface.Render(ViewLock)
			g.present = true
			g.view = ViewLock
		}
	case broadcast.KindResetAuthorized:
		if g.present && g.view != ViewReset {
			g.surface.SwitchView(ViewReset)
			g.view = ViewReset
		}
	default:
		g.logger.Warn("unknown event", "type", ev.Kind)
	}
}

// Locked reports whether the surface is rendered.
func (g *Guard) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.present
}

// View returns the current view. It is meaningless while unlocked.
func (g *Guard) View() View {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.view
}

// Activity forwards user activity as a heartbeat, at most once per
// heartbeat interval. Activity on a locked page is not forwarded.
func (g *Guard) Activity(ctx context.Context) {
	g.mu.Lock()
	locked := g.present
	g.mu.Unlock()
	if locked {
		return
	}
	if !g.limiter.AllowN(g.now(), 1) {
		return
	}
	g.session.Heartbeat(ctx)
}

func (g *Guard) switchTo(view View) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.present && g.view != view {
		g.surface.SwitchView(view)
		g.view = view
	}
}

// removeLocked takes the surface down. g.mu must be held.
func (g *Guard) removeLocked() {
	if g.present {
		g.surface.Remove()
		g.present = false
	}
}
