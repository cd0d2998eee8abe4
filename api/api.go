// Package api exposes the Session Authority protocol over HTTP and a
// websocket event stream, and provides a Client that speaks it remotely.
package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/pagelock/broadcast"
	"github.com/jmcleod/pagelock/internal/audit"
	"github.com/jmcleod/pagelock/lock"
	"github.com/jmcleod/pagelock/verify"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	authority  *lock.Authority
	store      *lock.Store
	events     broadcast.Subscriber
	gate       *verify.Gate
	ceremonies *verify.Ceremonies
	journal    *audit.Journal

	limiter *ipRateLimiter
	grants  *grantStore
	resets  *resetWindow

	logger         *slog.Logger
	audit          *audit.Logger
	token          string
	trustedProxies []netip.Prefix
	now            func() time.Time
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAudit sets the audit logger.
func WithAudit(l *audit.Logger) Option {
	return func(a *API) {
		a.audit = l
	}
}

// WithToken requires "Authorization: Bearer <token>" on every API route.
// An empty token disables the check.
func WithToken(token string) Option {
	return func(a *API) {
		a.token = token
	}
}

// WithCeremonies enables the platform verification endpoints.
func WithCeremonies(c *verify.Ceremonies) Option {
	return func(a *API) {
		a.ceremonies = c
	}
}

// WithJournal enables GET /audit over the given journal.
func WithJournal(j *audit.Journal) Option {
	return func(a *API) {
		a.journal = j
	}
}

// WithTrustedProxies lists proxies whose forwarding headers are honored
// when rate limiting by client IP.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithClock replaces time.Now for grants, the reset window and rate limits.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// New creates an API over a running Authority, its Store and the event bus.
func New(authority *lock.Authority, store *lock.Store, events broadcast.Subscriber, opts ...Option) *API {
	a := &API{
		authority: authority,
		store:     store,
		events:    events,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "api")
	a.limiter = newIPRateLimiter(a.now)
	a.grants = newGrantStore(a.now)
	a.resets = newResetWindow(a.now)
	a.gate = verify.NewGate(authority, store, verify.WithLogger(a.logger), verify.WithAudit(a.audit))
	return a
}

// Router returns a chi.Router with all API routes mounted. It is meant to
// be mounted under /api/v1.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Group(func(r chi.Router) {
		r.Use(SecurityHeaders)
		r.Use(a.requireToken(false))

		r.Get("/session", a.GetSession)
		r.Post("/session/unlock", a.Unlock)
		r.Post("/session/lock", a.Lock)
		r.Post("/session/reset", a.Reset)
		r.Post("/session/heartbeat", a.Heartbeat)

		r.Get("/settings", a.GetSettings)
		r.Put("/settings", a.PutSettings)

		r.Get("/credential", a.GetCredential)
		r.Put("/credential", a.PutCredential)
		r.Post("/credential/verify", a.VerifyCredential)

		r.Get("/audit", a.ListAudit)

		r.Post("/verify/begin", a.BeginVerification)
		r.Post("/verify/finish", a.FinishVerification)
	})

	// Browsers cannot set headers on a websocket handshake.
	r.With(a.requireToken(true)).Get("/events", a.Events)

	return r
}

// Maintain sweeps expired rate-limit records every interval until ctx is
// done.
func (a *API) Maintain(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.limiter.sweep()
		}
	}
}
