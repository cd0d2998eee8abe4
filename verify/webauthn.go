package verify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jmcleod/pagelock/internal/util"
)

const (
	// DefaultCeremonyTTL bounds how long a browser may take to answer.
	DefaultCeremonyTTL = 5 * time.Minute
	// DefaultMaxPending caps concurrently pending ceremonies.
	DefaultMaxPending = 32
)

// Config names the relying party the platform authenticator sees.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

// presenceUser is a throwaway identity. Each ceremony creates a fresh
// credential for it and only the act of creation matters.
type presenceUser struct {
	id []byte
}

func (u presenceUser) WebAuthnID() []byte                         { return u.id }
func (u presenceUser) WebAuthnName() string                       { return "pagelock" }
func (u presenceUser) WebAuthnDisplayName() string                { return "pagelock" }
func (u presenceUser) WebAuthnCredentials() []webauthn.Credential { return nil }

// Request is a pending ceremony.
type Request struct {
	Reason  Reason
	Options *protocol.CredentialCreation
	Expires time.Time

	user    presenceUser
	session webauthn.SessionData
}

// Ceremonies runs the relying-party side of platform verification: it
// issues credential creation options and matches the browser's response to
// the pending request by challenge.
type Ceremonies struct {
	wa  *webauthn.WebAuthn
	ttl time.Duration
	max int
	now func() time.Time

	mu      sync.Mutex
	pending map[string]*Request
}

// CeremonyOption configures Ceremonies.
type CeremonyOption func(*Ceremonies)

// WithCeremonyTTL sets how long a ceremony stays claimable.
func WithCeremonyTTL(d time.Duration) CeremonyOption {
	return func(c *Ceremonies) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithMaxPending caps pending ceremonies.
func WithMaxPending(n int) CeremonyOption {
	return func(c *Ceremonies) {
		if n > 0 {
			c.max = n
		}
	}
}

// WithCeremonyClock replaces time.Now.
func WithCeremonyClock(now func() time.Time) CeremonyOption {
	return func(c *Ceremonies) {
		c.now = now
	}
}

// NewCeremonies returns Ceremonies for the relying party in cfg.
func NewCeremonies(cfg Config, opts ...CeremonyOption) (*Ceremonies, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring webauthn: %w", err)
	}
	c := &Ceremonies{
		wa:      wa,
		ttl:     DefaultCeremonyTTL,
		max:     DefaultMaxPending,
		now:     time.Now,
		pending: make(map[string]*Request),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Begin starts a ceremony for reason. The options demand a platform
// authenticator with user verification. Enrollment asks for direct
// attestation; other reasons ask for none.
func (c *Ceremonies) Begin(reason Reason) (*Request, error) {
	id, err := util.RandomBytes(16)
	if err != nil {
		return nil, err
	}
	user := presenceUser{id: id}

	conveyance := protocol.PreferNoAttestation
	if reason == ReasonEnroll {
		conveyance = protocol.PreferDirectAttestation
	}
	options, session, err := c.wa.BeginRegistration(user,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			UserVerification:        protocol.VerificationRequired,
		}),
		webauthn.WithConveyancePreference(conveyance),
	)
	if err != nil {
		return nil, fmt.Errorf("beginning ceremony: %w", err)
	}

	req := &Request{
		Reason:  reason,
		Options: options,
		Expires: c.now().Add(c.ttl),
		user:    user,
		session: *session,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	if len(c.pending) >= c.max {
		return nil, ErrTooManyCeremonies
	}
	c.pending[session.Challenge] = req
	return req, nil
}

// Claim parses a browser's credential creation response and claims the
// ceremony it answers. Each ceremony can be claimed once.
func (c *Ceremonies) Claim(body io.Reader) (*Attempt, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing response: %w", ErrVerificationFailed, err)
	}
	req, err := c.take(parsed.Response.CollectedClientData.Challenge)
	if err != nil {
		return nil, err
	}
	return &Attempt{Reason: req.Reason, wa: c.wa, req: req, parsed: parsed}, nil
}

// Pending returns the number of unexpired ceremonies.
func (c *Ceremonies) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	return len(c.pending)
}

func (c *Ceremonies) take(challenge string) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[challenge]
	if !ok {
		return nil, ErrUnknownCeremony
	}
	delete(c.pending, challenge)
	if c.now().After(req.Expires) {
		return nil, ErrUnknownCeremony
	}
	return req, nil
}

func (c *Ceremonies) sweepLocked() {
	now := c.now()
	for challenge, req := range c.pending {
		if now.After(req.Expires) {
			delete(c.pending, challenge)
		}
	}
}

// Attempt is a claimed ceremony waiting to be checked. It is the Prover
// handed to Gate.Verify.
type Attempt struct {
	Reason Reason

	wa     *webauthn.WebAuthn
	req    *Request
	parsed *protocol.ParsedCredentialCreationData
}

// Prove validates the response against its ceremony. Successful creation
// of the credential is the proof.
func (a *Attempt) Prove(ctx context.Context) (Proof, error) {
	if err := ctx.Err(); err != nil {
		return Proof{}, err
	}
	cred, err := a.wa.CreateCredential(a.req.user, a.req.session, a.parsed)
	if err != nil {
		return Proof{}, fmt.Errorf("creating credential: %w", err)
	}
	return Proof{CredentialID: protocol.URLEncodedBase64(cred.ID).String()}, nil
}
