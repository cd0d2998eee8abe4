// Package verify implements the Verification Gate: an out-of-band identity
// proof from the platform authenticator that can unlock the session or
// authorize a password reset without the password.
//
// Any successful proof is accepted. The gate does not bind the proof to a
// previously registered credential, so it attests user presence at the
// platform rather than possession of a specific key.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcleod/pagelock/internal/audit"
	"github.com/jmcleod/pagelock/lock"
)

var (
	// ErrVerificationFailed is returned when the platform proof failed.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrUnknownReason is returned for a reason the gate does not serve.
	ErrUnknownReason = errors.New("unknown verification reason")
	// ErrUnknownCeremony is returned when a response matches no pending
	// ceremony, or the ceremony expired.
	ErrUnknownCeremony = errors.New("unknown or expired ceremony")
	// ErrTooManyCeremonies is returned when too many ceremonies are pending.
	ErrTooManyCeremonies = errors.New("too many pending ceremonies")
	// ErrBiometricsDisabled is returned for an unlock proof while biometric
	// unlock is turned off in the settings.
	ErrBiometricsDisabled = errors.New("biometric unlock is not enabled")
)

// Reason says what a successful proof is for.
type Reason string

const (
	ReasonUnlock        Reason = "unlock"
	ReasonResetPassword Reason = "resetPassword"
	ReasonEnroll        Reason = "enroll"
)

// ParseReason validates s. An empty string means ReasonUnlock.
func ParseReason(s string) (Reason, error) {
	switch r := Reason(s); r {
	case "":
		return ReasonUnlock, nil
	case ReasonUnlock, ReasonResetPassword, ReasonEnroll:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownReason, s)
	}
}

// Proof is the result of a successful platform verification.
type Proof struct {
	// CredentialID references the credential the platform created.
	CredentialID string
}

// Prover runs one platform verification.
type Prover interface {
	Prove(ctx context.Context) (Proof, error)
}

// ProverFunc adapts a function to Prover.
type ProverFunc func(ctx context.Context) (Proof, error)

func (f ProverFunc) Prove(ctx context.Context) (Proof, error) { return f(ctx) }

// Session is the part of the Session Authority protocol the gate uses.
type Session interface {
	UnlockGranted(ctx context.Context) error
	ResetAuthorized(ctx context.Context) error
}

// SettingsStore reads the biometric switch and records an enrolled
// biometric.
type SettingsStore interface {
	Settings(ctx context.Context) (lock.Settings, error)
	UpdateSettings(ctx context.Context, fn func(*lock.Settings)) (lock.Settings, error)
}

// Gate turns a proof into a request to the Session Authority.
type Gate struct {
	session  Session
	settings SettingsStore
	logger   *slog.Logger
	audit    *audit.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithAudit sets the audit logger.
func WithAudit(l *audit.Logger) GateOption {
	return func(g *Gate) {
		g.audit = l
	}
}

// NewGate returns a Gate. settings may be nil when enrollment is not served.
func NewGate(session Session, settings SettingsStore, opts ...GateOption) *Gate {
	g := &Gate{session: session, settings: settings, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "verify")
	return g
}

// Verify runs prover and completes the gate with its result.
func (g *Gate) Verify(ctx context.Context, reason Reason, prover Prover) error {
	proof, err := prover.Prove(ctx)
	return g.Complete(ctx, reason, proof, err)
}

// Complete acts on the outcome of a proof. A failed proof changes nothing
// and broadcasts nothing.
func (g *Gate) Complete(ctx context.Context, reason Reason, proof Proof, proofErr error) error {
	if proofErr != nil {
		g.audit.Failure(ctx, audit.EventVerificationFailed, proofErr.Error(),
			slog.String("reason_code", string(reason)))
		if errors.Is(proofErr, ErrVerificationFailed) {
			return proofErr
		}
		return fmt.Errorf("%w: %w", ErrVerificationFailed, proofErr)
	}

	switch reason {
	case ReasonUnlock:
		if err := g.biometricsEnabled(ctx); err != nil {
			g.audit.Failure(ctx, audit.EventVerificationFailed, err.Error(),
				slog.String("reason_code", string(reason)))
			return err
		}
		if err := g.session.UnlockGranted(ctx); err != nil {
			return fmt.Errorf("requesting unlock: %w", err)
		}
	case ReasonResetPassword:
		if err := g.session.ResetAuthorized(ctx); err != nil {
			return fmt.Errorf("authorizing reset: %w", err)
		}
	case ReasonEnroll:
		return g.enroll(ctx, proof)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownReason, reason)
	}
	g.logger.Info("verification succeeded", "reason", reason)
	return nil
}

func (g *Gate) biometricsEnabled(ctx context.Context) error {
	if g.settings == nil {
		return nil
	}
	s, err := g.settings.Settings(ctx)
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}
	if !s.BiometricsEnabled {
		return ErrBiometricsDisabled
	}
	return nil
}

func (g *Gate) enroll(ctx context.Context, proof Proof) error {
	if g.settings == nil {
		return fmt.Errorf("%w: enrollment not available", ErrUnknownReason)
	}
	_, err := g.settings.UpdateSettings(ctx, func(s *lock.Settings) {
		s.BiometricsEnabled = true
		s.CredentialReference = proof.CredentialID
	})
	if err != nil {
		return fmt.Errorf("recording enrollment: %w", err)
	}
	g.audit.Log(ctx, audit.EventBiometricEnrolled, slog.String("credential", proof.CredentialID))
	return nil
}
