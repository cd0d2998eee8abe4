package lock

import (
	"fmt"
	"time"
)

// DefaultInactivityTimeoutMinutes applies when no timeout has been configured.
const DefaultInactivityTimeoutMinutes = 15

// Settings are the user-configurable policy values. They persist until a
// configuration flow changes them.
type Settings struct {
	Enabled                  bool   `json:"enabled"`
	InactivityTimeoutMinutes int    `json:"inactivityTimeoutMinutes"`
	BiometricsEnabled        bool   `json:"biometricsEnabled"`
	CredentialReference      string `json:"credentialReference,omitempty"`
}

// DefaultSettings returns the settings written on first install.
func DefaultSettings() Settings {
	return Settings{
		Enabled:                  true,
		InactivityTimeoutMinutes: DefaultInactivityTimeoutMinutes,
	}
}

// InactivityTimeout returns the configured timeout, falling back to the
// default when the stored value is unusable.
func (s Settings) InactivityTimeout() time.Duration {
	m := s.InactivityTimeoutMinutes
	if m <= 0 {
		m = DefaultInactivityTimeoutMinutes
	}
	return time.Duration(m) * time.Minute
}

// Validate checks the invariants a configuration flow must respect.
func (s Settings) Validate() error {
	if s.InactivityTimeoutMinutes <= 0 {
		return fmt.Errorf("%w: inactivity timeout must be positive, got %d", ErrInvalidSettings, s.InactivityTimeoutMinutes)
	}
	return nil
}
