package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jmcleod/pagelock/internal/util"
	"github.com/jmcleod/pagelock/storage"
)

const (
	bucket          = "pagelock"
	keySettings     = "settings"
	keyCredential   = "credential"
	keySessionState = "session_state"
)

// Store is the persistent store: settings, the credential hash and the
// last-known SessionState, all in one bucket of a storage.Repository.
type Store struct {
	repo   storage.Repository
	params util.Argon2idParams

	// mu serializes read-modify-write cycles on settings and credential.
	mu sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithArgon2idParams overrides the password hashing cost. Tests use cheap
// parameters; production keeps the defaults.
func WithArgon2idParams(p util.Argon2idParams) StoreOption {
	return func(s *Store) {
		s.params = p
	}
}

// NewStore returns a Store over repo.
func NewStore(repo storage.Repository, opts ...StoreOption) *Store {
	s := &Store{repo: repo, params: util.DefaultArgon2idParams()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Install writes DefaultSettings when no settings exist yet and returns the
// settings now in effect.
func (s *Store) Install(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, found, err := s.loadSettings(ctx)
	if err != nil {
		return Settings{}, err
	}
	if found {
		return settings, nil
	}
	settings = DefaultSettings()
	if err := s.putJSON(ctx, keySettings, settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Settings returns the stored settings, or DefaultSettings if none exist.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	settings, _, err := s.loadSettings(ctx)
	return settings, err
}

// PutSettings validates and replaces the stored settings.
func (s *Store) PutSettings(ctx context.Context, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(ctx, keySettings, settings)
}

// UpdateSettings applies fn to the current settings and stores the result
// if it validates.
func (s *Store) UpdateSettings(ctx context.Context, fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, _, err := s.loadSettings(ctx)
	if err != nil {
		return Settings{}, err
	}
	fn(&settings)
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	if err := s.putJSON(ctx, keySettings, settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *Store) loadSettings(ctx context.Context) (Settings, bool, error) {
	// Decode over the defaults so fields added later keep sane values.
	settings := DefaultSettings()
	found, err := s.getJSON(ctx, keySettings, &settings)
	if err != nil {
		return Settings{}, false, err
	}
	return settings, found, nil
}

// HasCredential reports whether a password has been created.
func (s *Store) HasCredential(ctx context.Context) (bool, error) {
	var h util.PasswordHash
	return s.getJSON(ctx, keyCredential, &h)
}

// VerifyPassword compares password against the stored credential. It
// returns ErrConfigMissing when no password exists yet.
func (s *Store) VerifyPassword(ctx context.Context, password []byte) (bool, error) {
	var h util.PasswordHash
	found, err := s.getJSON(ctx, keyCredential, &h)
	if err != nil {
		return false, err
	}
	if !found {
		return false, ErrConfigMissing
	}
	return h.Matches(password)
}

// SetPassword hashes and stores a new password, replacing any existing one.
func (s *Store) SetPassword(ctx context.Context, password []byte) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	h, err := util.HashPassword(password, s.params)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(ctx, keyCredential, h)
}

// SessionState returns the last persisted session state. A missing record
// reads as locked.
func (s *Store) SessionState(ctx context.Context) (SessionState, error) {
	var st SessionState
	if _, err := s.getJSON(ctx, keySessionState, &st); err != nil {
		return SessionState{}, err
	}
	return st, nil
}

func (s *Store) putSessionState(ctx context.Context, st SessionState) error {
	return s.putJSON(ctx, keySessionState, st)
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.repo.Get(ctx, bucket, key)
	if storage.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := s.repo.Put(ctx, bucket, key, data); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}
