package lock

import "errors"

var (
	// ErrConfigMissing indicates no password has been created yet. It is
	// resolved by the first-run flow, not treated as a failure state.
	ErrConfigMissing = errors.New("no credential configured")
	// ErrInvalidSettings indicates settings failed validation.
	ErrInvalidSettings = errors.New("invalid settings")
	// ErrWeakPassword indicates a new password failed the minimum checks.
	ErrWeakPassword = errors.New("password too weak")
	// ErrNoResponse indicates a request to the Session Authority was never
	// answered. Callers must not assume the request took effect.
	ErrNoResponse = errors.New("session authority did not respond")
	// ErrAlreadyRunning indicates Run was called twice.
	ErrAlreadyRunning = errors.New("session authority already running")
)
