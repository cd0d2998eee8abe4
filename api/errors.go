package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/pagelock/lock"
	"github.com/jmcleod/pagelock/storage"
	"github.com/jmcleod/pagelock/verify"
)

var (
	// ErrForbidden is returned when the current lock state does not allow
	// the request, such as replacing the password while locked.
	ErrForbidden = errors.New("not allowed while locked")
	// ErrGrantRequired is returned when an unlock arrives without a valid
	// grant from a password check.
	ErrGrantRequired = errors.New("unlock requires a valid grant")
	// ErrRateLimited is returned after too many failed checks.
	ErrRateLimited = errors.New("too many failed attempts")
	// ErrUnauthorized is returned when the shared token is missing or wrong.
	ErrUnauthorized = errors.New("missing or invalid token")
	// ErrNotConfigured is returned when platform verification is disabled.
	ErrNotConfigured = errors.New("platform verification not configured")
	// ErrResetRequired is returned when an existing password is replaced,
	// or a reset announced, without a recent verified reset.
	ErrResetRequired = errors.New("requires a verified password reset")
)

// Error codes carried in ErrorResponse.Code so a Client can map a failure
// back to its sentinel.
const (
	codeConfigMissing      = "config_missing"
	codeInvalidSettings    = "invalid_settings"
	codeWeakPassword       = "weak_password"
	codeNoResponse         = "no_response"
	codeVerificationFailed = "verification_failed"
	codeUnknownCeremony    = "unknown_ceremony"
	codeUnknownReason      = "unknown_reason"
	codeForbidden          = "forbidden"
	codeGrantRequired      = "grant_required"
	codeResetRequired      = "reset_required"
	codeBiometricsDisabled = "biometrics_disabled"
	codeRateLimited        = "rate_limited"
	codeUnauthorized       = "unauthorized"
	codeNotConfigured      = "not_configured"
	codeNotFound           = "not_found"
	codeBadRequest         = "bad_request"
	codeInternal           = "internal"
)

var codeErrors = map[string]error{
	codeConfigMissing:      lock.ErrConfigMissing,
	codeInvalidSettings:    lock.ErrInvalidSettings,
	codeWeakPassword:       lock.ErrWeakPassword,
	codeNoResponse:         lock.ErrNoResponse,
	codeVerificationFailed: verify.ErrVerificationFailed,
	codeUnknownCeremony:    verify.ErrUnknownCeremony,
	codeUnknownReason:      verify.ErrUnknownReason,
	codeForbidden:          ErrForbidden,
	codeGrantRequired:      ErrGrantRequired,
	codeResetRequired:      ErrResetRequired,
	codeBiometricsDisabled: verify.ErrBiometricsDisabled,
	codeRateLimited:        ErrRateLimited,
	codeUnauthorized:       ErrUnauthorized,
	codeNotConfigured:      ErrNotConfigured,
	codeNotFound:           storage.ErrNotFound,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lock.ErrConfigMissing):
		writeError(w, http.StatusConflict, codeConfigMissing, err.Error())
	case errors.Is(err, lock.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, codeInvalidSettings, err.Error())
	case errors.Is(err, lock.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, codeWeakPassword, err.Error())
	case errors.Is(err, lock.ErrNoResponse):
		writeError(w, http.StatusServiceUnavailable, codeNoResponse, "session authority unavailable")
	case errors.Is(err, verify.ErrVerificationFailed):
		writeError(w, http.StatusUnauthorized, codeVerificationFailed, "verification failed")
	case errors.Is(err, verify.ErrUnknownCeremony):
		writeError(w, http.StatusBadRequest, codeUnknownCeremony, err.Error())
	case errors.Is(err, verify.ErrUnknownReason):
		writeError(w, http.StatusBadRequest, codeUnknownReason, err.Error())
	case errors.Is(err, verify.ErrTooManyCeremonies), errors.Is(err, ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, codeRateLimited, err.Error())
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, err.Error())
	case errors.Is(err, ErrGrantRequired):
		writeError(w, http.StatusForbidden, codeGrantRequired, err.Error())
	case errors.Is(err, ErrResetRequired):
		writeError(w, http.StatusForbidden, codeResetRequired, err.Error())
	case errors.Is(err, verify.ErrBiometricsDisabled):
		writeError(w, http.StatusForbidden, codeBiometricsDisabled, err.Error())
	case errors.Is(err, ErrNotConfigured):
		writeError(w, http.StatusNotFound, codeNotConfigured, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
