package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/pagelock/internal/audit"
	"github.com/jmcleod/pagelock/verify"
)

// BeginVerification handles POST /verify/begin?reason=. It returns the
// credential creation options for navigator.credentials.create.
func (a *API) BeginVerification(w http.ResponseWriter, r *http.Request) {
	if a.ceremonies == nil {
		mapError(w, ErrNotConfigured)
		return
	}
	reason, err := verify.ParseReason(r.URL.Query().Get("reason"))
	if err != nil {
		mapError(w, err)
		return
	}
	switch reason {
	case verify.ReasonEnroll:
		allowed, err := a.mayConfigure(r.Context())
		if err != nil {
			mapError(w, err)
			return
		}
		if !allowed {
			mapError(w, ErrForbidden)
			return
		}
	case verify.ReasonUnlock:
		settings, err := a.store.Settings(r.Context())
		if err != nil {
			mapError(w, err)
			return
		}
		if !settings.BiometricsEnabled {
			mapError(w, verify.ErrBiometricsDisabled)
			return
		}
	}

	req, err := a.ceremonies.Begin(reason)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req.Options)
}

// FinishVerification handles POST /verify/finish with the browser's
// credential creation response.
func (a *API) FinishVerification(w http.ResponseWriter, r *http.Request) {
	if a.ceremonies == nil {
		mapError(w, ErrNotConfigured)
		return
	}
	ctx := r.Context()
	ip := a.clientIP(r)
	if blocked, retryAfter := a.limiter.check(ip); blocked {
		a.audit.Failure(ctx, audit.EventVerifyRateLimited, "locked out", slog.String("ip", ip))
		writeRateLimited(w, retryAfter)
		return
	}

	attempt, err := a.ceremonies.Claim(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		if errors.Is(err, verify.ErrVerificationFailed) {
			a.limiter.recordFailure(ip)
			a.audit.Failure(ctx, audit.EventVerificationFailed, err.Error(), slog.String("ip", ip))
		}
		mapError(w, err)
		return
	}

	if err := a.gate.Verify(ctx, attempt.Reason, attempt); err != nil {
		if errors.Is(err, verify.ErrVerificationFailed) {
			a.limiter.recordFailure(ip)
		}
		mapError(w, err)
		return
	}
	a.limiter.recordSuccess(ip)
	if attempt.Reason == verify.ReasonResetPassword {
		a.resets.open()
	}
	writeJSON(w, http.StatusOK, FinishVerificationResponse{Success: true, Reason: string(attempt.Reason)})
}
