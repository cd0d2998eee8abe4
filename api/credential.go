package api

import (
	"log/slog"
	"net/http"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/pagelock/internal/audit"
)

// GetCredential handles GET /credential.
func (a *API) GetCredential(w http.ResponseWriter, r *http.Request) {
	exists, err := a.store.HasCredential(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CredentialStatusResponse{Exists: exists})
}

// VerifyCredential handles POST /credential/verify. A match returns a
// grant for POST /session/unlock. Failures are rate limited per client IP.
func (a *API) VerifyCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := a.clientIP(r)
	if blocked, retryAfter := a.limiter.check(ip); blocked {
		a.audit.Failure(ctx, audit.EventVerifyRateLimited, "locked out", slog.String("ip", ip))
		writeRateLimited(w, retryAfter)
		return
	}

	var req PasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	password := memguard.NewBufferFromBytes([]byte(req.Password))
	defer password.Destroy()

	ok, err := a.store.VerifyPassword(ctx, password.Bytes())
	if err != nil {
		mapError(w, err)
		return
	}
	if !ok {
		a.limiter.recordFailure(ip)
		a.audit.Failure(ctx, audit.EventAuthMismatch, "password mismatch", slog.String("ip", ip))
		writeJSON(w, http.StatusOK, VerifyCredentialResponse{Match: false})
		return
	}
	a.limiter.recordSuccess(ip)

	grant, err := a.grants.issue()
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyCredentialResponse{Match: true, Grant: grant})
}

// PutCredential handles PUT /credential. The first password may be set
// freely. Replacing one needs a verified reset from POST /verify/finish.
// A change made while unlocked locks the session; otherwise the response
// carries a grant for the "save and unlock" step.
func (a *API) PutCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exists, err := a.store.HasCredential(ctx)
	if err != nil {
		mapError(w, err)
		return
	}
	if exists && !a.resets.active() {
		a.logger.Warn("password change without verified reset", "ip", a.clientIP(r))
		mapError(w, ErrResetRequired)
		return
	}

	var req PasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	password := memguard.NewBufferFromBytes([]byte(req.Password))
	defer password.Destroy()

	unlocked, err := a.authority.QueryLockStatus(ctx)
	if err != nil {
		mapError(w, err)
		return
	}
	if err := a.store.SetPassword(ctx, password.Bytes()); err != nil {
		mapError(w, err)
		return
	}
	a.resets.close()
	a.audit.Log(ctx, audit.EventPasswordSet, slog.String("ip", a.clientIP(r)), slog.Bool("first_run", !exists))

	if unlocked {
		if err := a.authority.LockRequested(ctx); err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, PutCredentialResponse{})
		return
	}

	grant, err := a.grants.issue()
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PutCredentialResponse{Grant: grant})
}
