package api

import (
	"context"
	"encoding/json"
	"net/http"
)

const maxBodySize = 64 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// mayConfigure reports whether settings may be changed and the journal
// read: on first run, or while the session is unlocked.
func (a *API) mayConfigure(ctx context.Context) (bool, error) {
	exists, err := a.store.HasCredential(ctx)
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}
	return a.authority.QueryLockStatus(ctx)
}

// GetSession handles GET /session. An expired session is locked before the
// answer is given.
func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	unlocked, err := a.authority.QueryLockStatus(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{IsUnlocked: unlocked})
}

// Unlock handles POST /session/unlock. The body must carry a grant issued
// by a successful password check or password change.
func (a *API) Unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !a.grants.redeem(req.Grant) {
		a.logger.Warn("unlock without valid grant", "ip", a.clientIP(r))
		mapError(w, ErrGrantRequired)
		return
	}
	if err := a.authority.UnlockGranted(r.Context()); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Lock handles POST /session/lock.
func (a *API) Lock(w http.ResponseWriter, r *http.Request) {
	if err := a.authority.LockRequested(r.Context()); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Reset handles POST /session/reset. It re-announces a reset only while a
// verified reset window from POST /verify/finish is open.
func (a *API) Reset(w http.ResponseWriter, r *http.Request) {
	if !a.resets.active() {
		mapError(w, ErrResetRequired)
		return
	}
	if err := a.authority.ResetAuthorized(r.Context()); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Heartbeat handles POST /session/heartbeat.
func (a *API) Heartbeat(w http.ResponseWriter, r *http.Request) {
	a.authority.Heartbeat(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
