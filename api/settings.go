package api

import (
	"log/slog"
	"net/http"

	"github.com/jmcleod/pagelock/internal/audit"
)

// GetSettings handles GET /settings.
func (a *API) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.store.Settings(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// PutSettings handles PUT /settings. The body replaces all settings.
func (a *API) PutSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	allowed, err := a.mayConfigure(ctx)
	if err != nil {
		mapError(w, err)
		return
	}
	if !allowed {
		mapError(w, ErrForbidden)
		return
	}

	var body SettingsBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := a.store.PutSettings(ctx, body); err != nil {
		mapError(w, err)
		return
	}
	a.audit.Log(ctx, audit.EventSettingsChanged,
		slog.Bool("enabled", body.Enabled),
		slog.Int("timeout_minutes", body.InactivityTimeoutMinutes),
		slog.Bool("biometrics", body.BiometricsEnabled),
	)
	writeJSON(w, http.StatusOK, body)
}
