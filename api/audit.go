package api

import (
	"net/http"
)

// ListAudit handles GET /audit. The journal can reveal when the user was
// away, so it is readable only when settings could be changed.
func (a *API) ListAudit(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "audit journal not enabled")
		return
	}
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

	entries, err := a.journal.List(ctx)
	if err != nil {
		mapError(w, err)
		return
	}
	limit, offset := parsePagination(r)
	page, meta := paginate(entries, limit, offset)
	writeJSON(w, http.StatusOK, AuditListResponse{Entries: page, Pagination: meta})
}
