package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken checks the shared token when one is configured. With
// allowQuery the token may also arrive as ?token=, for websocket handshakes.
func (a *API) requireToken(allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok && allowQuery {
				got, ok = r.URL.Query().Get("token"), true
			}
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="pagelock"`)
				mapError(w, ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
