package api

import "net/http"

// jsonOnlyHeaders are sent with every response. Nothing the API returns is
// meant to be rendered, framed or cached.
var jsonOnlyHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
}

// SecurityHeaders sets jsonOnlyHeaders, plus HSTS when the request arrived
// over TLS.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range jsonOnlyHeaders {
			h.Set(kv[0], kv[1])
		}
		if requestIsSecure(r) {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
