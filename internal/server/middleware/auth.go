package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ServiceKeyHeader is the header internal callers may use instead of a
// Bearer token.
const ServiceKeyHeader = "X-Service-Key"

// Auth returns middleware that requires the service key, given either as a
// Bearer token or in the X-Service-Key header. If serviceKey is empty every
// request passes.
func Auth(serviceKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if serviceKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing service key")
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(serviceKey)) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "invalid service key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the service key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(ServiceKeyHeader))
}

// writeJSONError sends a JSON error body with the given status.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
