package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireBearer guards the internal API with a shared-secret bearer
// token. The comparison is constant-time. An empty configured secret
// rejects every request rather than failing open.
func RequireBearer(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token := bearerToken(r)
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	// WebSocket clients cannot set headers from the browser; allow the
	// token as a query parameter for the event stream.
	return r.URL.Query().Get("token")
}
