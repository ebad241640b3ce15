package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// health endpoints never require a key
var openPaths = map[string]bool{
	"/health": true,
	"/ready":  true,
	"/live":   true,
}

// APIKeyAuth validates the API key from the Authorization header. An empty key disables the check.
func APIKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if openPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				WriteError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			// Support both "Bearer <key>" and "<key>" formats
			apiKey := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if apiKey == "" {
				WriteError(w, http.StatusUnauthorized, "invalid Authorization header format")
				return
			}

			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) != 1 {
				WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
