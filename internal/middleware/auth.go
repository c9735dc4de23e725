package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyAuth guards the admin surface. Requests must carry the configured
// key in X-API-Key; the server only stores its bcrypt hash. An empty hash
// disables the admin surface entirely.
func APIKeyAuth(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				http.Error(w, "admin API disabled", http.StatusServiceUnavailable)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" {
				http.Error(w, "missing API key", http.StatusUnauthorized)
				return
			}
			if bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) != nil {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
