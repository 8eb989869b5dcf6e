package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKey requires the X-API-Key header on every path except the public ones.
func APIKey(requiredKey string, publicPaths ...string) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(publicPaths))
	for _, path := range publicPaths {
		public[path] = true
	}
	expected := []byte(requiredKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			provided := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
			if provided == "" || len(expected) == 0 || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
				writeError(w, r, http.StatusUnauthorized, "AUTH_INVALID_API_KEY", "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
