package middleware

import (
	"encoding/json"
	"net/http"
)

const (
	HeaderAPIKey         = "X-API-Key"
	HeaderSessionID      = "Session-Id"
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderRequestID      = "X-Request-Id"
)

// writeError renders the error envelope shared with the handlers package.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "error",
		"message": message,
		"data": map[string]any{
			"error_code": code,
			"path":       r.URL.Path,
		},
	})
}
