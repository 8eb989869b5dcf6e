package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/iago/section-writer-back/internal/domain"
)

const healthCheckTimeout = 2 * time.Second

// Health reports liveness plus the state of every configured dependency.
func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(api.checks))
	healthy := true
	for _, check := range api.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.Check(ctx)
		cancel()
		if err != nil {
			healthy = false
			checks[check.Name] = err.Error()
			continue
		}
		checks[check.Name] = statusOK
	}

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, envelope{Status: statusError, Message: "Degraded", Data: map[string]any{"checks": checks}})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: statusOK, Message: "Healthy", Data: map[string]any{"checks": checks}})
}

// NotFound answers every unrouted path with the error envelope.
func (api *API) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, domain.ErrCodeNotFound, "Not found")
}

// MethodNotAllowed answers a routed path hit with the wrong method.
func (api *API) MethodNotAllowed(allowed ...string) http.HandlerFunc {
	allow := strings.Join(allowed, ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		writeError(w, r, http.StatusMethodNotAllowed, domain.ErrCodeMethodNotAllowed, "Method not allowed")
	}
}
