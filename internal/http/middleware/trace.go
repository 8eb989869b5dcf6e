package middleware

import (
	"net/http"
	"time"

	"github.com/iago/section-writer-back/internal/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Trace attaches a request-scoped logger to the context and logs one line
// per request.
func Trace(log *logger.Logger) func(http.Handler) http.Handler {
	log = logger.OrDiscard(log).WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestLog := log.WithRequestID(GetRequestID(r.Context()))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r.WithContext(logger.WithContext(r.Context(), requestLog)))

			entry := requestLog.WithFields(logger.Fields{
				"method":               r.Method,
				"path":                 r.URL.Path,
				logger.FieldStatus:     recorder.status,
				logger.FieldDurationMs: time.Since(start).Milliseconds(),
			})
			if recorder.status >= http.StatusInternalServerError {
				entry.Warn("request served")
				return
			}
			entry.Info("request served")
		})
	}
}
