package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/section-writer-back/internal/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeEnvelope(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload
}

func TestAPIKey(t *testing.T) {
	handler := APIKey("secret", "/healthz")(okHandler())

	tests := []struct {
		name   string
		path   string
		key    string
		status int
	}{
		{name: "valid key", path: "/generate", key: "secret", status: http.StatusOK},
		{name: "wrong key", path: "/generate", key: "nope", status: http.StatusUnauthorized},
		{name: "missing key", path: "/status/abc", status: http.StatusUnauthorized},
		{name: "public path", path: "/healthz", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				request.Header.Set(HeaderAPIKey, tt.key)
			}
			recorder := httptest.NewRecorder()

			handler.ServeHTTP(recorder, request)

			assert.Equal(t, tt.status, recorder.Code)
			if tt.status != http.StatusUnauthorized {
				return
			}
			payload := decodeEnvelope(t, recorder.Body.Bytes())
			assert.Equal(t, "error", payload["status"])
			assert.Equal(t, "Invalid API key", payload["message"])
			data := payload["data"].(map[string]any)
			assert.Equal(t, "AUTH_INVALID_API_KEY", data["error_code"])
			assert.Equal(t, tt.path, data["path"])
		})
	}
}

func TestAPIKeyRejectsEverythingWhenUnconfigured(t *testing.T) {
	handler := APIKey("")(okHandler())
	request := httptest.NewRequest(http.MethodPost, "/generate", nil)
	request.Header.Set(HeaderAPIKey, "")
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestRequestIDGeneratesAndPropagates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "unknown", seen)
	assert.Equal(t, seen, recorder.Header().Get(HeaderRequestID))

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(HeaderRequestID, "req-42")
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, "req-42", seen)
}

func TestRateLimitWritesEnvelope(t *testing.T) {
	handler := RateLimit(1, 1)(okHandler())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/status/x", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/status/x", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	data := decodeEnvelope(t, second.Body.Bytes())["data"].(map[string]any)
	assert.Equal(t, "RATE_LIMITED", data["error_code"])
}

func TestRateLimitSweepsIdleClients(t *testing.T) {
	limiters := newClientLimiters(1, 1)
	now := time.Now()
	limiters.now = func() time.Time { return now }

	assert.True(t, limiters.allow("10.0.0.1"))
	assert.False(t, limiters.allow("10.0.0.1"))
	assert.True(t, limiters.allow("10.0.0.2"))
	assert.Equal(t, 2, limiters.size())

	now = now.Add(limiterIdleTTL + time.Second)
	assert.True(t, limiters.allow("10.0.0.3"))
	assert.Equal(t, 1, limiters.size())
}

func TestRequestIDRejectsMalformedHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(HeaderRequestID, "bad id\nInjected: yes")
	handler.ServeHTTP(httptest.NewRecorder(), request)

	assert.NotContains(t, seen, " ")
	assert.Len(t, seen, 36)
}

func TestTraceLogsStatusAndInjectsLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Output: &buf, Format: "json", Level: "info"})

	var fromCtx *logger.Logger
	handler := RequestID(Trace(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = logger.FromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})))

	request := httptest.NewRequest(http.MethodPost, "/generate", nil)
	request.Header.Set(HeaderRequestID, "trace-1")
	handler.ServeHTTP(httptest.NewRecorder(), request)

	require.NotNil(t, fromCtx)
	assert.Equal(t, "trace-1", fromCtx.Data[logger.FieldRequestID])

	line := decodeEnvelope(t, buf.Bytes())
	assert.Equal(t, "request served", line["message"])
	assert.EqualValues(t, http.StatusAccepted, line[logger.FieldStatus])
	assert.Equal(t, "/generate", line["path"])
}
