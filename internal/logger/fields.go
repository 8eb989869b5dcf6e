package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

type Fields map[string]any

const (
	FieldRequestID  = "request_id"
	FieldJobID      = "job_id"
	FieldJobKind    = "job_kind"
	FieldComponent  = "component"
	FieldSessionKey = "session_key"
	FieldDurationMs = "duration_ms"
	FieldStatus     = "status"
	FieldCount      = "count"
)

type ctxKey struct{}

func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or a standard logger so
// callers never need a nil check.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*Logger); ok && l != nil {
			return l
		}
	}
	return &Logger{Entry: logrus.NewEntry(logrus.StandardLogger())}
}
