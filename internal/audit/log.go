// Package audit records privileged actions as structured log lines.
package audit

import (
	"context"
	"errors"
	"maps"
	"strings"

	"zashboard.app/internal/auth"
	"zashboard.app/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	logger := obs.Logger("audit")
	entry := logger.Info().Str("type", "audit").Str("event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry = entry.Str("request_id", rid)
	}
	if userID := auth.UserIDFromContext(ctx); userID != "" {
		entry = entry.Str("user_id", userID)
	}
	copied := maps.Clone(fields)
	if copied == nil {
		copied = map[string]any{}
	}
	entry.Interface("fields", copied).Msg(event)
	return nil
}
