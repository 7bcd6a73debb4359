package common

import (
	"context"
	"time"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID  contextKey = "request_id"
	ContextKeyMessageUID contextKey = "message_uid"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithMessageUID tags the context with the IMAP UID being processed.
func WithMessageUID(ctx context.Context, uid uint32) context.Context {
	return context.WithValue(ctx, ContextKeyMessageUID, uid)
}

// MessageUIDFromContext extracts the IMAP UID from context, 0 if absent.
func MessageUIDFromContext(ctx context.Context) uint32 {
	if uid, ok := ctx.Value(ContextKeyMessageUID).(uint32); ok {
		return uid
	}
	return 0
}

// WithTimeout creates a context with the specified timeout; d <= 0 only adds cancellation.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
