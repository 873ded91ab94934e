// Package requestcontext provides HTTP-independent accessors for
// request-scoped values. Middleware sets them; services read them without
// importing net/http.
package requestcontext

import (
	"context"
	"time"
)

type (
	pubkeyKey      struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need raw context.WithValue.
var (
	ContextKeyPubkey      = pubkeyKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// Pubkey retrieves the authenticated public key from the context. Empty when
// the request carried no valid signed assertion.
func Pubkey(ctx context.Context) string {
	if pk, ok := ctx.Value(ContextKeyPubkey).(string); ok {
		return pk
	}
	return ""
}

// WithPubkey injects an authenticated public key into the context.
func WithPubkey(ctx context.Context, pubkey string) context.Context {
	return context.WithValue(ctx, ContextKeyPubkey, pubkey)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time, falling back to time.Now for
// non-HTTP contexts such as tests and CLI commands.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a fixed time into a context. Used by the request-time
// middleware and by service unit tests that need deterministic timestamps.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
