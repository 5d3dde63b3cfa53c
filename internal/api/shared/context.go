package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// ContextKey is the type of request context keys set by the API
type ContextKey string

// Context keys for various values
const (
	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// PrincipalKey is the key for the authenticated client name
	PrincipalKey ContextKey = "principal"

	// TraceIDLength is the number of random bytes in a generated trace ID
	TraceIDLength = 16
)

// WithTraceID stores traceID in ctx, generating one when empty
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = generateTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context, or "" if unset
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// WithPrincipal records the authenticated client
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// GetPrincipal returns the authenticated client, or "" for anonymous calls
func GetPrincipal(ctx context.Context) string {
	p, _ := ctx.Value(PrincipalKey).(string)
	return p
}

// generateTraceID returns 32 hex characters, falling back to a random UUID
// if the system entropy source fails
func generateTraceID() string {
	b := make([]byte, TraceIDLength)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(b)
}
