// Package ctxutil provides shared context key accessors.
//
// The HTTP middleware, both MCP transports and the dispatcher all read or
// write these values. Keeping the keys here lets them share a context without
// importing each other.
package ctxutil

import (
	"context"

	"github.com/ashita-ai/kouba/internal/model"
)

type contextKey string

const (
	keyRequestID  contextKey = "request_id"
	keyCredential contextKey = "credential"
	keyAuth       contextKey = "auth"
)

// WithRequestID returns a new context carrying the given request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request id, or "" if none was set.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithCredential returns a new context carrying the caller's raw credential.
// The credential travels beside the call, never inside its arguments.
func WithCredential(ctx context.Context, raw string) context.Context {
	return context.WithValue(ctx, keyCredential, raw)
}

// CredentialFromContext extracts the raw credential, or "".
func CredentialFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyCredential).(string); ok {
		return v
	}
	return ""
}

// WithAuth returns a new context carrying the validated caller.
func WithAuth(ctx context.Context, ac *model.AuthContext) context.Context {
	return context.WithValue(ctx, keyAuth, ac)
}

// AuthFromContext extracts the validated caller, or nil before validation.
func AuthFromContext(ctx context.Context) *model.AuthContext {
	if v, ok := ctx.Value(keyAuth).(*model.AuthContext); ok {
		return v
	}
	return nil
}
