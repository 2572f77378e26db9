// Package context carries request-scoped values shared between the transport
// layer and the logger.
package context

import "context"

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID stores the request id on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request id, or "" when none was set.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
