// Package context carries request-scoped identifiers used by logs and spans.
package context

import "context"

type requestIDKey struct{}
type orderIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithOrderID tags the context with the order being taxed.
func WithOrderID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, orderIDKey{}, id)
}

func OrderIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(orderIDKey{}).(string); ok {
		return v
	}
	return ""
}
