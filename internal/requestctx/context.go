// Package requestctx provides request-scoped values (e.g. brand key,
// correlation id) set by middleware.
package requestctx

import "context"

type contextKey int

const (
	brandKeyKey contextKey = iota
	correlationIDKey
)

// SetBrandKey stores the brand key in the context.
func SetBrandKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, brandKeyKey, key)
}

// BrandKey returns the brand key from context, or "" if not set.
func BrandKey(ctx context.Context) string {
	v, _ := ctx.Value(brandKeyKey).(string)
	return v
}

// SetCorrelationID stores the per-request correlation id in the context.
func SetCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation id from context, or "" if not set.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}
