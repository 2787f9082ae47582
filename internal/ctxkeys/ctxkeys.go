// Package ctxkeys defines the well-known context keys threaded through a
// request's lifetime: the trace id assigned at ingress, and the model and
// provider resolved once provider selection has happened.
package ctxkeys

import "context"

type contextKey string

const (
	traceIDKey    contextKey = "trace_id"
	modelNameKey  contextKey = "model_name"
	providerIDKey contextKey = "provider_id"
)

// WithTraceID attaches a trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID reads the trace id attached by WithTraceID.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithModelName attaches the resolved model name to ctx.
func WithModelName(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, modelNameKey, model)
}

// ModelName reads the model name attached by WithModelName.
func ModelName(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(modelNameKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithProviderID attaches the selected provider's id to ctx, once chosen.
func WithProviderID(ctx context.Context, providerID string) context.Context {
	return context.WithValue(ctx, providerIDKey, providerID)
}

// ProviderID reads the provider id attached by WithProviderID.
func ProviderID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(providerIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
