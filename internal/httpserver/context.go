package httpserver

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const (
	apiKeyIDContextKey    contextKey = "api_key_id"
	apiKeyPlainContextKey contextKey = "api_key_plain"
)

func withAPIKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, apiKeyIDContextKey, id)
}

func apiKeyIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(apiKeyIDContextKey).(string)
	return id
}

func withAPIKeyPlain(ctx context.Context, plain string) context.Context {
	return context.WithValue(ctx, apiKeyPlainContextKey, plain)
}

func apiKeyPlainFrom(ctx context.Context) string {
	plain, _ := ctx.Value(apiKeyPlainContextKey).(string)
	return plain
}

// requestIDFrom returns the id chi's middleware.RequestID stashed in
// context, or "" if that middleware was not applied.
func requestIDFrom(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}
