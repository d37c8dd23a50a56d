package httpserver

import (
	"context"

	"github.com/fetchframe/webextract-api/internal/config"
)

// HealthInput is the empty request for GET /health.
type HealthInput struct{}

// HealthOutput is the liveness response body.
type HealthOutput struct {
	Body struct {
		OK        bool   `json:"ok"`
		Service   string `json:"service"`
		RequestID string `json:"requestId"`
	}
}

func newHealthHandler(cfg *config.Config) func(context.Context, *HealthInput) (*HealthOutput, error) {
	return func(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
		resp := &HealthOutput{}
		resp.Body.OK = true
		resp.Body.Service = "webextract-api"
		resp.Body.RequestID = requestIDFrom(ctx)
		return resp, nil
	}
}
