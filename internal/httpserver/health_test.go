package httpserver

import (
	"context"
	"testing"

	"github.com/fetchframe/webextract-api/internal/config"
)

func TestHealthHandlerReportsOK(t *testing.T) {
	handler := newHealthHandler(&config.Config{})
	out, err := handler(context.Background(), &HealthInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Body.OK {
		t.Error("expected OK=true")
	}
	if out.Body.Service != "webextract-api" {
		t.Errorf("Service = %q, want webextract-api", out.Body.Service)
	}
}
