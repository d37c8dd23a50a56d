package httpserver

import (
	"context"
	"time"

	"github.com/fetchframe/webextract-api/internal/apperr"
	"github.com/fetchframe/webextract-api/internal/validation"
	"github.com/fetchframe/webextract-api/internal/webhook"
)

// TestWebhookInput is the request body for POST /webhook/test.
type TestWebhookInput struct {
	Body struct {
		WebhookURL    string `json:"webhook_url"`
		WebhookSecret string `json:"webhook_secret,omitempty"`
	}
}

// TestWebhookOutput acknowledges that delivery has been scheduled; the
// dispatcher's own retry ladder runs independently of this response.
type TestWebhookOutput struct {
	Body struct {
		Sent bool `json:"sent"`
	}
}

func (h *handlers) testWebhook(ctx context.Context, input *TestWebhookInput) (*TestWebhookOutput, error) {
	if err := validation.ResolveAndCheckSSRF(input.Body.WebhookURL); err != nil {
		return nil, err
	}
	if _, err := validation.ParseHTTPURL(input.Body.WebhookURL); err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "webhook_url is not a valid http(s) URL", err)
	}

	payload := webhook.Payload{
		JobID:  "test",
		Status: "completed",
		Data:   map[string]interface{}{"message": "this is a test webhook from webextract-api"},
	}

	// Delivery (including its retry ladder) runs detached from the request
	// so a slow or unreachable endpoint cannot hold the HTTP response open.
	go func() {
		deliverCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		h.deps.Webhooks.Send(deliverCtx, input.Body.WebhookURL, input.Body.WebhookSecret, payload)
	}()

	resp := &TestWebhookOutput{}
	resp.Body.Sent = true
	return resp, nil
}
