// Package webhook signs and delivers job-lifecycle callbacks with a bounded
// retry ladder, dead-lettering deliveries that exhaust it.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/fetchframe/webextract-api/internal/crypto"
	"github.com/fetchframe/webextract-api/internal/models"
	"github.com/fetchframe/webextract-api/internal/repository"
	"github.com/fetchframe/webextract-api/internal/validation"
)

// Payload is the JSON body sent to a job's webhook URL.
type Payload struct {
	JobID      string                 `json:"jobId"`
	Status     string                 `json:"status"`
	ResultPath string                 `json:"resultPath,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// backoffLadder is the literal retry schedule: up to five retries growing
// 1, 2, 4, 8, 16 seconds.
var backoffLadder = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// DeliveryTimeout bounds each individual delivery attempt.
const DeliveryTimeout = 30 * time.Second

// Dispatcher delivers signed webhook payloads with the retry ladder above
// and persists exhausted deliveries to the dead-letter table.
type Dispatcher struct {
	httpClient    *http.Client
	deadletter    repository.WebhookDeadLetterRepository
	limiter       *rate.Limiter
	defaultSecret string
	logger        *slog.Logger
	checkSSRF     func(string) error
}

// NewDispatcher builds a Dispatcher. Its one limiter caps delivery attempts
// at 20 per second (burst 20) across every target it sends to. Targets must
// use https and pass the SSRF guard; any other target is dead-lettered.
func NewDispatcher(deadletter repository.WebhookDeadLetterRepository, defaultSecret string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		httpClient:    &http.Client{Timeout: DeliveryTimeout},
		deadletter:    deadletter,
		limiter:       rate.NewLimiter(rate.Limit(20), 20),
		defaultSecret: defaultSecret,
		logger:        logger,
		checkSSRF: func(target string) error {
			if u, err := validation.ParseHTTPURL(target); err == nil && u.Scheme != "https" {
				return fmt.Errorf("webhook url must use https")
			}
			return validation.ResolveAndCheckSSRF(target)
		},
	}
}

// Send delivers payload to targetURL, signing it with secret (the
// dispatcher's default when secret is empty), retrying 5xx and network
// errors on the backoff ladder, and treating 4xx as a terminal client
// error. It never returns an error: webhook failures must not revert a
// job's terminal state, only land in the dead-letter table.
func (d *Dispatcher) Send(ctx context.Context, targetURL, secret string, payload Payload) {
	if secret == "" {
		secret = d.defaultSecret
	}
	body, err := json.Marshal(payload)
	if err != nil {
		if d.logger != nil {
			d.logger.Error("webhook: encode payload", "job_id", payload.JobID, "error", err)
		}
		return
	}

	if err := d.checkSSRF(targetURL); err != nil {
		d.persistDeadLetter(ctx, payload, targetURL, body, 0, fmt.Sprintf("ssrf guard: %v", err))
		return
	}

	attempts := 0
	for {
		attempts++
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}

		status, deliverErr := d.deliver(ctx, targetURL, secret, payload.Status, body)
		if deliverErr == nil && status >= 200 && status < 400 {
			return
		}

		lastErr := ""
		if deliverErr != nil {
			lastErr = deliverErr.Error()
		} else {
			lastErr = fmt.Sprintf("unexpected status %d", status)
		}

		if deliverErr == nil && status >= 400 && status < 500 {
			d.persistDeadLetter(ctx, payload, targetURL, body, attempts, lastErr)
			return
		}
		if attempts > len(backoffLadder) {
			d.persistDeadLetter(ctx, payload, targetURL, body, attempts, lastErr)
			return
		}

		select {
		case <-time.After(backoffLadder[attempts-1]):
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, targetURL, secret, status string, body []byte) (int, error) {
	sig := crypto.Sign([]byte(secret), body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-robot-signature-256", sig)
	req.Header.Set("x-robot-event", "job."+status)
	req.Header.Set("x-robot-timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, nil
}

func (d *Dispatcher) persistDeadLetter(ctx context.Context, payload Payload, targetURL string, body []byte, attempts int, lastErr string) {
	dl := &models.WebhookDeadLetter{
		ID:          ulid.Make().String(),
		JobID:       payload.JobID,
		URL:         targetURL,
		EventType:   "job." + payload.Status,
		PayloadJSON: string(body),
		Attempts:    attempts,
		LastError:   lastErr,
		CreatedAt:   time.Now().UTC(),
	}
	if err := d.deadletter.Create(ctx, dl); err != nil && d.logger != nil {
		d.logger.Error("webhook: failed to persist dead letter", "job_id", payload.JobID, "error", err)
	}
}

// VerifyIncoming checks the signature header on an inbound "test webhook"
// request: the hex string must be exactly 64 characters (a SHA-256 HMAC)
// and compared in constant time.
func VerifyIncoming(secret string, body []byte, signatureHeader string) bool {
	if len(signatureHeader) != 64 {
		return false
	}
	return crypto.Verify([]byte(secret), body, signatureHeader)
}
