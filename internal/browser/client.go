// Package browser adapts the queue worker and synchronous extract path to
// an opaque browser-rendering service reached over a signed HTTP envelope,
// and distills the HTML it returns into the structured text form the LLM
// adapter consumes.
package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout is used when the caller supplies no per-request timeout.
const DefaultTimeout = 15 * time.Second

// Options carries the per-request rendering parameters validated at the
// HTTP boundary (see internal/validation).
type Options struct {
	WaitUntil  string
	TimeoutMs  int
	Screenshot bool
}

// Result is the distilled scrape produced for one URL.
type Result struct {
	Content        string
	Title          string
	Description    string
	Blocked        bool
	Screenshot     []byte
	ScreenshotType string
}

type renderRequest struct {
	URL        string `json:"url"`
	WaitUntil  string `json:"waitUntil"`
	TimeoutMs  int    `json:"timeoutMs"`
	Screenshot bool   `json:"screenshot"`
	JobID      string `json:"jobId,omitempty"`
}

type renderResponse struct {
	HTML           string `json:"html"`
	Screenshot     string `json:"screenshot,omitempty"` // base64
	ScreenshotType string `json:"screenshotType,omitempty"`
}

// Client talks to the render service over a signed request/response
// envelope, grounded on the dead-lettered captcha-solving client's request
// signing idiom.
type Client struct {
	baseURL         string
	secret          string
	httpClient      *http.Client
	maxContentChars int
	logger          *slog.Logger
}

// NewClient builds a Client. timeout bounds the HTTP round trip itself;
// per-request navigation timeout is carried in Options and enforced by the
// render service.
func NewClient(baseURL, secret string, timeout time.Duration, maxContentChars int, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxContentChars <= 0 {
		maxContentChars = DefaultMaxContentChars
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		secret:          secret,
		httpClient:      &http.Client{Timeout: timeout},
		maxContentChars: maxContentChars,
		logger:          logger,
	}
}

// Render fetches targetURL through the render service and returns its
// distilled ScrapeResult. Image, media, and font subresources are excluded
// by the render service itself per the adapter contract; this client only
// shapes the request and distills the response.
func (c *Client) Render(ctx context.Context, jobID, targetURL string, opts Options) (*Result, error) {
	if opts.TimeoutMs <= 0 {
		opts.TimeoutMs = 15000
	}
	reqBody, err := json.Marshal(renderRequest{
		URL:        targetURL,
		WaitUntil:  opts.WaitUntil,
		TimeoutMs:  opts.TimeoutMs,
		Screenshot: opts.Screenshot,
		JobID:      jobID,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: encode request: %w", err)
	}

	sig := signRequest(c.secret, jobID, reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("browser: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Render-Signature", sig.Signature)
	req.Header.Set("X-Render-Timestamp", sig.Timestamp)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browser: render service unavailable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("browser: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("browser: render service returned %d: %s", resp.StatusCode, truncate(string(payload), 300))
	}

	var rr renderResponse
	if err := json.Unmarshal(payload, &rr); err != nil {
		return nil, fmt.Errorf("browser: decode response: %w", err)
	}

	result := Distill(rr.HTML, targetURL, c.maxContentChars)
	if rr.Screenshot != "" {
		if data, decErr := base64.StdEncoding.DecodeString(rr.Screenshot); decErr == nil {
			result.Screenshot = data
			result.ScreenshotType = rr.ScreenshotType
		} else if c.logger != nil {
			c.logger.Warn("browser: failed to decode screenshot payload", "error", decErr)
		}
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
