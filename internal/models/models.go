// Package models defines the domain entities persisted to the tabular
// store and exchanged over the HTTP surface.
package models

import "time"

// APIKey is a caller's credential and credit ledger. Authenticated by the
// SHA-256 hash of the plaintext key; the plaintext itself is never stored.
type APIKey struct {
	ID               string     `json:"id"`
	Owner            string     `json:"owner"`
	KeyHash          string     `json:"-"`
	KeyPrefix        string     `json:"key_prefix"`
	RemainingCredits int        `json:"remaining_credits"`
	IsActive         bool       `json:"is_active"`
	Tier             string     `json:"tier"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// JobStatus is a job's position in its queued -> processing ->
// (completed|failed|blocked) lifecycle.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusBlocked    JobStatus = "blocked"
)

// Terminal reports whether s is one of the job's final states.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusBlocked:
		return true
	default:
		return false
	}
}

// Job is a single extraction request, synchronous or queued.
type Job struct {
	ID              string     `json:"id"`
	OwnerKeyID      string     `json:"owner_key_id,omitempty"`
	Status          JobStatus  `json:"status"`
	URL             string     `json:"url"`
	FieldsJSON      string     `json:"-"` // JSON array of requested fields
	SchemaJSON      string     `json:"-"` // JSON schema, optional alternative to FieldsJSON
	Instructions    string     `json:"instructions,omitempty"`
	OptionsJSON     string     `json:"-"` // ExtractOptions as JSON
	WebhookURL      string     `json:"webhook_url,omitempty"`
	WebhookSecret   string     `json:"-"`
	ResultPath      string     `json:"result_path,omitempty"` // blob key, set iff status == completed
	TokenUsage      int        `json:"token_usage"`
	LatencyMs       int        `json:"latency_ms"`
	Blocked         bool       `json:"blocked"`
	ErrorMsg        string     `json:"error_msg,omitempty"`
	IdempotencyKey  string     `json:"-"`
	BatchID         string     `json:"batch_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Schedule is a recurring extraction dispatched by the cron scheduler.
type Schedule struct {
	ID            string     `json:"id"`
	OwnerKeyID    string     `json:"owner_key_id,omitempty"`
	CronExpr      string     `json:"cron_expr"`
	URL           string     `json:"url"`
	FieldsJSON    string     `json:"-"`
	SchemaJSON    string     `json:"-"`
	Instructions  string     `json:"instructions,omitempty"`
	OptionsJSON   string     `json:"-"`
	WebhookURL    string     `json:"webhook_url,omitempty"`
	WebhookSecret string     `json:"-"`
	IsActive      bool       `json:"is_active"`
	NextRunAt     time.Time  `json:"next_run_at"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CacheEntry is a deduplicated extraction result keyed by a stable
// fingerprint over the normalised request shape.
type CacheEntry struct {
	Fingerprint  string    `json:"fingerprint"`
	ResultPath   string    `json:"result_path"`
	TokenUsage   int       `json:"token_usage"`
	ContentChars int       `json:"content_chars"`
	HitCount     int       `json:"hit_count"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastHitAt    time.Time `json:"last_hit_at"`
}

// Expired reports whether the entry is no longer servable as of now.
func (c *CacheEntry) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// IdempotencyEntry records the response produced for a client-supplied
// idempotency key so a replay can be answered without re-executing.
type IdempotencyEntry struct {
	Key              string    `json:"key"`
	RequestBodyHash  string    `json:"request_body_hash"`
	ResponseBody     string    `json:"response_body"`
	StatusCode       int       `json:"status_code"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// ScrapeLog is an append-only record of a single extraction attempt.
type ScrapeLog struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	URL          string    `json:"url"`
	Status       JobStatus `json:"status"`
	TokenUsage   int       `json:"token_usage"`
	LatencyMs    int       `json:"latency_ms"`
	LogBlobKey   string    `json:"log_blob_key,omitempty"`
	ResultBlobKey string   `json:"result_blob_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// EventLog is an append-only semantic event: cache hit/miss/store,
// fallback-provider attempt, batch creation, idempotency hit.
type EventLog struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	JobID     string    `json:"job_id,omitempty"`
	DataJSON  string    `json:"data_json,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WebhookDeadLetter is the terminal failure record for a webhook delivery
// that exhausted its retry ladder.
type WebhookDeadLetter struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	URL          string    `json:"url"`
	EventType    string    `json:"event_type"`
	PayloadJSON  string    `json:"payload_json"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"last_error,omitempty"`
	LastStatus   int       `json:"last_status,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RateLimitEntry is a fixed-window request counter for the distributed
// (libsql-backed) rate limiter, keyed by client identifier.
type RateLimitEntry struct {
	ClientKey    string    `json:"client_key"`
	RequestCount int       `json:"request_count"`
	WindowEnd    time.Time `json:"window_end"`
	UpdatedAt    time.Time `json:"updated_at"`
}
