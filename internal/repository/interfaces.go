// Package repository defines repository interfaces and libsql-backed
// implementations for the tabular store's nine tables.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
)

// APIKeyRepository defines methods for API key data access.
type APIKeyRepository interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByID(ctx context.Context, id string) (*models.APIKey, error)
	GetByKeyHash(ctx context.Context, hash string) (*models.APIKey, error)
	// ConsumeCredits performs the conditional decrement described in
	// spec §4.4: succeeds only if the key is active with sufficient balance.
	ConsumeCredits(ctx context.Context, keyHash string, n int) (int, error)
	UpdateLastUsed(ctx context.Context, id string, lastUsed time.Time) error
	Revoke(ctx context.Context, id string) error
}

// JobRepository defines methods for job data access.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	GetByOwnerKeyID(ctx context.Context, ownerKeyID string, limit, offset int) ([]*models.Job, error)
	GetByBatchID(ctx context.Context, batchID string) ([]*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	// ClaimPending atomically claims the oldest queued job.
	ClaimPending(ctx context.Context) (*models.Job, error)
	DeleteOlderThan(ctx context.Context, before time.Time) ([]string, error)
	MarkStaleProcessingFailed(ctx context.Context, maxAge time.Duration) (int64, error)
}

// CacheRepository defines methods for cache entry data access.
type CacheRepository interface {
	Get(ctx context.Context, fingerprint string) (*models.CacheEntry, error)
	Put(ctx context.Context, entry *models.CacheEntry) error
	RecordHit(ctx context.Context, fingerprint string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error)
}

// ScheduleRepository defines methods for recurring schedule data access.
type ScheduleRepository interface {
	Create(ctx context.Context, s *models.Schedule) error
	GetByID(ctx context.Context, id string) (*models.Schedule, error)
	GetByOwnerKeyID(ctx context.Context, ownerKeyID string) ([]*models.Schedule, error)
	Update(ctx context.Context, s *models.Schedule) error
	Delete(ctx context.Context, id string) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error)
	Advance(ctx context.Context, id string, expectedNextRunAt, newNextRunAt, ranAt time.Time) (bool, error)
}

// IdempotencyRepository defines methods for idempotency entry data access.
type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (*models.IdempotencyEntry, error)
	Store(ctx context.Context, entry *models.IdempotencyEntry) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error)
}

// LogRepository defines methods for scrape_logs and event_logs access.
type LogRepository interface {
	CreateScrapeLog(ctx context.Context, log *models.ScrapeLog) error
	GetScrapeLogsByJobID(ctx context.Context, jobID string) ([]*models.ScrapeLog, error)
	DeleteScrapeLogsOlderThan(ctx context.Context, before time.Time, limit int) (int64, error)
	CreateEvent(ctx context.Context, event *models.EventLog) error
	GetEventsByType(ctx context.Context, eventType string, limit, offset int) ([]*models.EventLog, error)
	DeleteEventsOlderThan(ctx context.Context, before time.Time, limit int) (int64, error)
}

// WebhookDeadLetterRepository defines methods for dead-letter data access.
type WebhookDeadLetterRepository interface {
	Create(ctx context.Context, dl *models.WebhookDeadLetter) error
	GetByJobID(ctx context.Context, jobID string) ([]*models.WebhookDeadLetter, error)
}

// RateLimitRepository defines the persistent half of the rate limiter.
type RateLimitRepository interface {
	CheckAndIncrement(ctx context.Context, clientKey string, now time.Time, window time.Duration) (count int, windowEnd time.Time, err error)
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error)
}

// Repositories holds all repository instances wired to one database handle.
type Repositories struct {
	APIKey            APIKeyRepository
	Job               JobRepository
	Cache             CacheRepository
	Schedule          ScheduleRepository
	Idempotency       IdempotencyRepository
	Log               LogRepository
	WebhookDeadLetter WebhookDeadLetterRepository
	RateLimit         RateLimitRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		APIKey:            NewSQLiteAPIKeyRepository(db),
		Job:               NewSQLiteJobRepository(db),
		Cache:             NewSQLiteCacheRepository(db),
		Schedule:          NewSQLiteScheduleRepository(db),
		Idempotency:       NewSQLiteIdempotencyRepository(db),
		Log:               NewSQLiteLogRepository(db),
		WebhookDeadLetter: NewSQLiteWebhookDeadLetterRepository(db),
		RateLimit:         NewSQLiteRateLimitRepository(db),
	}
}
