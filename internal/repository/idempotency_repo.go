package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
)

// SQLiteIdempotencyRepository stores replayable responses keyed by
// client-supplied idempotency key.
type SQLiteIdempotencyRepository struct {
	db *sql.DB
}

// NewSQLiteIdempotencyRepository creates a new idempotency repository.
func NewSQLiteIdempotencyRepository(db *sql.DB) *SQLiteIdempotencyRepository {
	return &SQLiteIdempotencyRepository{db: db}
}

func (r *SQLiteIdempotencyRepository) Get(ctx context.Context, key string) (*models.IdempotencyEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT key, request_body_hash, response_body, status_code, created_at, expires_at
		FROM idempotency_entries WHERE key = ?
	`, key)

	var entry models.IdempotencyEntry
	var createdAt, expiresAt string
	err := row.Scan(&entry.Key, &entry.RequestBodyHash, &entry.ResponseBody, &entry.StatusCode, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency entry: %w", err)
	}
	entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	entry.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	return &entry, nil
}

// Store records the outgoing response under key with the given TTL. A
// second request racing to store the same key is harmless: the later write
// simply wins, and Get still resolves one consistent row.
func (r *SQLiteIdempotencyRepository) Store(ctx context.Context, entry *models.IdempotencyEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_entries (key, request_body_hash, response_body, status_code, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			request_body_hash = excluded.request_body_hash,
			response_body = excluded.response_body,
			status_code = excluded.status_code,
			expires_at = excluded.expires_at
	`, entry.Key, entry.RequestBodyHash, entry.ResponseBody, entry.StatusCode,
		entry.CreatedAt.Format(time.RFC3339), entry.ExpiresAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store idempotency entry: %w", err)
	}
	return nil
}

// DeleteExpired removes entries past their TTL in bounded batches.
func (r *SQLiteIdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_entries WHERE key IN (
			SELECT key FROM idempotency_entries WHERE expires_at <= ? LIMIT ?
		)
	`, before.Format(time.RFC3339), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency entries: %w", err)
	}
	return result.RowsAffected()
}
