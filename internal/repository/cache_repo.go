package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
)

// SQLiteCacheRepository implements content-addressed cache entry storage.
type SQLiteCacheRepository struct {
	db *sql.DB
}

// NewSQLiteCacheRepository creates a new cache repository.
func NewSQLiteCacheRepository(db *sql.DB) *SQLiteCacheRepository {
	return &SQLiteCacheRepository{db: db}
}

func (r *SQLiteCacheRepository) Get(ctx context.Context, fingerprint string) (*models.CacheEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT fingerprint, result_path, token_usage, content_chars, hit_count, created_at, expires_at, last_hit_at
		FROM cache_entries WHERE fingerprint = ?
	`, fingerprint)

	var entry models.CacheEntry
	var createdAt, expiresAt, lastHitAt string
	err := row.Scan(&entry.Fingerprint, &entry.ResultPath, &entry.TokenUsage, &entry.ContentChars,
		&entry.HitCount, &createdAt, &expiresAt, &lastHitAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	entry.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	entry.LastHitAt, _ = time.Parse(time.RFC3339, lastHitAt)
	return &entry, nil
}

// Put inserts a fresh entry or replaces an expired one, preserving hit_count
// when a row already exists for the fingerprint.
func (r *SQLiteCacheRepository) Put(ctx context.Context, entry *models.CacheEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cache_entries (fingerprint, result_path, token_usage, content_chars, hit_count, created_at, expires_at, last_hit_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			result_path = excluded.result_path,
			token_usage = excluded.token_usage,
			content_chars = excluded.content_chars,
			expires_at = excluded.expires_at
	`, entry.Fingerprint, entry.ResultPath, entry.TokenUsage, entry.ContentChars, entry.HitCount,
		entry.CreatedAt.Format(time.RFC3339), entry.ExpiresAt.Format(time.RFC3339), entry.LastHitAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// RecordHit bumps hit_count and last_hit_at. Called asynchronously from the
// read path so it never adds latency to a cache-hit response.
func (r *SQLiteCacheRepository) RecordHit(ctx context.Context, fingerprint string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE cache_entries SET hit_count = hit_count + 1, last_hit_at = ? WHERE fingerprint = ?
	`, at.Format(time.RFC3339), fingerprint)
	if err != nil {
		return fmt.Errorf("failed to record cache hit: %w", err)
	}
	return nil
}

// DeleteExpired removes entries whose expires_at has passed, in batches
// bounded by limit so the janitor never locks the table for long.
func (r *SQLiteCacheRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE fingerprint IN (
			SELECT fingerprint FROM cache_entries WHERE expires_at <= ? LIMIT ?
		)
	`, before.Format(time.RFC3339), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return result.RowsAffected()
}
