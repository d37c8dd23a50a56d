package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteRateLimitRepository implements the persistent, atomic-upsert half
// of the ratelimit.Limiter interface: a fixed-window counter keyed by
// client identifier (key:<prefix> or ip:<addr>), required when more than
// one process instance serves traffic.
type SQLiteRateLimitRepository struct {
	db *sql.DB
}

// NewSQLiteRateLimitRepository creates a new rate limit repository.
func NewSQLiteRateLimitRepository(db *sql.DB) *SQLiteRateLimitRepository {
	return &SQLiteRateLimitRepository{db: db}
}

// CheckAndIncrement performs the check-and-increment as a single atomic
// upsert: insert with count 1 if absent; on conflict, if the existing
// window has elapsed reset to 1 with a new window, else increment. It
// returns the post-increment count and the window's end, so the caller can
// compare count against its limit and emit the X-RateLimit-* triplet.
func (r *SQLiteRateLimitRepository) CheckAndIncrement(ctx context.Context, clientKey string, now time.Time, window time.Duration) (count int, windowEnd time.Time, err error) {
	newWindowEnd := now.Add(window)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rate_limits (client_key, request_count, window_end, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(client_key) DO UPDATE SET
			request_count = CASE WHEN rate_limits.window_end <= ? THEN 1 ELSE rate_limits.request_count + 1 END,
			window_end = CASE WHEN rate_limits.window_end <= ? THEN ? ELSE rate_limits.window_end END,
			updated_at = ?
	`, clientKey, newWindowEnd.Format(time.RFC3339), now.Format(time.RFC3339),
		now.Format(time.RFC3339), now.Format(time.RFC3339), newWindowEnd.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to check and increment rate limit: %w", err)
	}

	var windowEndStr string
	err = r.db.QueryRowContext(ctx, `SELECT request_count, window_end FROM rate_limits WHERE client_key = ?`, clientKey).
		Scan(&count, &windowEndStr)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read rate limit row: %w", err)
	}
	windowEnd, _ = time.Parse(time.RFC3339, windowEndStr)
	return count, windowEnd, nil
}

// DeleteExpired removes rate limit rows whose window ended before cutoff,
// in batches bounded by limit.
func (r *SQLiteRateLimitRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM rate_limits WHERE client_key IN (
			SELECT client_key FROM rate_limits WHERE window_end < ? LIMIT ?
		)
	`, before.Format(time.RFC3339), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rate limit rows: %w", err)
	}
	return result.RowsAffected()
}
