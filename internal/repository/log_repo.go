package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
)

// SQLiteLogRepository writes the append-only scrape_logs and event_logs
// tables. Both are write-heavy and read only for operator-facing listing,
// so they share one repository and one db handle.
type SQLiteLogRepository struct {
	db *sql.DB
}

// NewSQLiteLogRepository creates a new log repository.
func NewSQLiteLogRepository(db *sql.DB) *SQLiteLogRepository {
	return &SQLiteLogRepository{db: db}
}

func (r *SQLiteLogRepository) CreateScrapeLog(ctx context.Context, log *models.ScrapeLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scrape_logs (id, job_id, url, status, token_usage, latency_ms, log_blob_key, result_blob_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, log.ID, log.JobID, log.URL, log.Status, log.TokenUsage, log.LatencyMs,
		nullString(log.LogBlobKey), nullString(log.ResultBlobKey), log.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create scrape log: %w", err)
	}
	return nil
}

func (r *SQLiteLogRepository) GetScrapeLogsByJobID(ctx context.Context, jobID string) ([]*models.ScrapeLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, url, status, token_usage, latency_ms, log_blob_key, result_blob_key, created_at
		FROM scrape_logs WHERE job_id = ? ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scrape logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		var logBlobKey, resultBlobKey sql.NullString
		var createdAt string
		if err := rows.Scan(&l.ID, &l.JobID, &l.URL, &l.Status, &l.TokenUsage, &l.LatencyMs,
			&logBlobKey, &resultBlobKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan scrape log: %w", err)
		}
		l.LogBlobKey = logBlobKey.String
		l.ResultBlobKey = resultBlobKey.String
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// DeleteScrapeLogsOlderThan removes scrape logs past the configured
// retention window, in bounded batches.
func (r *SQLiteLogRepository) DeleteScrapeLogsOlderThan(ctx context.Context, before time.Time, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM scrape_logs WHERE id IN (
			SELECT id FROM scrape_logs WHERE created_at < ? LIMIT ?
		)
	`, before.Format(time.RFC3339), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old scrape logs: %w", err)
	}
	return result.RowsAffected()
}

// CreateEvent records a semantic event: cache_hit, cache_miss, cache_store,
// proxy_grid_fallback, batch_created, idempotency_hit.
func (r *SQLiteLogRepository) CreateEvent(ctx context.Context, event *models.EventLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO event_logs (id, event_type, job_id, data_json, created_at) VALUES (?, ?, ?, ?, ?)
	`, event.ID, event.EventType, nullString(event.JobID), nullString(event.DataJSON), event.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create event log: %w", err)
	}
	return nil
}

func (r *SQLiteLogRepository) GetEventsByType(ctx context.Context, eventType string, limit, offset int) ([]*models.EventLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, job_id, data_json, created_at FROM event_logs
		WHERE event_type = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, eventType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query event logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*models.EventLog
	for rows.Next() {
		var e models.EventLog
		var jobID, dataJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.EventType, &jobID, &dataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event log: %w", err)
		}
		e.JobID = jobID.String
		e.DataJSON = dataJSON.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// DeleteEventsOlderThan removes event logs past the configured retention
// window, in bounded batches.
func (r *SQLiteLogRepository) DeleteEventsOlderThan(ctx context.Context, before time.Time, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM event_logs WHERE id IN (
			SELECT id FROM event_logs WHERE created_at < ? LIMIT ?
		)
	`, before.Format(time.RFC3339), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old event logs: %w", err)
	}
	return result.RowsAffected()
}
