package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
)

// SQLiteWebhookDeadLetterRepository persists webhook deliveries that
// exhausted their retry ladder.
type SQLiteWebhookDeadLetterRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookDeadLetterRepository creates a new dead-letter repository.
func NewSQLiteWebhookDeadLetterRepository(db *sql.DB) *SQLiteWebhookDeadLetterRepository {
	return &SQLiteWebhookDeadLetterRepository{db: db}
}

func (r *SQLiteWebhookDeadLetterRepository) Create(ctx context.Context, dl *models.WebhookDeadLetter) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_dead_letters (id, job_id, url, event_type, payload_json, attempts, last_error, last_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dl.ID, dl.JobID, dl.URL, dl.EventType, dl.PayloadJSON, dl.Attempts,
		nullString(dl.LastError), nullInt(dl.LastStatus), dl.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create webhook dead letter: %w", err)
	}
	return nil
}

func (r *SQLiteWebhookDeadLetterRepository) GetByJobID(ctx context.Context, jobID string) ([]*models.WebhookDeadLetter, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, url, event_type, payload_json, attempts, last_error, last_status, created_at
		FROM webhook_dead_letters WHERE job_id = ? ORDER BY created_at DESC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook dead letters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var letters []*models.WebhookDeadLetter
	for rows.Next() {
		var dl models.WebhookDeadLetter
		var lastError sql.NullString
		var lastStatus sql.NullInt64
		var createdAt string
		if err := rows.Scan(&dl.ID, &dl.JobID, &dl.URL, &dl.EventType, &dl.PayloadJSON, &dl.Attempts,
			&lastError, &lastStatus, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook dead letter: %w", err)
		}
		dl.LastError = lastError.String
		dl.LastStatus = int(lastStatus.Int64)
		dl.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		letters = append(letters, &dl)
	}
	return letters, rows.Err()
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}
