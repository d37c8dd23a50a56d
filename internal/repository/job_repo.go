package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
)

const jobColumns = `id, owner_key_id, status, url, fields_json, schema_json, instructions,
	options_json, webhook_url, webhook_secret, result_path, token_usage, latency_ms, blocked,
	error_msg, idempotency_key, batch_id, started_at, completed_at, created_at, updated_at`

// SQLiteJobRepository implements JobRepository for libsql.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new job repository.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

func (r *SQLiteJobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		nullString(job.OwnerKeyID),
		job.Status,
		job.URL,
		nullString(job.FieldsJSON),
		nullString(job.SchemaJSON),
		nullString(job.Instructions),
		nullString(job.OptionsJSON),
		nullString(job.WebhookURL),
		nullString(job.WebhookSecret),
		nullString(job.ResultPath),
		job.TokenUsage,
		job.LatencyMs,
		boolToInt(job.Blocked),
		nullString(job.ErrorMsg),
		nullString(job.IdempotencyKey),
		nullString(job.BatchID),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.CreatedAt.Format(time.RFC3339),
		job.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	return r.scanJob(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteJobRepository) GetByOwnerKeyID(ctx context.Context, ownerKeyID string, limit, offset int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner_key_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, ownerKeyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*models.Job
	for rows.Next() {
		job, err := r.scanJobFromRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *SQLiteJobRepository) GetByBatchID(ctx context.Context, batchID string) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE batch_id = ? ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*models.Job
	for rows.Next() {
		job, err := r.scanJobFromRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Update persists the mutable fields of a job: status, result, metrics and
// terminal timestamps. Callers read-modify-write through the status machine
// in models.JobStatus; this does not itself enforce the transition.
func (r *SQLiteJobRepository) Update(ctx context.Context, job *models.Job) error {
	query := `
		UPDATE jobs SET status = ?, result_path = ?, token_usage = ?, latency_ms = ?, blocked = ?,
			error_msg = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		job.Status,
		nullString(job.ResultPath),
		job.TokenUsage,
		job.LatencyMs,
		boolToInt(job.Blocked),
		nullString(job.ErrorMsg),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		time.Now().Format(time.RFC3339),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// ClaimPending atomically flips the oldest queued job to processing and
// returns it, or nil if no job is queued.
func (r *SQLiteJobRepository) ClaimPending(ctx context.Context) (*models.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().Format(time.RFC3339)
	query := `
		UPDATE jobs
		SET status = 'processing', started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs WHERE status = 'queued' ORDER BY created_at ASC LIMIT 1
		)
		RETURNING ` + jobColumns

	job, err := r.scanJob(tx.QueryRowContext(ctx, query, now, now))
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return job, nil
}

// DeleteOlderThan deletes terminal jobs older than before and returns their ids.
func (r *SQLiteJobRepository) DeleteOlderThan(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE created_at < ? AND status IN ('completed', 'failed', 'blocked')`,
		before.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query old jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	_, err = r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE created_at < ? AND status IN ('completed', 'failed', 'blocked')`,
		before.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	return ids, nil
}

// MarkStaleProcessingFailed fails jobs stuck in processing past maxAge,
// e.g. after a worker restart lost track of them mid-pipeline.
func (r *SQLiteJobRepository) MarkStaleProcessingFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Format(time.RFC3339)
	now := time.Now().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_msg = ?, completed_at = ?, updated_at = ?
		WHERE status = ? AND started_at < ?
	`, models.JobStatusFailed, "job terminated: worker restart or timeout", now, now,
		models.JobStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale jobs as failed: %w", err)
	}
	count, _ := result.RowsAffected()
	return count, nil
}

func (r *SQLiteJobRepository) scanJob(row *sql.Row) (*models.Job, error) {
	var job models.Job
	var ownerKeyID, fieldsJSON, schemaJSON, instructions, optionsJSON sql.NullString
	var webhookURL, webhookSecret, resultPath, errorMsg, idempotencyKey, batchID sql.NullString
	var startedAt, completedAt sql.NullString
	var blocked int
	var createdAt, updatedAt string

	err := row.Scan(
		&job.ID, &ownerKeyID, &job.Status, &job.URL, &fieldsJSON, &schemaJSON, &instructions,
		&optionsJSON, &webhookURL, &webhookSecret, &resultPath, &job.TokenUsage, &job.LatencyMs,
		&blocked, &errorMsg, &idempotencyKey, &batchID, &startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	populateJob(&job, ownerKeyID, fieldsJSON, schemaJSON, instructions, optionsJSON, webhookURL,
		webhookSecret, resultPath, errorMsg, idempotencyKey, batchID, startedAt, completedAt,
		blocked, createdAt, updatedAt)
	return &job, nil
}

func (r *SQLiteJobRepository) scanJobFromRows(rows *sql.Rows) (*models.Job, error) {
	var job models.Job
	var ownerKeyID, fieldsJSON, schemaJSON, instructions, optionsJSON sql.NullString
	var webhookURL, webhookSecret, resultPath, errorMsg, idempotencyKey, batchID sql.NullString
	var startedAt, completedAt sql.NullString
	var blocked int
	var createdAt, updatedAt string

	err := rows.Scan(
		&job.ID, &ownerKeyID, &job.Status, &job.URL, &fieldsJSON, &schemaJSON, &instructions,
		&optionsJSON, &webhookURL, &webhookSecret, &resultPath, &job.TokenUsage, &job.LatencyMs,
		&blocked, &errorMsg, &idempotencyKey, &batchID, &startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	populateJob(&job, ownerKeyID, fieldsJSON, schemaJSON, instructions, optionsJSON, webhookURL,
		webhookSecret, resultPath, errorMsg, idempotencyKey, batchID, startedAt, completedAt,
		blocked, createdAt, updatedAt)
	return &job, nil
}

func populateJob(job *models.Job, ownerKeyID, fieldsJSON, schemaJSON, instructions, optionsJSON,
	webhookURL, webhookSecret, resultPath, errorMsg, idempotencyKey, batchID, startedAt, completedAt sql.NullString,
	blocked int, createdAt, updatedAt string) {
	job.OwnerKeyID = ownerKeyID.String
	job.FieldsJSON = fieldsJSON.String
	job.SchemaJSON = schemaJSON.String
	job.Instructions = instructions.String
	job.OptionsJSON = optionsJSON.String
	job.WebhookURL = webhookURL.String
	job.WebhookSecret = webhookSecret.String
	job.ResultPath = resultPath.String
	job.ErrorMsg = errorMsg.String
	job.IdempotencyKey = idempotencyKey.String
	job.BatchID = batchID.String
	job.Blocked = blocked == 1
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		job.CompletedAt = &t
	}
}

// Helper functions shared by every repository in this package.

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
