package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
)

const scheduleColumns = `id, owner_key_id, cron_expr, url, fields_json, schema_json, instructions,
	options_json, webhook_url, webhook_secret, is_active, next_run_at, last_run_at, created_at, updated_at`

// SQLiteScheduleRepository implements recurring-extraction schedule storage.
type SQLiteScheduleRepository struct {
	db *sql.DB
}

// NewSQLiteScheduleRepository creates a new schedule repository.
func NewSQLiteScheduleRepository(db *sql.DB) *SQLiteScheduleRepository {
	return &SQLiteScheduleRepository{db: db}
}

func (r *SQLiteScheduleRepository) Create(ctx context.Context, s *models.Schedule) error {
	query := `INSERT INTO schedules (` + scheduleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, nullString(s.OwnerKeyID), s.CronExpr, s.URL, nullString(s.FieldsJSON), nullString(s.SchemaJSON),
		nullString(s.Instructions), nullString(s.OptionsJSON), nullString(s.WebhookURL), nullString(s.WebhookSecret),
		boolToInt(s.IsActive), s.NextRunAt.Format(time.RFC3339), nullTime(s.LastRunAt),
		s.CreatedAt.Format(time.RFC3339), s.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

func (r *SQLiteScheduleRepository) GetByID(ctx context.Context, id string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`
	return r.scanSchedule(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteScheduleRepository) GetByOwnerKeyID(ctx context.Context, ownerKeyID string) ([]*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE owner_key_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, ownerKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return r.scanSchedules(rows)
}

func (r *SQLiteScheduleRepository) Update(ctx context.Context, s *models.Schedule) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET cron_expr = ?, url = ?, fields_json = ?, schema_json = ?, instructions = ?,
			options_json = ?, webhook_url = ?, webhook_secret = ?, is_active = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, s.CronExpr, s.URL, nullString(s.FieldsJSON), nullString(s.SchemaJSON), nullString(s.Instructions),
		nullString(s.OptionsJSON), nullString(s.WebhookURL), nullString(s.WebhookSecret),
		boolToInt(s.IsActive), s.NextRunAt.Format(time.RFC3339), time.Now().Format(time.RFC3339), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}

func (r *SQLiteScheduleRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return err
}

// ClaimDue selects up to limit active schedules whose next_run_at is at or
// before now, oldest first. It does not modify any row: the caller advances
// each one through Advance, whose compare-and-set keeps two overlapping
// ticks from dispatching the same instance.
func (r *SQLiteScheduleRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules
		WHERE is_active = 1 AND next_run_at <= ? ORDER BY next_run_at ASC LIMIT ?`,
		now.Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return r.scanSchedules(rows)
}

// Advance performs the compare-and-set: it only updates next_run_at/last_run_at
// if the row's next_run_at still equals expectedNextRunAt, so a concurrent
// tick that already advanced the row loses the race harmlessly.
func (r *SQLiteScheduleRepository) Advance(ctx context.Context, id string, expectedNextRunAt, newNextRunAt, ranAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET next_run_at = ?, last_run_at = ?, updated_at = ?
		WHERE id = ? AND next_run_at = ?
	`, newNextRunAt.Format(time.RFC3339), ranAt.Format(time.RFC3339), ranAt.Format(time.RFC3339),
		id, expectedNextRunAt.Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("failed to advance schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *SQLiteScheduleRepository) scanSchedule(row *sql.Row) (*models.Schedule, error) {
	var s models.Schedule
	var ownerKeyID, fieldsJSON, schemaJSON, instructions, optionsJSON sql.NullString
	var webhookURL, webhookSecret, lastRunAt sql.NullString
	var isActive int
	var nextRunAt, createdAt, updatedAt string

	err := row.Scan(&s.ID, &ownerKeyID, &s.CronExpr, &s.URL, &fieldsJSON, &schemaJSON, &instructions,
		&optionsJSON, &webhookURL, &webhookSecret, &isActive, &nextRunAt, &lastRunAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}
	populateSchedule(&s, ownerKeyID, fieldsJSON, schemaJSON, instructions, optionsJSON, webhookURL,
		webhookSecret, lastRunAt, isActive, nextRunAt, createdAt, updatedAt)
	return &s, nil
}

func (r *SQLiteScheduleRepository) scanSchedules(rows *sql.Rows) ([]*models.Schedule, error) {
	var schedules []*models.Schedule
	for rows.Next() {
		var s models.Schedule
		var ownerKeyID, fieldsJSON, schemaJSON, instructions, optionsJSON sql.NullString
		var webhookURL, webhookSecret, lastRunAt sql.NullString
		var isActive int
		var nextRunAt, createdAt, updatedAt string

		err := rows.Scan(&s.ID, &ownerKeyID, &s.CronExpr, &s.URL, &fieldsJSON, &schemaJSON, &instructions,
			&optionsJSON, &webhookURL, &webhookSecret, &isActive, &nextRunAt, &lastRunAt, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		populateSchedule(&s, ownerKeyID, fieldsJSON, schemaJSON, instructions, optionsJSON, webhookURL,
			webhookSecret, lastRunAt, isActive, nextRunAt, createdAt, updatedAt)
		schedules = append(schedules, &s)
	}
	return schedules, rows.Err()
}

func populateSchedule(s *models.Schedule, ownerKeyID, fieldsJSON, schemaJSON, instructions, optionsJSON,
	webhookURL, webhookSecret, lastRunAt sql.NullString, isActive int, nextRunAt, createdAt, updatedAt string) {
	s.OwnerKeyID = ownerKeyID.String
	s.FieldsJSON = fieldsJSON.String
	s.SchemaJSON = schemaJSON.String
	s.Instructions = instructions.String
	s.OptionsJSON = optionsJSON.String
	s.WebhookURL = webhookURL.String
	s.WebhookSecret = webhookSecret.String
	s.IsActive = isActive == 1
	s.NextRunAt, _ = time.Parse(time.RFC3339, nextRunAt)
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if lastRunAt.Valid {
		t, _ := time.Parse(time.RFC3339, lastRunAt.String)
		s.LastRunAt = &t
	}
}
