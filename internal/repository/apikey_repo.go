package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
)

const apiKeyColumns = `id, owner, key_hash, key_prefix, remaining_credits, is_active, tier, last_used_at, created_at`

// ErrNoRowsAffected is returned by ConsumeCredits when no row matched the
// conditional decrement; callers distinguish the reason by re-reading the row.
var ErrNoRowsAffected = errors.New("no rows affected")

// SQLiteAPIKeyRepository implements APIKeyRepository for libsql.
type SQLiteAPIKeyRepository struct {
	db *sql.DB
}

// NewSQLiteAPIKeyRepository creates a new API key repository.
func NewSQLiteAPIKeyRepository(db *sql.DB) *SQLiteAPIKeyRepository {
	return &SQLiteAPIKeyRepository{db: db}
}

func (r *SQLiteAPIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	query := `INSERT INTO api_keys (` + apiKeyColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		key.ID, key.Owner, key.KeyHash, key.KeyPrefix, key.RemainingCredits,
		boolToInt(key.IsActive), key.Tier, nullTime(key.LastUsedAt), key.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (r *SQLiteAPIKeyRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = ?`
	return r.scanKey(r.db.QueryRowContext(ctx, query, id))
}

// GetByKeyHash verifies a caller-presented key without side effects.
func (r *SQLiteAPIKeyRepository) GetByKeyHash(ctx context.Context, hash string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = ?`
	return r.scanKey(r.db.QueryRowContext(ctx, query, hash))
}

// ConsumeCredits decrements the balance with one conditional UPDATE that
// succeeds only if the key is active and has at least n remaining credits,
// then reads the new balance with a separate SELECT; the returned value can
// already include a concurrent decrement of the same key.
func (r *SQLiteAPIKeyRepository) ConsumeCredits(ctx context.Context, keyHash string, n int) (int, error) {
	now := time.Now().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE api_keys
		SET remaining_credits = remaining_credits - ?, last_used_at = ?
		WHERE key_hash = ? AND is_active = 1 AND remaining_credits >= ?
	`, n, now, keyHash, n)
	if err != nil {
		return 0, fmt.Errorf("failed to consume credits: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return 0, ErrNoRowsAffected
	}

	var remaining int
	err = r.db.QueryRowContext(ctx, `SELECT remaining_credits FROM api_keys WHERE key_hash = ?`, keyHash).Scan(&remaining)
	if err != nil {
		return 0, fmt.Errorf("failed to read updated balance: %w", err)
	}
	return remaining, nil
}

func (r *SQLiteAPIKeyRepository) UpdateLastUsed(ctx context.Context, id string, lastUsed time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, lastUsed.Format(time.RFC3339), id)
	return err
}

func (r *SQLiteAPIKeyRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET is_active = 0 WHERE id = ?`, id)
	return err
}

func (r *SQLiteAPIKeyRepository) scanKey(row *sql.Row) (*models.APIKey, error) {
	var key models.APIKey
	var isActive int
	var lastUsedAt sql.NullString
	var createdAt string
	err := row.Scan(&key.ID, &key.Owner, &key.KeyHash, &key.KeyPrefix, &key.RemainingCredits,
		&isActive, &key.Tier, &lastUsedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}
	key.IsActive = isActive == 1
	key.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastUsedAt.Valid {
		t, _ := time.Parse(time.RFC3339, lastUsedAt.String)
		key.LastUsedAt = &t
	}
	return &key, nil
}
