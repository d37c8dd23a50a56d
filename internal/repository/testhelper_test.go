package repository

import (
	"database/sql"
	"testing"

	"github.com/fetchframe/webextract-api/internal/database/migrations"
	_ "github.com/tursodatabase/go-libsql"
)

// setupTestDB creates an in-memory libsql database for testing. It runs
// migrations and is cleaned up when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// InsertTestAPIKey inserts a test API key directly, bypassing the repository.
func InsertTestAPIKey(t *testing.T, db *sql.DB, id, keyHash, keyPrefix string, remainingCredits int, isActive bool) {
	t.Helper()
	query := `
		INSERT INTO api_keys (id, owner, key_hash, key_prefix, remaining_credits, is_active, tier, created_at)
		VALUES (?, 'test-owner', ?, ?, ?, ?, 'default', datetime('now'))
	`
	if _, err := db.Exec(query, id, keyHash, keyPrefix, remainingCredits, boolToInt(isActive)); err != nil {
		t.Fatalf("failed to insert test api key: %v", err)
	}
}

// InsertTestJob inserts a test job directly, bypassing the repository.
func InsertTestJob(t *testing.T, db *sql.DB, id, ownerKeyID, status string) {
	t.Helper()
	query := `
		INSERT INTO jobs (id, owner_key_id, status, url, created_at, updated_at)
		VALUES (?, ?, ?, 'https://example.com', datetime('now'), datetime('now'))
	`
	if _, err := db.Exec(query, id, ownerKeyID, status); err != nil {
		t.Fatalf("failed to insert test job: %v", err)
	}
}

// InsertTestCacheEntry inserts a test cache entry directly.
func InsertTestCacheEntry(t *testing.T, db *sql.DB, fingerprint, resultPath string, hitCount int, expiresAt string) {
	t.Helper()
	query := `
		INSERT INTO cache_entries (fingerprint, result_path, hit_count, created_at, expires_at, last_hit_at)
		VALUES (?, ?, ?, datetime('now'), ?, datetime('now'))
	`
	if _, err := db.Exec(query, fingerprint, resultPath, hitCount, expiresAt); err != nil {
		t.Fatalf("failed to insert test cache entry: %v", err)
	}
}

// InsertTestSchedule inserts a test schedule directly.
func InsertTestSchedule(t *testing.T, db *sql.DB, id, ownerKeyID, cronExpr, nextRunAt string) {
	t.Helper()
	query := `
		INSERT INTO schedules (id, owner_key_id, cron_expr, url, is_active, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, 'https://example.com', 1, ?, datetime('now'), datetime('now'))
	`
	if _, err := db.Exec(query, id, ownerKeyID, cronExpr, nextRunAt); err != nil {
		t.Fatalf("failed to insert test schedule: %v", err)
	}
}
