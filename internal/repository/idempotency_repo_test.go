package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
)

func TestIdempotencyRepositoryStoreAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteIdempotencyRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	entry := &models.IdempotencyEntry{
		Key:             "client-key-1",
		RequestBodyHash: "hash-abc",
		ResponseBody:    `{"status":"completed"}`,
		StatusCode:      200,
		CreatedAt:       now,
		ExpiresAt:       now.Add(48 * time.Hour),
	}
	if err := repo.Store(ctx, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := repo.Get(ctx, "client-key-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.ResponseBody != entry.ResponseBody || got.StatusCode != 200 {
		t.Errorf("got %+v, want %+v", got, entry)
	}
}

func TestIdempotencyRepositoryGetMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteIdempotencyRepository(db)
	ctx := context.Background()

	got, err := repo.Get(ctx, "missing-key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestIdempotencyRepositoryDeleteExpired(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteIdempotencyRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	expired := &models.IdempotencyEntry{
		Key:             "expired-key",
		RequestBodyHash: "hash-1",
		ResponseBody:    "{}",
		StatusCode:      200,
		CreatedAt:       now.Add(-72 * time.Hour),
		ExpiresAt:       now.Add(-time.Hour),
	}
	active := &models.IdempotencyEntry{
		Key:             "active-key",
		RequestBodyHash: "hash-2",
		ResponseBody:    "{}",
		StatusCode:      200,
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Hour),
	}
	if err := repo.Store(ctx, expired); err != nil {
		t.Fatalf("Store expired: %v", err)
	}
	if err := repo.Store(ctx, active); err != nil {
		t.Fatalf("Store active: %v", err)
	}

	deleted, err := repo.DeleteExpired(ctx, now, 100)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}
