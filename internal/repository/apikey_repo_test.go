package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestAPIKeyRepositoryConsumeCreditsSufficient(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteAPIKeyRepository(db)
	ctx := context.Background()

	InsertTestAPIKey(t, db, ulid.Make().String(), "hash-1", "wx_abc12345", 10, true)

	remaining, err := repo.ConsumeCredits(ctx, "hash-1", 3)
	if err != nil {
		t.Fatalf("ConsumeCredits: %v", err)
	}
	if remaining != 7 {
		t.Errorf("remaining = %d, want 7", remaining)
	}
}

func TestAPIKeyRepositoryConsumeCreditsInsufficient(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteAPIKeyRepository(db)
	ctx := context.Background()

	InsertTestAPIKey(t, db, ulid.Make().String(), "hash-2", "wx_def67890", 2, true)

	_, err := repo.ConsumeCredits(ctx, "hash-2", 5)
	if !errors.Is(err, ErrNoRowsAffected) {
		t.Errorf("err = %v, want ErrNoRowsAffected", err)
	}
}

func TestAPIKeyRepositoryConsumeCreditsInactive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteAPIKeyRepository(db)
	ctx := context.Background()

	InsertTestAPIKey(t, db, ulid.Make().String(), "hash-3", "wx_ghi13579", 10, false)

	_, err := repo.ConsumeCredits(ctx, "hash-3", 1)
	if !errors.Is(err, ErrNoRowsAffected) {
		t.Errorf("err = %v, want ErrNoRowsAffected", err)
	}
}

func TestAPIKeyRepositoryGetByKeyHash(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteAPIKeyRepository(db)
	ctx := context.Background()

	InsertTestAPIKey(t, db, ulid.Make().String(), "hash-4", "wx_jkl24680", 5, true)

	key, err := repo.GetByKeyHash(ctx, "hash-4")
	if err != nil {
		t.Fatalf("GetByKeyHash: %v", err)
	}
	if key == nil {
		t.Fatal("expected key, got nil")
	}
	if key.RemainingCredits != 5 || !key.IsActive {
		t.Errorf("got %+v", key)
	}

	missing, err := repo.GetByKeyHash(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("GetByKeyHash missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing hash, got %+v", missing)
	}
}
