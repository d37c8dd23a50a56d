package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
)

func TestCacheRepositoryPutAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteCacheRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	entry := &models.CacheEntry{
		Fingerprint:  "fp-1",
		ResultPath:   "cache/fp-1.json",
		TokenUsage:   100,
		ContentChars: 2000,
		CreatedAt:    now,
		ExpiresAt:    now.Add(15 * time.Minute),
		LastHitAt:    now,
	}
	if err := repo.Put(ctx, entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := repo.Get(ctx, "fp-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.ResultPath != entry.ResultPath {
		t.Errorf("got %+v, want result path %s", got, entry.ResultPath)
	}
}

func TestCacheRepositoryPutPreservesHitCountOnReplace(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteCacheRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	entry := &models.CacheEntry{
		Fingerprint: "fp-2",
		ResultPath:  "cache/fp-2.json",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Minute),
		LastHitAt:   now,
	}
	if err := repo.Put(ctx, entry); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := repo.RecordHit(ctx, "fp-2", now); err != nil {
		t.Fatalf("RecordHit: %v", err)
	}
	if err := repo.RecordHit(ctx, "fp-2", now); err != nil {
		t.Fatalf("RecordHit: %v", err)
	}

	// Replace the entry (a fresh extraction after expiry). hit_count must survive.
	replacement := &models.CacheEntry{
		Fingerprint: "fp-2",
		ResultPath:  "cache/fp-2-v2.json",
		CreatedAt:   now,
		ExpiresAt:   now.Add(30 * time.Minute),
		LastHitAt:   now,
	}
	if err := repo.Put(ctx, replacement); err != nil {
		t.Fatalf("Put replacement: %v", err)
	}

	got, err := repo.Get(ctx, "fp-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.HitCount != 2 {
		t.Errorf("hit count = %d, want 2 preserved across replace", got.HitCount)
	}
	if got.ResultPath != "cache/fp-2-v2.json" {
		t.Errorf("result path = %s, want updated path", got.ResultPath)
	}
}

func TestCacheRepositoryDeleteExpired(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteCacheRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	expired := &models.CacheEntry{
		Fingerprint: "fp-expired",
		ResultPath:  "cache/fp-expired.json",
		CreatedAt:   now.Add(-time.Hour),
		ExpiresAt:   now.Add(-time.Minute),
		LastHitAt:   now.Add(-time.Hour),
	}
	fresh := &models.CacheEntry{
		Fingerprint: "fp-fresh",
		ResultPath:  "cache/fp-fresh.json",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
		LastHitAt:   now,
	}
	if err := repo.Put(ctx, expired); err != nil {
		t.Fatalf("Put expired: %v", err)
	}
	if err := repo.Put(ctx, fresh); err != nil {
		t.Fatalf("Put fresh: %v", err)
	}

	deleted, err := repo.DeleteExpired(ctx, now, 100)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if got, _ := repo.Get(ctx, "fp-fresh"); got == nil {
		t.Error("fresh entry should survive")
	}
	if got, _ := repo.Get(ctx, "fp-expired"); got != nil {
		t.Error("expired entry should be gone")
	}
}
