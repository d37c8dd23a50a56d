package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fetchframe/webextract-api/internal/models"
)

func TestScheduleRepositoryClaimDue(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteScheduleRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	due := &models.Schedule{
		ID:        ulid.Make().String(),
		CronExpr:  "0 * * * *",
		URL:       "https://example.com",
		IsActive:  true,
		NextRunAt: now.Add(-time.Minute),
		CreatedAt: now,
		UpdatedAt: now,
	}
	future := &models.Schedule{
		ID:        ulid.Make().String(),
		CronExpr:  "0 * * * *",
		URL:       "https://example.com",
		IsActive:  true,
		NextRunAt: now.Add(time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Create(ctx, due); err != nil {
		t.Fatalf("Create due: %v", err)
	}
	if err := repo.Create(ctx, future); err != nil {
		t.Fatalf("Create future: %v", err)
	}

	claimed, err := repo.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID {
		t.Errorf("claimed = %+v, want only due schedule %s", claimed, due.ID)
	}
}

func TestScheduleRepositoryAdvanceCompareAndSet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteScheduleRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	s := &models.Schedule{
		ID:        ulid.Make().String(),
		CronExpr:  "0 * * * *",
		URL:       "https://example.com",
		IsActive:  true,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	nextFire := now.Add(time.Hour)
	ok, err := repo.Advance(ctx, s.ID, now, nextFire, now)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !ok {
		t.Fatal("expected first Advance to succeed")
	}

	// A second tick racing on the same stale expected value must lose.
	ok, err = repo.Advance(ctx, s.ID, now, nextFire.Add(time.Hour), now)
	if err != nil {
		t.Fatalf("Advance racing: %v", err)
	}
	if ok {
		t.Error("expected racing Advance with stale expected next_run_at to fail")
	}

	got, err := repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.NextRunAt.Equal(nextFire) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, nextFire)
	}
}
