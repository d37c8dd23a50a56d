package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fetchframe/webextract-api/internal/models"
)

func newTestJob(id string) *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID:        id,
		Status:    models.JobStatusQueued,
		URL:       "https://example.com/article",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestJobRepositoryCreateAndGet(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := newTestJob(ulid.Make().String())
	if err := repos.Job.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatal("expected job, got nil")
	}
	if got.URL != job.URL || got.Status != models.JobStatusQueued {
		t.Errorf("got %+v, want url=%s status=%s", got, job.URL, models.JobStatusQueued)
	}
}

func TestJobRepositoryClaimPendingOrdersByCreatedAt(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	older := newTestJob(ulid.Make().String())
	older.CreatedAt = time.Now().Add(-time.Hour).UTC()
	newer := newTestJob(ulid.Make().String())

	if err := repos.Job.Create(ctx, newer); err != nil {
		t.Fatalf("Create newer: %v", err)
	}
	if err := repos.Job.Create(ctx, older); err != nil {
		t.Fatalf("Create older: %v", err)
	}

	claimed, err := repos.Job.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claimed job")
	}
	if claimed.ID != older.ID {
		t.Errorf("claimed %s, want oldest queued job %s", claimed.ID, older.ID)
	}
	if claimed.Status != models.JobStatusProcessing {
		t.Errorf("claimed job status = %s, want processing", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}
}

func TestJobRepositoryClaimPendingEmpty(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	claimed, err := repos.Job.ClaimPending(ctx)
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if claimed != nil {
		t.Errorf("expected nil, got %+v", claimed)
	}
}

func TestJobRepositoryUpdateToCompleted(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := newTestJob(ulid.Make().String())
	if err := repos.Job.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	job.Status = models.JobStatusCompleted
	job.ResultPath = "results/abc.json"
	job.TokenUsage = 512
	now := time.Now().UTC()
	job.CompletedAt = &now

	if err := repos.Job.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.JobStatusCompleted || got.ResultPath != "results/abc.json" || got.TokenUsage != 512 {
		t.Errorf("got %+v, want completed job with result path and token usage", got)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
}

func TestJobRepositoryMarkStaleProcessingFailed(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := newTestJob(ulid.Make().String())
	job.Status = models.JobStatusProcessing
	started := time.Now().Add(-time.Hour).UTC()
	job.StartedAt = &started
	if err := repos.Job.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repos.Job.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	count, err := repos.Job.MarkStaleProcessingFailed(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("MarkStaleProcessingFailed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	got, err := repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.JobStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestJobRepositoryDeleteOlderThan(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	old := newTestJob(ulid.Make().String())
	old.Status = models.JobStatusCompleted
	old.CreatedAt = time.Now().Add(-48 * time.Hour).UTC()
	if err := repos.Job.Create(ctx, old); err != nil {
		t.Fatalf("Create: %v", err)
	}

	recent := newTestJob(ulid.Make().String())
	if err := repos.Job.Create(ctx, recent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ids, err := repos.Job.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if len(ids) != 1 || ids[0] != old.ID {
		t.Errorf("ids = %v, want [%s]", ids, old.ID)
	}

	if got, _ := repos.Job.GetByID(ctx, recent.ID); got == nil {
		t.Error("recent job should survive deletion")
	}
}
