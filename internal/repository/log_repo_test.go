package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fetchframe/webextract-api/internal/models"
)

func TestLogRepositoryScrapeLogRoundtrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteLogRepository(db)
	ctx := context.Background()

	InsertTestAPIKey(t, db, ulid.Make().String(), "hash-log", "wx_log12345", 10, true)
	jobID := ulid.Make().String()
	InsertTestJob(t, db, jobID, "", "completed")

	l := &models.ScrapeLog{
		ID:         ulid.Make().String(),
		JobID:      jobID,
		URL:        "https://example.com",
		Status:     models.JobStatusCompleted,
		TokenUsage: 200,
		LatencyMs:  850,
		CreatedAt:  time.Now().UTC(),
	}
	if err := repo.CreateScrapeLog(ctx, l); err != nil {
		t.Fatalf("CreateScrapeLog: %v", err)
	}

	logs, err := repo.GetScrapeLogsByJobID(ctx, jobID)
	if err != nil {
		t.Fatalf("GetScrapeLogsByJobID: %v", err)
	}
	if len(logs) != 1 || logs[0].TokenUsage != 200 {
		t.Errorf("logs = %+v, want one entry with token_usage 200", logs)
	}
}

func TestLogRepositoryEventRoundtrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteLogRepository(db)
	ctx := context.Background()

	e := &models.EventLog{
		ID:        ulid.Make().String(),
		EventType: "cache_hit",
		DataJSON:  `{"fingerprint":"fp-1"}`,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateEvent(ctx, e); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	events, err := repo.GetEventsByType(ctx, "cache_hit", 10, 0)
	if err != nil {
		t.Fatalf("GetEventsByType: %v", err)
	}
	if len(events) != 1 || events[0].ID != e.ID {
		t.Errorf("events = %+v, want one entry with id %s", events, e.ID)
	}
}

func TestLogRepositoryDeleteScrapeLogsOlderThan(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteLogRepository(db)
	ctx := context.Background()

	jobID := ulid.Make().String()
	InsertTestJob(t, db, jobID, "", "completed")

	old := &models.ScrapeLog{
		ID:        ulid.Make().String(),
		JobID:     jobID,
		URL:       "https://example.com",
		Status:    models.JobStatusCompleted,
		CreatedAt: time.Now().Add(-48 * time.Hour).UTC(),
	}
	if err := repo.CreateScrapeLog(ctx, old); err != nil {
		t.Fatalf("CreateScrapeLog: %v", err)
	}

	deleted, err := repo.DeleteScrapeLogsOlderThan(ctx, time.Now().Add(-24*time.Hour), 100)
	if err != nil {
		t.Fatalf("DeleteScrapeLogsOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}
