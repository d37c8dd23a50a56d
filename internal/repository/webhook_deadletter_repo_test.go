package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fetchframe/webextract-api/internal/models"
)

func TestWebhookDeadLetterRepositoryCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteWebhookDeadLetterRepository(db)
	ctx := context.Background()

	jobID := ulid.Make().String()
	InsertTestJob(t, db, jobID, "", "completed")

	dl := &models.WebhookDeadLetter{
		ID:          ulid.Make().String(),
		JobID:       jobID,
		URL:         "https://hooks.example.com/in",
		EventType:   "job.completed",
		PayloadJSON: `{"jobId":"` + jobID + `"}`,
		Attempts:    5,
		LastError:   "connection reset by peer",
		LastStatus:  0,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.Create(ctx, dl); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByJobID(ctx, jobID)
	if err != nil {
		t.Fatalf("GetByJobID: %v", err)
	}
	if len(got) != 1 || got[0].Attempts != 5 || got[0].LastError != dl.LastError {
		t.Errorf("got %+v, want one dead letter with 5 attempts", got)
	}
}
