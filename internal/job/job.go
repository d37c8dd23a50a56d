// Package job implements the job state machine's monotonic transitions and
// the owner-scoped lookup rules shared by the queue worker and the HTTP
// surface's job endpoints.
package job

import (
	"context"
	"time"

	"github.com/fetchframe/webextract-api/internal/apperr"
	"github.com/fetchframe/webextract-api/internal/models"
	"github.com/fetchframe/webextract-api/internal/repository"
)

// Service wraps JobRepository with the transition and visibility rules from
// spec §4.9: queued -> processing -> {completed | failed | blocked}.
type Service struct {
	repo repository.JobRepository
}

// NewService builds a Service.
func NewService(repo repository.JobRepository) *Service {
	return &Service{repo: repo}
}

// MarkProcessing flips a claimed job to processing and records started_at.
func MarkProcessing(j *models.Job, now time.Time) {
	j.Status = models.JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
}

// MarkCompleted records a successful extraction's terminal fields.
func MarkCompleted(j *models.Job, resultPath string, tokenUsage, latencyMs int, now time.Time) {
	j.Status = models.JobStatusCompleted
	j.ResultPath = resultPath
	j.TokenUsage = tokenUsage
	j.LatencyMs = latencyMs
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkBlocked records that the target page could not be scraped past an
// anti-bot wall.
func MarkBlocked(j *models.Job, latencyMs int, now time.Time) {
	j.Status = models.JobStatusBlocked
	j.Blocked = true
	j.LatencyMs = latencyMs
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkFailed records a sanitised failure message. Callers must run the raw
// error through apperr.Sanitize before calling this.
func MarkFailed(j *models.Job, sanitizedErr string, latencyMs int, now time.Time) {
	j.Status = models.JobStatusFailed
	j.ErrorMsg = sanitizedErr
	j.LatencyMs = latencyMs
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// GetForCaller loads a job by id, enforcing that non-anonymous deployments
// only ever return jobs owned by ownerKeyID.
func (s *Service) GetForCaller(ctx context.Context, id, ownerKeyID string, anonymousMode bool) (*models.Job, error) {
	j, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, apperr.New(apperr.KindNotFound, "job not found")
	}
	if !anonymousMode && j.OwnerKeyID != ownerKeyID {
		return nil, apperr.New(apperr.KindNotFound, "job not found")
	}
	return j, nil
}

// CheckResultReady returns an error unless j is completed with a result
// blob to serve: 409 for a non-terminal job, 404 for a terminal job with
// no result (failed/blocked, or a completed row whose blob write failed).
func CheckResultReady(j *models.Job) error {
	if !j.Status.Terminal() {
		return apperr.New(apperr.KindNotReady, "job has not finished processing")
	}
	if j.Status != models.JobStatusCompleted || j.ResultPath == "" {
		return apperr.New(apperr.KindNotFound, "job has no result")
	}
	return nil
}
