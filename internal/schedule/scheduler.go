package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fetchframe/webextract-api/internal/models"
	"github.com/fetchframe/webextract-api/internal/repository"
	"github.com/fetchframe/webextract-api/internal/webhook"
)

// DefaultTickInterval is how often Run invokes Tick absent config override.
const DefaultTickInterval = 30 * time.Second

// DefaultClaimLimit bounds how many due schedules a single tick dispatches.
const DefaultClaimLimit = 50

// Dispatcher enqueues a newly-created job for pickup by the queue worker.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Scheduler evaluates due schedules and dispatches one job per tick per
// schedule. Advance performs the compare-and-set so overlapping ticks
// (e.g. during a deploy) cannot dispatch the same instance twice.
type Scheduler struct {
	schedules  repository.ScheduleRepository
	jobs       repository.JobRepository
	keys       repository.APIKeyRepository
	dispatcher Dispatcher
	webhooks   *webhook.Dispatcher
	limit      int
	logger     *slog.Logger
}

// NewScheduler builds a Scheduler.
func NewScheduler(schedules repository.ScheduleRepository, jobs repository.JobRepository, keys repository.APIKeyRepository, dispatcher Dispatcher, webhooks *webhook.Dispatcher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		schedules:  schedules,
		jobs:       jobs,
		keys:       keys,
		dispatcher: dispatcher,
		webhooks:   webhooks,
		limit:      DefaultClaimLimit,
		logger:     logger,
	}
}

// Run ticks every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && s.logger != nil {
				s.logger.Error("schedule: tick failed", "error", err)
			}
		}
	}
}

// Tick selects due schedules and dispatches one job each, returning the
// number successfully dispatched.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	due, err := s.schedules.ClaimDue(ctx, now, s.limit)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, sched := range due {
		if s.dispatchOne(ctx, sched, now) {
			dispatched++
		}
	}
	return dispatched, nil
}

func (s *Scheduler) dispatchOne(ctx context.Context, sched *models.Schedule, now time.Time) bool {
	expr, err := Parse(sched.CronExpr)
	if err != nil {
		s.logError("invalid cron expression survived validation", sched.ID, err)
		return false
	}
	newNext := expr.Next(sched.NextRunAt)
	if newNext.IsZero() {
		s.logError("cron expression has no future occurrence", sched.ID, nil)
		return false
	}

	ok, err := s.schedules.Advance(ctx, sched.ID, sched.NextRunAt, newNext, now)
	if err != nil {
		s.logError("advance failed", sched.ID, err)
		return false
	}
	if !ok {
		// lost the compare-and-set race to a concurrent tick; the winner
		// already dispatched this occurrence.
		return false
	}

	job := &models.Job{
		ID:            ulid.Make().String(),
		OwnerKeyID:    sched.OwnerKeyID,
		Status:        models.JobStatusQueued,
		URL:           sched.URL,
		FieldsJSON:    sched.FieldsJSON,
		SchemaJSON:    sched.SchemaJSON,
		Instructions:  sched.Instructions,
		OptionsJSON:   sched.OptionsJSON,
		WebhookURL:    sched.WebhookURL,
		WebhookSecret: sched.WebhookSecret,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	failReason := s.consumeCredit(ctx, sched.OwnerKeyID)
	if failReason != "" {
		failedAt := now
		job.Status = models.JobStatusFailed
		job.ErrorMsg = failReason
		job.CompletedAt = &failedAt
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		s.logError("create job failed", sched.ID, err)
		return false
	}

	if job.Status == models.JobStatusFailed {
		if sched.WebhookURL != "" && s.webhooks != nil {
			s.webhooks.Send(ctx, sched.WebhookURL, sched.WebhookSecret, webhook.Payload{
				JobID:  job.ID,
				Status: string(job.Status),
				Error:  failReason,
			})
		}
		return true
	}

	if err := s.dispatcher.Enqueue(ctx, job.ID); err != nil {
		s.logError("enqueue failed", job.ID, err)
	}
	return true
}

// consumeCredit charges one credit against ownerKeyID and returns a
// human-readable failure reason, or "" on success (including for
// schedules with no owning key, e.g. anonymous-mode deployments).
func (s *Scheduler) consumeCredit(ctx context.Context, ownerKeyID string) string {
	if ownerKeyID == "" {
		return ""
	}
	key, err := s.keys.GetByID(ctx, ownerKeyID)
	if err != nil {
		return "failed to look up owning api key"
	}
	if key == nil || !key.IsActive {
		return "owning api key no longer exists or is revoked"
	}
	if _, err := s.keys.ConsumeCredits(ctx, key.KeyHash, 1); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			return "insufficient credits"
		}
		return "failed to charge credits"
	}
	return ""
}

func (s *Scheduler) logError(msg, id string, err error) {
	if s.logger == nil {
		return
	}
	if err != nil {
		s.logger.Error("schedule: "+msg, "schedule_id", id, "error", err)
	} else {
		s.logger.Error("schedule: "+msg, "schedule_id", id)
	}
}
