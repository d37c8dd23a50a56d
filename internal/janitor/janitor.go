// Package janitor implements the retention sweep from spec §4.14: periodic
// deletion of rows and blobs past their configured retention window. It is
// safe to re-run. The expiry and log deletes are bounded by a batch size;
// the old-job delete and the blob purges are not batched.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/fetchframe/webextract-api/internal/artifact"
	"github.com/fetchframe/webextract-api/internal/repository"
)

// deleteBatchSize bounds each DeleteExpired call and each scrape/event log
// purge per tick. The job purge (DeleteOlderThan) takes no limit.
const deleteBatchSize = 500

// Config controls how far back each retention window reaches.
type Config struct {
	JobMaxAge       time.Duration // paired with CacheTTL-scale defaults; applies to terminal jobs
	LogMaxAge       time.Duration
	Interval        time.Duration
}

// Janitor sweeps expired cache entries, idempotency entries, rate-limit
// rows, log rows, old jobs, and their associated blobs.
type Janitor struct {
	jobs        repository.JobRepository
	cache       repository.CacheRepository
	idempotency repository.IdempotencyRepository
	rateLimit   repository.RateLimitRepository
	logs        repository.LogRepository
	artifacts   *artifact.Store
	cfg         Config
	logger      *slog.Logger
}

// New builds a Janitor. artifacts may be nil in deployments with no blob
// store configured, in which case blob purges are skipped.
func New(
	jobs repository.JobRepository,
	cache repository.CacheRepository,
	idempotency repository.IdempotencyRepository,
	rateLimit repository.RateLimitRepository,
	logs repository.LogRepository,
	artifacts *artifact.Store,
	cfg Config,
	logger *slog.Logger,
) *Janitor {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		jobs:        jobs,
		cache:       cache,
		idempotency: idempotency,
		rateLimit:   rateLimit,
		logs:        logs,
		artifacts:   artifacts,
		cfg:         cfg,
		logger:      logger.With("component", "janitor"),
	}
}

// Run sweeps immediately and then on every tick of cfg.Interval until ctx
// is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	j.logger.Info("starting scheduled retention sweep", "interval", j.cfg.Interval)
	j.Sweep(ctx)

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("retention sweep stopped")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass across every table and blob prefix,
// logging but not aborting on a single collaborator's failure.
func (j *Janitor) Sweep(ctx context.Context) {
	now := time.Now()

	if j.cache != nil {
		if n, err := j.cache.DeleteExpired(ctx, now, deleteBatchSize); err != nil {
			j.logger.Error("failed to purge expired cache entries", "error", err)
		} else if n > 0 {
			j.logger.Info("purged expired cache entries", "count", n)
		}
	}

	if j.idempotency != nil {
		if n, err := j.idempotency.DeleteExpired(ctx, now, deleteBatchSize); err != nil {
			j.logger.Error("failed to purge expired idempotency entries", "error", err)
		} else if n > 0 {
			j.logger.Info("purged expired idempotency entries", "count", n)
		}
	}

	if j.rateLimit != nil {
		if n, err := j.rateLimit.DeleteExpired(ctx, now, deleteBatchSize); err != nil {
			j.logger.Error("failed to purge expired rate-limit rows", "error", err)
		} else if n > 0 {
			j.logger.Info("purged expired rate-limit rows", "count", n)
		}
	}

	if j.logs != nil && j.cfg.LogMaxAge > 0 {
		logCutoff := now.Add(-j.cfg.LogMaxAge)
		if n, err := j.logs.DeleteScrapeLogsOlderThan(ctx, logCutoff, deleteBatchSize); err != nil {
			j.logger.Error("failed to purge old scrape logs", "error", err)
		} else if n > 0 {
			j.logger.Info("purged old scrape logs", "count", n)
		}
		if n, err := j.logs.DeleteEventsOlderThan(ctx, logCutoff, deleteBatchSize); err != nil {
			j.logger.Error("failed to purge old event logs", "error", err)
		} else if n > 0 {
			j.logger.Info("purged old event logs", "count", n)
		}
	}

	if j.jobs != nil && j.cfg.JobMaxAge > 0 {
		jobCutoff := now.Add(-j.cfg.JobMaxAge)
		deletedIDs, err := j.jobs.DeleteOlderThan(ctx, jobCutoff)
		if err != nil {
			j.logger.Error("failed to purge old jobs", "error", err)
		} else if len(deletedIDs) > 0 {
			j.logger.Info("purged old jobs", "count", len(deletedIDs))
			j.purgeJobBlobs(ctx, deletedIDs)
		}
	}

	if j.artifacts != nil {
		if j.cfg.JobMaxAge > 0 {
			resultCutoff := now.Add(-j.cfg.JobMaxAge)
			for _, prefix := range []string{"results/", "logs/"} {
				if n, err := j.artifacts.PurgeOlderThan(ctx, prefix, resultCutoff); err != nil {
					j.logger.Error("failed to purge old blobs", "prefix", prefix, "error", err)
				} else if n > 0 {
					j.logger.Info("purged old blobs", "prefix", prefix, "count", n)
				}
			}
		}
		if j.cfg.LogMaxAge > 0 {
			// Cache rows carry their own expires_at, already enforced above
			// by DeleteExpired; this only reclaims blobs left orphaned by a
			// row eviction, so it uses the same long-tail window as logs
			// rather than the cache TTL itself.
			cacheCutoff := now.Add(-j.cfg.LogMaxAge)
			if n, err := j.artifacts.PurgeOlderThan(ctx, "cache/", cacheCutoff); err != nil {
				j.logger.Error("failed to purge orphaned cache blobs", "error", err)
			} else if n > 0 {
				j.logger.Info("purged orphaned cache blobs", "count", n)
			}
		}
	}
}

// purgeJobBlobs best-effort deletes the result and content blobs belonging
// to jobs already removed from the tabular store. A miss is expected for
// jobs that never wrote one of these blob kinds; screenshot blobs are
// reclaimed by the prefix-based logs/ sweep above since their extension
// varies and is not recoverable from the job id alone.
func (j *Janitor) purgeJobBlobs(ctx context.Context, jobIDs []string) {
	if j.artifacts == nil {
		return
	}
	for _, id := range jobIDs {
		_ = j.artifacts.Delete(ctx, artifact.ResultKey(id))
		_ = j.artifacts.Delete(ctx, artifact.ContentKey(id))
	}
}
