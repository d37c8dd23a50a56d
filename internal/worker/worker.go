// Package worker implements the queue worker: an adaptive-backoff polling
// loop that claims queued jobs and runs them through the cache -> browser
// -> fallback -> LLM -> persist -> webhook pipeline.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fetchframe/webextract-api/internal/apperr"
	"github.com/fetchframe/webextract-api/internal/artifact"
	"github.com/fetchframe/webextract-api/internal/browser"
	"github.com/fetchframe/webextract-api/internal/cache"
	"github.com/fetchframe/webextract-api/internal/job"
	"github.com/fetchframe/webextract-api/internal/llm"
	"github.com/fetchframe/webextract-api/internal/models"
	"github.com/fetchframe/webextract-api/internal/repository"
	"github.com/fetchframe/webextract-api/internal/validation"
	"github.com/fetchframe/webextract-api/internal/webhook"
)

// ProviderConfig resolves the LLM provider/model/key a job should be
// extracted with. The API key owning a job may eventually carry its own
// BYOK override; today every job uses the process-wide primary/fallback
// configuration.
type ProviderConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	FallbackModels []string
	FallbackKeys   []string
}

// FallbackProxy is the optional second render attempt used when the
// primary browser adapter reports a blocked page.
type FallbackProxy struct {
	Client    *browser.Client
	Allowlist map[string]struct{} // owner key ids permitted to use it; empty = everyone
	Force     bool                // always attempt the fallback, even absent a block
}

// Config holds worker configuration.
type Config struct {
	PollInterval        time.Duration // base poll interval, reset after finding a job
	MaxPollInterval     time.Duration // max poll interval for backoff
	Concurrency         int
	ShutdownGracePeriod time.Duration // max time to wait for running jobs during shutdown
}

// Worker processes queued extraction jobs.
type Worker struct {
	jobs       repository.JobRepository
	logs       repository.LogRepository
	cacheSvc   *cache.Service
	browserCli *browser.Client
	fallback   *FallbackProxy
	llmAdapter *llm.Adapter
	provider   ProviderConfig
	artifacts  *artifact.Store
	webhooks   *webhook.Dispatcher

	basePollInterval    time.Duration
	maxPollInterval     time.Duration
	concurrency         int
	shutdownGracePeriod time.Duration

	stop         chan struct{}
	wg           sync.WaitGroup
	activeJobs   int64
	activeJobsMu sync.Mutex
	logger       *slog.Logger
}

// New creates a new Worker.
func New(
	jobs repository.JobRepository,
	logs repository.LogRepository,
	cacheSvc *cache.Service,
	browserCli *browser.Client,
	fallback *FallbackProxy,
	llmAdapter *llm.Adapter,
	provider ProviderConfig,
	artifacts *artifact.Store,
	webhooks *webhook.Dispatcher,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPollInterval == 0 {
		cfg.MaxPollInterval = 30 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 3
	}
	if cfg.ShutdownGracePeriod == 0 {
		cfg.ShutdownGracePeriod = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		jobs:                jobs,
		logs:                logs,
		cacheSvc:            cacheSvc,
		browserCli:          browserCli,
		fallback:            fallback,
		llmAdapter:          llmAdapter,
		provider:            provider,
		artifacts:           artifacts,
		webhooks:            webhooks,
		basePollInterval:    cfg.PollInterval,
		maxPollInterval:     cfg.MaxPollInterval,
		concurrency:         cfg.Concurrency,
		shutdownGracePeriod: cfg.ShutdownGracePeriod,
		stop:                make(chan struct{}),
		logger:              logger.With("component", "worker"),
	}
}

// Start begins processing jobs with the configured concurrency.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting",
		"concurrency", w.concurrency,
		"base_poll_interval", w.basePollInterval,
		"max_poll_interval", w.maxPollInterval,
	)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i)
	}
}

// ActiveJobs returns the number of jobs currently being processed.
func (w *Worker) ActiveJobs() int64 {
	w.activeJobsMu.Lock()
	defer w.activeJobsMu.Unlock()
	return w.activeJobs
}

// Stop gracefully stops the worker, waiting for active jobs up to the
// configured grace period.
func (w *Worker) Stop() {
	w.logger.Info("stopping, waiting for active jobs to complete", "grace_period", w.shutdownGracePeriod)
	close(w.stop)

	deadline := time.Now().Add(w.shutdownGracePeriod)
	for time.Now().Before(deadline) {
		if w.ActiveJobs() == 0 {
			w.logger.Info("all active jobs completed")
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if remaining := w.ActiveJobs(); remaining > 0 {
		w.logger.Warn("shutdown grace period exceeded, some jobs may be interrupted", "remaining_jobs", remaining)
	}

	w.wg.Wait()
	w.logger.Info("stopped")
}

func (w *Worker) runWorker(ctx context.Context, workerID int) {
	defer w.wg.Done()

	currentInterval := w.basePollInterval
	timer := time.NewTimer(currentInterval)
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			if w.processNextJob(ctx, workerID) {
				currentInterval = w.basePollInterval
			} else {
				currentInterval *= 2
				if currentInterval > w.maxPollInterval {
					currentInterval = w.maxPollInterval
				}
			}
			timer.Reset(currentInterval)
		}
	}
}

// processNextJob claims and runs the next queued job. Returns true if a
// job was found, regardless of whether it ultimately succeeded.
func (w *Worker) processNextJob(ctx context.Context, workerID int) bool {
	j, err := w.jobs.ClaimPending(ctx)
	if err != nil {
		w.logger.Error("failed to claim job", "worker_id", workerID, "error", err)
		return false
	}
	if j == nil {
		return false
	}

	w.activeJobsMu.Lock()
	w.activeJobs++
	w.activeJobsMu.Unlock()
	defer func() {
		w.activeJobsMu.Lock()
		w.activeJobs--
		w.activeJobsMu.Unlock()
	}()

	w.logger.Info("processing job", "worker_id", workerID, "job_id", j.ID, "url", j.URL)
	w.runJob(ctx, j)
	return true
}

// RunOutcome reports the one fact about a finished run that a caller
// driving it synchronously needs but can't read off the job row: whether
// the result came from the cache rather than a fresh render+extract.
type RunOutcome struct {
	CacheHit bool
}

// RunNow executes the pipeline against an already-persisted job
// synchronously and returns once a terminal state has been reached. It is
// the same code path processNextJob drives for queued jobs, exported so
// the HTTP layer can run a job inline for a synchronous /extract request.
func (w *Worker) RunNow(ctx context.Context, j *models.Job) RunOutcome {
	return w.runJob(ctx, j)
}

// runJob executes the pipeline from spec §4.10 against j, acking (i.e.
// persisting a terminal state) no matter the outcome.
func (w *Worker) runJob(ctx context.Context, j *models.Job) RunOutcome {
	start := time.Now()
	job.MarkProcessing(j, start)
	if err := w.jobs.Update(ctx, j); err != nil {
		w.logger.Error("failed to flip job to processing", "job_id", j.ID, "error", err)
		return RunOutcome{}
	}

	fields, schema, instructions, opts := w.decodeRequest(j)

	if w.cacheSvc != nil {
		fp := cache.Fingerprint(cache.FingerprintInput{URL: j.URL, Fields: fields, Schema: schema, Instructions: instructions})
		if hit, err := w.cacheSvc.Lookup(ctx, fp); err != nil {
			w.logger.Warn("cache lookup failed", "job_id", j.ID, "error", err)
		} else if hit != nil {
			w.completeFromCache(ctx, j, hit, start)
			return RunOutcome{CacheHit: true}
		} else {
			w.logEvent(ctx, "cache_miss", j.ID, nil)
		}
	}

	result, blocked, err := w.renderWithFallback(ctx, j, opts)
	if err != nil {
		w.failJob(ctx, j, err, start)
		return RunOutcome{}
	}
	if blocked {
		w.blockJob(ctx, j, start)
		return RunOutcome{}
	}

	extracted, err := w.llmAdapter.Extract(ctx, llm.ExtractInput{
		Provider:       w.provider.Provider,
		Model:          w.provider.Model,
		APIKey:         w.provider.APIKey,
		BaseURL:        w.provider.BaseURL,
		Content:        result.Content,
		Fields:         fields,
		Schema:         schema,
		Instructions:   instructions,
		FallbackModels: w.provider.FallbackModels,
		FallbackKeys:   w.provider.FallbackKeys,
	})
	if err != nil {
		w.failJob(ctx, j, err, start)
		return RunOutcome{}
	}

	w.completeJob(ctx, j, result, extracted, start)
	return RunOutcome{}
}

func (w *Worker) decodeRequest(j *models.Job) (fields []string, schema interface{}, instructions string, opts browser.Options) {
	if j.FieldsJSON != "" {
		_ = json.Unmarshal([]byte(j.FieldsJSON), &fields)
	}
	if j.SchemaJSON != "" {
		_ = json.Unmarshal([]byte(j.SchemaJSON), &schema)
	}
	instructions = j.Instructions

	var wireOpts validation.ExtractOptions
	if j.OptionsJSON != "" {
		_ = json.Unmarshal([]byte(j.OptionsJSON), &wireOpts)
	}
	opts = browser.Options{WaitUntil: wireOpts.WaitUntil, TimeoutMs: wireOpts.TimeoutMs, Screenshot: wireOpts.Screenshot}
	return
}

// renderWithFallback calls the primary browser adapter, and when it
// reports a blocked page, retries through the optional fallback proxy if
// it is enabled and allowed for the job's owning key.
func (w *Worker) renderWithFallback(ctx context.Context, j *models.Job, opts browser.Options) (*browser.Result, bool, error) {
	if err := validation.ResolveAndCheckSSRF(j.URL); err != nil {
		return nil, false, err
	}

	result, err := w.browserCli.Render(ctx, j.ID, j.URL, opts)
	if err != nil {
		return nil, false, err
	}

	if !result.Blocked {
		return result, false, nil
	}

	if !w.fallbackAllowed(j.OwnerKeyID) {
		return result, true, nil
	}

	w.logEvent(ctx, "proxy_grid_fallback", j.ID, nil)
	fbResult, fbErr := w.fallback.Client.Render(ctx, j.ID, j.URL, opts)
	if fbErr != nil {
		// Fallback failure is not fatal: the primary result (blocked) stands.
		w.logger.Warn("fallback proxy render failed", "job_id", j.ID, "error", fbErr)
		return result, true, nil
	}
	return fbResult, fbResult.Blocked, nil
}

func (w *Worker) fallbackAllowed(ownerKeyID string) bool {
	if w.fallback == nil || w.fallback.Client == nil {
		return false
	}
	if w.fallback.Force {
		return true
	}
	if len(w.fallback.Allowlist) == 0 {
		return true
	}
	_, ok := w.fallback.Allowlist[ownerKeyID]
	return ok
}

func (w *Worker) completeFromCache(ctx context.Context, j *models.Job, hit *cache.Result, start time.Time) {
	now := time.Now()
	job.MarkCompleted(j, hit.Entry.ResultPath, hit.Entry.TokenUsage, int(now.Sub(start).Milliseconds()), now)
	if err := w.jobs.Update(ctx, j); err != nil {
		w.logger.Error("failed to persist cache-hit completion", "job_id", j.ID, "error", err)
	}
	w.logEvent(ctx, "cache_hit", j.ID, map[string]interface{}{"age_ms": hit.AgeMs})
	w.writeScrapeLog(ctx, j, hit.Entry.ResultPath, "")
	w.deliverWebhook(ctx, j)
}

func (w *Worker) blockJob(ctx context.Context, j *models.Job, start time.Time) {
	now := time.Now()
	job.MarkBlocked(j, int(now.Sub(start).Milliseconds()), now)
	if err := w.jobs.Update(ctx, j); err != nil {
		w.logger.Error("failed to persist blocked job", "job_id", j.ID, "error", err)
	}
	w.writeScrapeLog(ctx, j, "", "")
	w.deliverWebhook(ctx, j)
}

func (w *Worker) failJob(ctx context.Context, j *models.Job, cause error, start time.Time) {
	now := time.Now()
	sanitized := apperr.Sanitize(cause.Error())
	job.MarkFailed(j, sanitized, int(now.Sub(start).Milliseconds()), now)
	if err := w.jobs.Update(ctx, j); err != nil {
		w.logger.Error("failed to persist failed job", "job_id", j.ID, "error", err)
	}
	w.writeScrapeLog(ctx, j, "", "")
	w.deliverWebhook(ctx, j)
}

func (w *Worker) completeJob(ctx context.Context, j *models.Job, result *browser.Result, extracted llm.ExtractOutput, start time.Time) {
	now := time.Now()
	resultPath := artifact.ResultKey(j.ID)

	resultBody, err := json.Marshal(map[string]interface{}{"data": extracted.Data, "url": j.URL})
	if err != nil {
		w.failJob(ctx, j, err, start)
		return
	}
	var logBlobKey string
	if w.artifacts != nil {
		if err := w.artifacts.Put(ctx, resultPath, resultBody, "application/json"); err != nil {
			w.failJob(ctx, j, err, start)
			return
		}
		if result.Content != "" {
			logBlobKey = artifact.ContentKey(j.ID)
			_ = w.artifacts.Put(ctx, logBlobKey, []byte(result.Content), "text/plain")
		}
		if len(result.Screenshot) > 0 {
			ext := screenshotExt(result.ScreenshotType)
			_ = w.artifacts.Put(ctx, artifact.ScreenshotKey(j.ID, ext), result.Screenshot, result.ScreenshotType)
		}
	}

	job.MarkCompleted(j, resultPath, extracted.Usage.TotalTokens, int(now.Sub(start).Milliseconds()), now)
	if err := w.jobs.Update(ctx, j); err != nil {
		w.logger.Error("failed to persist completed job", "job_id", j.ID, "error", err)
	}

	if w.cacheSvc != nil {
		fields, schema, instructions, _ := w.decodeRequest(j)
		fp := cache.Fingerprint(cache.FingerprintInput{URL: j.URL, Fields: fields, Schema: schema, Instructions: instructions})
		if err := w.cacheSvc.Store(ctx, fp, resultPath, extracted.Usage.TotalTokens, len(result.Content)); err != nil {
			w.logger.Warn("failed to store cache entry", "job_id", j.ID, "error", err)
		} else {
			w.logEvent(ctx, "cache_store", j.ID, nil)
		}
	}

	w.writeScrapeLog(ctx, j, resultPath, logBlobKey)
	w.deliverWebhook(ctx, j)
}

func screenshotExt(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	default:
		return "webp"
	}
}

func (w *Worker) writeScrapeLog(ctx context.Context, j *models.Job, resultBlobKey, logBlobKey string) {
	if w.logs == nil {
		return
	}
	log := &models.ScrapeLog{
		ID:            ulid.Make().String(),
		JobID:         j.ID,
		URL:           j.URL,
		Status:        j.Status,
		TokenUsage:    j.TokenUsage,
		LatencyMs:     j.LatencyMs,
		LogBlobKey:    logBlobKey,
		ResultBlobKey: resultBlobKey,
		CreatedAt:     time.Now().UTC(),
	}
	if err := w.logs.CreateScrapeLog(ctx, log); err != nil {
		w.logger.Warn("failed to write scrape log", "job_id", j.ID, "error", err)
	}
}

func (w *Worker) logEvent(ctx context.Context, eventType, jobID string, data map[string]interface{}) {
	if w.logs == nil {
		return
	}
	var dataJSON string
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			dataJSON = string(b)
		}
	}
	event := &models.EventLog{
		ID:        ulid.Make().String(),
		EventType: eventType,
		JobID:     jobID,
		DataJSON:  dataJSON,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.logs.CreateEvent(ctx, event); err != nil {
		w.logger.Warn("failed to write event log", "job_id", jobID, "event_type", eventType, "error", err)
	}
}

func (w *Worker) deliverWebhook(ctx context.Context, j *models.Job) {
	if j.WebhookURL == "" || w.webhooks == nil {
		return
	}
	payload := webhook.Payload{
		JobID:      j.ID,
		Status:     string(j.Status),
		ResultPath: j.ResultPath,
		Error:      j.ErrorMsg,
	}
	w.webhooks.Send(ctx, j.WebhookURL, j.WebhookSecret, payload)
}
