// Package main is the entry point for the webextract-api server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fetchframe/webextract-api/internal/artifact"
	"github.com/fetchframe/webextract-api/internal/auth"
	"github.com/fetchframe/webextract-api/internal/browser"
	"github.com/fetchframe/webextract-api/internal/cache"
	"github.com/fetchframe/webextract-api/internal/config"
	"github.com/fetchframe/webextract-api/internal/database"
	"github.com/fetchframe/webextract-api/internal/httpserver"
	"github.com/fetchframe/webextract-api/internal/janitor"
	"github.com/fetchframe/webextract-api/internal/job"
	"github.com/fetchframe/webextract-api/internal/llm"
	"github.com/fetchframe/webextract-api/internal/logging"
	"github.com/fetchframe/webextract-api/internal/ratelimit"
	"github.com/fetchframe/webextract-api/internal/repository"
	"github.com/fetchframe/webextract-api/internal/schedule"
	"github.com/fetchframe/webextract-api/internal/shutdown"
	"github.com/fetchframe/webextract-api/internal/version"
	"github.com/fetchframe/webextract-api/internal/webhook"
	"github.com/fetchframe/webextract-api/internal/worker"
)

func main() {
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting webextract-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	schemaVersion, err := database.GetLatestSchemaVersion(db)
	if err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		migrationCount, _ := database.GetMigrationCount(db)
		logger.Info("database schema ready", "schema_version", schemaVersion, "migrations_applied", migrationCount)
	}

	repos := repository.NewRepositories(db)

	ctx, cancel := context.WithCancel(context.Background())

	authn := auth.NewAuthenticator(repos.APIKey)

	var cacheSvc *cache.Service
	if cfg.CacheEnabled {
		cacheSvc = cache.NewService(repos.Cache, cfg.CacheTTL, logger)
	}

	// rateLimit middleware always calls Allow, so the limiter is never nil:
	// RateLimitEnabled only chooses the backing store, not whether limiting
	// happens at all.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewRepositoryLimiter(repos.RateLimit)
	} else {
		limiter = ratelimit.NewInProcessLimiter(time.Minute)
	}

	browserCli := browser.NewClient(cfg.BrowserServiceURL, cfg.BrowserSecret, cfg.BrowserTimeout, cfg.MaxContentChars, logger)

	var fallback *worker.FallbackProxy
	if cfg.FallbackProxyEnabled && cfg.FallbackProxyURL != "" {
		allowlist := make(map[string]struct{}, len(cfg.FallbackProxyAllowlist))
		for _, id := range cfg.FallbackProxyAllowlist {
			allowlist[id] = struct{}{}
		}
		fallback = &worker.FallbackProxy{
			Client:    browser.NewClient(cfg.FallbackProxyURL, cfg.FallbackProxySecret, cfg.BrowserTimeout, cfg.MaxContentChars, logger),
			Allowlist: allowlist,
			Force:     cfg.FallbackProxyForce,
		}
	}

	llmAdapter := llm.NewAdapter(cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerOpenTimeout)
	provider := worker.ProviderConfig{
		Provider: cfg.PrimaryProvider,
		Model:    cfg.PrimaryModel,
		APIKey:   apiKeyForProvider(cfg, cfg.PrimaryProvider),
	}
	if cfg.FallbackProvider != "" {
		provider.FallbackModels = []string{cfg.FallbackModel}
		provider.FallbackKeys = []string{apiKeyForProvider(cfg, cfg.FallbackProvider)}
	}

	artifacts, err := artifact.NewStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize artifact store", "error", err)
		os.Exit(1)
	}

	webhooks := webhook.NewDispatcher(repos.WebhookDeadLetter, cfg.WebhookDefaultSecret, logger)

	jobWorker := worker.New(
		repos.Job,
		repos.Log,
		cacheSvc,
		browserCli,
		fallback,
		llmAdapter,
		provider,
		artifacts,
		webhooks,
		worker.Config{
			PollInterval:        cfg.WorkerPollInterval,
			MaxPollInterval:     cfg.WorkerMaxPollInterval,
			Concurrency:         cfg.WorkerConcurrency,
			ShutdownGracePeriod: cfg.WorkerShutdownGracePeriod,
		},
		logger,
	)
	jobWorker.Start(ctx)

	scheduler := schedule.NewScheduler(repos.Schedule, repos.Job, repos.APIKey, httpserver.NewScheduleDispatcher(), webhooks, logger)
	go scheduler.Run(ctx, cfg.ScheduleTickInterval)

	if cfg.CleanupEnabled {
		retentionJanitor := janitor.New(
			repos.Job,
			repos.Cache,
			repos.Idempotency,
			repos.RateLimit,
			repos.Log,
			artifacts,
			janitor.Config{
				JobMaxAge: cfg.CleanupMaxAgeResults,
				LogMaxAge: cfg.CleanupMaxAgeLogs,
				Interval:  cfg.CleanupInterval,
			},
			logger,
		)
		go retentionJanitor.Run(ctx)
		logger.Info("retention janitor started",
			"job_max_age", cfg.CleanupMaxAgeResults.String(),
			"log_max_age", cfg.CleanupMaxAgeLogs.String(),
			"interval", cfg.CleanupInterval.String(),
		)
	}

	router := httpserver.NewRouter(httpserver.Deps{
		Config:    cfg,
		Repos:     repos,
		Authn:     authn,
		Limiter:   limiter,
		Artifacts: artifacts,
		Webhooks:  webhooks,
		JobSvc:    job.NewService(repos.Job),
		Scheduler: scheduler,
		Worker:    jobWorker,
		Logger:    logger,
	})

	idleMonitor := shutdown.NewIdleMonitor(shutdown.IdleMonitorConfig{
		Timeout:      cfg.IdleTimeout,
		Logger:       logger,
		ExcludePaths: []string{"/health"},
		BackgroundWorkCheck: func() bool {
			return jobWorker.ActiveJobs() > 0
		},
	})
	idleMonitor.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      idleMonitor.Middleware(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-sigChan:
			logger.Info("shutting down server")
		case <-idleMonitor.ShutdownChan():
			logger.Info("shutting down server due to idle timeout")
		}
		idleMonitor.Stop()

		cancel()
		jobWorker.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL, "anonymous_mode", cfg.AnonymousMode)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// apiKeyForProvider resolves the configured API key for a named LLM
// provider; the worker's ProviderConfig carries a single resolved key per
// slot rather than the whole provider/key map.
func apiKeyForProvider(cfg *config.Config, providerName string) string {
	switch providerName {
	case "anthropic":
		return cfg.AnthropicAPIKey
	case "openai":
		return cfg.OpenAIAPIKey
	case "openrouter":
		return cfg.OpenRouterAPIKey
	default:
		return ""
	}
}
