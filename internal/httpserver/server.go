// Package httpserver assembles the chi mux, the huma-typed API surface,
// and the raw handlers that need non-JSON responses or non-standard status
// codes, grounded on the teacher's router registration idiom.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/fetchframe/webextract-api/internal/artifact"
	"github.com/fetchframe/webextract-api/internal/auth"
	"github.com/fetchframe/webextract-api/internal/config"
	"github.com/fetchframe/webextract-api/internal/job"
	"github.com/fetchframe/webextract-api/internal/ratelimit"
	"github.com/fetchframe/webextract-api/internal/repository"
	"github.com/fetchframe/webextract-api/internal/schedule"
	"github.com/fetchframe/webextract-api/internal/webhook"
	"github.com/fetchframe/webextract-api/internal/worker"
)

// Deps bundles every collaborator the HTTP surface needs. Worker drives the
// synchronous /extract path inline as well as the background queue; it is
// the same instance whose Start method is run by the process that wires
// Deps together.
type Deps struct {
	Config    *config.Config
	Repos     *repository.Repositories
	Authn     *auth.Authenticator
	Limiter   ratelimit.Limiter
	Artifacts *artifact.Store
	Webhooks  *webhook.Dispatcher
	JobSvc    *job.Service
	Scheduler *schedule.Scheduler
	Worker    *worker.Worker
	Logger    *slog.Logger
}

// NewRouter builds the complete chi.Router: global middleware chain, the
// public group (health, openapi document), and the protected group carrying
// every route that requires a caller identity.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(stripVersionPrefix)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "x-api-key", "x-idempotency-key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Cache-Hit", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(bodySizeLimit(int64(deps.Config.MaxRequestSizeMB) * 1024 * 1024))
	r.Use(httprate.LimitByIP(600, time.Minute))

	humaCfg := newHumaConfig(deps.Config.BaseURL)
	api := humachi.New(r, humaCfg)

	huma.Get(api, "/health", newHealthHandler(deps.Config))

	r.Group(func(pr chi.Router) {
		pr.Use(requireAPIKey(deps.Authn, deps.Config.AnonymousMode))
		pr.Use(rateLimit(deps.Limiter, time.Minute))

		protectedCfg := newHumaConfig(deps.Config.BaseURL)
		protectedCfg.DocsPath = ""
		protectedCfg.OpenAPIPath = ""
		protectedCfg.SchemasPath = ""
		protectedAPI := humachi.New(pr, protectedCfg)

		h := &handlers{deps: deps}
		registerProtectedRoutes(protectedAPI, pr, h)
	})

	return r
}

// registerProtectedRoutes registers every caller-scoped route onto api (and,
// for the two raw handlers that stream non-JSON bodies, directly onto pr).
// Shared between NewRouter's auth-gated group and BuildDocAPI, which
// registers the same routes without the auth/rate-limit middleware so the
// generated OpenAPI document covers the full surface.
func registerProtectedRoutes(api huma.API, pr chi.Router, h *handlers) {
	huma.Get(api, "/jobs", h.listJobs)
	huma.Get(api, "/jobs/{id}", h.getJob)
	pr.Get("/jobs/{id}/result", h.getJobResult)

	huma.Get(api, "/schedules", h.listSchedules)
	huma.Post(api, "/schedules", h.createSchedule)
	huma.Register(api, huma.Operation{Method: http.MethodPatch, Path: "/schedules/{id}"}, h.updateSchedule)
	huma.Delete(api, "/schedules/{id}", h.deleteSchedule)

	huma.Get(api, "/usage", h.getUsage)
	pr.Get("/usage/export", h.exportUsage)

	huma.Post(api, "/webhook/test", h.testWebhook)

	pr.Post("/extract", h.extract)
	pr.Post("/batch", h.batch)
}

// BuildDocAPI assembles the same route set as NewRouter, minus the
// auth/rate-limit middleware, onto a single documented huma API. It exists
// for the standalone OpenAPI generator, which needs the full surface in one
// spec even though the running server splits it across an undocumented
// protected instance to avoid exposing internal-only operations twice.
func BuildDocAPI(cfg *config.Config) huma.API {
	r := chi.NewRouter()
	humaCfg := newHumaConfig(cfg.BaseURL)
	api := humachi.New(r, humaCfg)

	huma.Get(api, "/health", newHealthHandler(cfg))

	h := &handlers{deps: Deps{Config: cfg}}
	registerProtectedRoutes(api, r, h)

	return api
}

// schedulerDispatcher adapts the worker's polling model to
// schedule.Dispatcher: a schedule's job row is already queued by the time
// Enqueue is called, so there is nothing left to do but satisfy the
// interface the scheduler was written against.
type schedulerDispatcher struct{}

func (schedulerDispatcher) Enqueue(ctx context.Context, jobID string) error {
	return nil
}

// NewScheduleDispatcher returns the no-op dispatcher used when wiring
// internal/schedule.Scheduler: the queue worker discovers newly queued jobs
// by polling JobRepository.ClaimPending, so no separate enqueue signal is
// needed.
func NewScheduleDispatcher() schedule.Dispatcher {
	return schedulerDispatcher{}
}
