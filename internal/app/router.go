package app

import (
	"database/sql"
	"net/http"
	"time"

	"lmsquiz/internal/app/apiresp"
	"lmsquiz/internal/app/observability"
	"lmsquiz/internal/attempt"
	"lmsquiz/internal/auth"
	"lmsquiz/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Backend is the storage the router serves from. DB is nil for the memory
// backend.
type Backend struct {
	Attempts attempt.Repository
	Catalog  attempt.Catalog
	DB       *sql.DB
}

func NewRouter(cfg Config, backend Backend) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	metrics := observability.NewCollector(backend.DB)
	r.Use(metrics.Middleware)

	verifier := auth.NewTokenVerifier(cfg.JWTSecret, cfg.JWTLeeway)
	limiter := NewIPRateLimiter(cfg.AttemptRateMax, time.Minute)

	lifecycle := attempt.NewLifecycle(backend.Attempts, backend.Catalog, metrics)
	query := attempt.NewQuery(backend.Attempts, backend.Catalog, lifecycle)
	attemptHandler := attempt.NewHandler(lifecycle, query, cfg.DefaultPageLimit)
	reportHandler := report.NewHandler(report.NewService(query, backend.Catalog))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", metrics.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(verifier.RequireAuth)

		api.Group(func(attempts chi.Router) {
			attempts.Use(RateLimitMiddleware(limiter))
			attempts.Post("/quiz-attempts", attemptHandler.Create)
			attempts.Get("/quiz-attempts", attemptHandler.List)
			attempts.Get("/quiz-attempts/{id}", attemptHandler.Get)
			attempts.Patch("/quiz-attempts/{id}", attemptHandler.Update)
			attempts.With(auth.RequireRoles(auth.RoleAdmin)).Delete("/quiz-attempts/{id}", attemptHandler.Delete)
		})
		api.Get("/quizzes/progress", attemptHandler.Progress)

		api.Group(func(admin chi.Router) {
			admin.Use(auth.RequireRoles(auth.RoleAdmin))
			admin.Get("/reports/quizzes/{id}/summary", reportHandler.Summary)
			admin.Get("/reports/quizzes/{id}/export", reportHandler.Export)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusNotFound, "route not found")
	})

	return r
}
