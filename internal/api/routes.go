package api

import (
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates and configures the HTTP router. filesPrefix is the URL
// prefix recorded in stored file URLs; a relative prefix is served here.
func NewRouter(handlers *Handlers, authMiddleware *AuthMiddleware, loggingMiddleware *LoggingMiddleware, filesPrefix string) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - ORDER MATTERS!
	r.Use(middleware.RequestID)      // Generate request ID first
	r.Use(middleware.RealIP)         // Extract real IP
	r.Use(loggingMiddleware.Handler) // Add logger to context with request ID
	r.Use(middleware.Recoverer)      // Panic recovery

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health and metrics (no auth required)
	r.Get("/health", handlers.Health)
	r.Get("/health/detailed", handlers.HealthDetailed)
	r.Handle("/metrics", promhttp.Handler())

	if strings.HasPrefix(filesPrefix, "/") {
		r.Get(strings.TrimSuffix(filesPrefix, "/")+"/{stored_filename}", handlers.ServeStoredFile)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		// Queries
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/workflows", handlers.ListWorkflows)
			r.Get("/workflows/{workflow_id}/runs", handlers.ListRuns)
			r.Get("/workflows/{workflow_id}/summary", handlers.GetWorkflowSummary)
			r.Get("/summary", handlers.GetSummary)

			r.Get("/runs/{run_id}", handlers.GetRun)
			r.Get("/jobs/{job_id}/logs", handlers.GetJobLog)

			r.Get("/files/search", handlers.SearchFiles)
			r.Get("/files/{file_id}", handlers.GetFileContent)
			r.Get("/files/{file_id}/info", handlers.GetFileInfo)

			r.Get("/collector/status", handlers.CollectorStatus)
		})

		// Triggers run synchronously, without the query timeout
		r.Post("/runs/{run_id}/process", handlers.ProcessRun)
		r.Post("/collector/trigger", handlers.TriggerCollection)
	})

	return r
}
