package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.requestMetrics)
	r.Use(s.corsMiddleware())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/environments", s.handleListEnvironments)

		// Catalog.
		r.Route("/tests", func(r chi.Router) {
			r.Get("/", s.handleListTests)
			r.Get("/tags", s.handleListTags)
			r.Get("/folders", s.handleListFolders)
			r.Get("/{testKey}", s.handleGetTest)
			r.Put("/{testKey}/overrides", s.handleSetOverrides)
		})

		// Runs, live polling, artifacts.
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleCreateRun)
			r.Get("/", s.handleListRuns)
			r.Get("/{runID}", s.handleGetRun)
			r.Post("/{runID}/cancel", s.handleCancelRun)

			r.Route("/{runID}/tests/{testKey}", func(r chi.Router) {
				r.Get("/logs", s.handleTestLogs)
				r.Get("/screenshot", s.handleTestScreenshot)
				r.Get("/artifacts/{filename}", s.handleTestArtifact)
			})
		})

		// Schedules.
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Post("/", s.handleCreateSchedule)
			r.Get("/{scheduleID}", s.handleGetSchedule)
			r.Put("/{scheduleID}", s.handleUpdateSchedule)
			r.Delete("/{scheduleID}", s.handleDeleteSchedule)
		})

		// Dashboard read models.
		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/active-runs", s.handleActiveRuns)
			r.Get("/pass-rate", s.handlePassRate)
			r.Get("/executions", s.handleExecutions)
			r.Get("/flaky-tests", s.handleFlakyTests)
			r.Get("/environment-health", s.handleEnvironmentHealth)
			r.Get("/tests/{testKey}/stats", s.handleTestStats)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// corsMiddleware reflects any origin; the dashboard is same-origin but
// local development runs the SPA off a dev server.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedMethods: []string{
			"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS",
		},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
		AllowOriginFunc: func(_ *http.Request, _ string) bool {
			return true
		},
	})
}
