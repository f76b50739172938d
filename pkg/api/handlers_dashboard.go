package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleActiveRuns returns live queue counts and per-run progress.
func (s *server) handleActiveRuns(w http.ResponseWriter, r *http.Request) {
	active, err := s.engine.GetActiveRuns(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to compute active runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to compute active runs"})

		return
	}

	writeJSON(w, http.StatusOK, active)
}

// handlePassRate returns the windowed pass rate with trend.
func (s *server) handlePassRate(w http.ResponseWriter, r *http.Request) {
	rate, err := s.engine.GetPassRate(r.Context(), daysParam(r))
	if err != nil {
		s.log.WithError(err).Error("Failed to compute pass rate")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to compute pass rate"})

		return
	}

	writeJSON(w, http.StatusOK, rate)
}

// handleExecutions returns windowed run counts grouped by environment.
func (s *server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	executions, err := s.engine.GetExecutions(r.Context(), daysParam(r))
	if err != nil {
		s.log.WithError(err).Error("Failed to compute executions")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to compute executions"})

		return
	}

	writeJSON(w, http.StatusOK, executions)
}

// handleFlakyTests returns tests classified as flaky in the window.
func (s *server) handleFlakyTests(w http.ResponseWriter, r *http.Request) {
	minExecutions, _ := strconv.Atoi(r.URL.Query().Get("minExecutions"))

	flaky, err := s.engine.GetFlakyTests(
		r.Context(), daysParam(r), minExecutions,
	)
	if err != nil {
		s.log.WithError(err).Error("Failed to compute flaky tests")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to compute flaky tests"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"flakyTests": flaky})
}

// handleEnvironmentHealth summarizes every configured environment.
func (s *server) handleEnvironmentHealth(
	w http.ResponseWriter, r *http.Request,
) {
	codes := make([]string, 0, len(s.environments))
	for _, env := range s.environments {
		codes = append(codes, env.Code)
	}

	health, err := s.engine.GetEnvironmentHealth(
		r.Context(), daysParam(r), codes,
	)
	if err != nil {
		s.log.WithError(err).Error("Failed to compute environment health")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to compute environment health"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"environments": health})
}

// handleTestStats returns the per-test drill-down.
func (s *server) handleTestStats(w http.ResponseWriter, r *http.Request) {
	testKey := chi.URLParam(r, "testKey")

	if _, err := s.store.GetTestByKey(r.Context(), testKey); err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"test not found"})

		return
	}

	stats, err := s.engine.GetTestStats(r.Context(), testKey, daysParam(r))
	if err != nil {
		s.log.WithError(err).Error("Failed to compute test stats")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to compute test stats"})

		return
	}

	writeJSON(w, http.StatusOK, stats)
}
