package api

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gorm.io/datatypes"

	"github.com/qaops/testoor/pkg/store"
)

type createRunRequest struct {
	TestKeys     []string       `json:"testKeys"`
	Environment  string         `json:"environment"`
	UserEmail    string         `json:"userEmail"`
	RunOverrides map[string]any `json:"runOverrides"`
}

// handleCreateRun validates the request, resolves testKeys to active
// definitions and enqueues the run. Unknown keys are logged and dropped;
// a fully empty resolution is rejected.
func (s *server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if len(req.TestKeys) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"testKeys is required"})

		return
	}

	if req.UserEmail == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"userEmail is required"})

		return
	}

	if !s.knownEnvironment(req.Environment) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			fmt.Sprintf("Unknown environment %s", req.Environment),
		})

		return
	}

	if !s.policy.Allowed(req.UserEmail, req.Environment) {
		writeJSON(w, http.StatusForbidden, errorResponse{
			fmt.Sprintf("User %s does not have access to environment %s",
				req.UserEmail, req.Environment),
		})

		return
	}

	tests, err := s.store.ListActiveTestsByKeys(r.Context(), req.TestKeys)
	if err != nil {
		s.log.WithError(err).Error("Failed to resolve test keys")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to resolve tests"})

		return
	}

	resolved := make(map[string]struct{}, len(tests))
	seeds := make([]store.RunTestSeed, 0, len(tests))

	for _, td := range tests {
		resolved[td.TestKey] = struct{}{}
		seeds = append(seeds, store.RunTestSeed{
			TestID:  td.ID,
			TestKey: td.TestKey,
		})
	}

	for _, key := range req.TestKeys {
		if _, ok := resolved[key]; !ok {
			s.log.WithField("test_key", key).
				Warn("Dropping unknown or inactive test key")
		}
	}

	if len(seeds) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"no active tests matched the given testKeys"})

		return
	}

	run := &store.Run{
		TriggerType:  store.TriggerManual,
		Environment:  req.Environment,
		TriggeredBy:  req.UserEmail,
		RunOverrides: datatypes.JSONMap(req.RunOverrides),
		Metadata: datatypes.JSONMap{
			"requestedTests": len(req.TestKeys),
			"resolvedTests":  len(seeds),
		},
	}

	if err := s.store.CreateRun(r.Context(), run, seeds); err != nil {
		s.log.WithError(err).Error("Failed to create run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to create run"})

		return
	}

	created, err := s.store.GetRunWithTests(r.Context(), run.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to re-read run"})

		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// handleListRuns lists runs with status/environment filters, paginated.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}

	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	runs, total, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Status:      q.Get("status"),
		Environment: q.Get("environment"),
		Page:        page,
		PageSize:    pageSize,
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to list runs"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":     runs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// handleGetRun returns a run with its tests.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRunWithTests(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"run not found"})

		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleCancelRun cancels a queued or running run. Cancelling a terminal
// run is a 400.
func (s *server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	cancelled, err := s.store.CancelRun(r.Context(), runID)
	if err != nil {
		s.log.WithError(err).Error("Failed to cancel run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to cancel run"})

		return
	}

	if !cancelled {
		if _, err := s.store.GetRun(r.Context(), runID); err != nil {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"run not found"})

			return
		}

		writeJSON(w, http.StatusBadRequest,
			errorResponse{"run is already in a terminal state"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type logsResponse struct {
	Content  string `json:"content"`
	Offset   int64  `json:"offset"`
	Finished bool   `json:"finished"`
}

// handleTestLogs serves the byte-offset console.log polling contract:
// the returned offset is what the caller sends back next.
func (s *server) handleTestLogs(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	testKey := chi.URLParam(r, "testKey")

	rt, err := s.store.GetRunTest(r.Context(), runID, testKey)
	if err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"test not found in run"})

		return
	}

	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)

	content, newOffset, err := s.artifacts.ReadLogAt(runID, testKey, offset)
	if err != nil {
		s.log.WithError(err).Error("Failed to read console log")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to read log"})

		return
	}

	finished := rt.Status == store.TestStatusPassed ||
		rt.Status == store.TestStatusFailed ||
		rt.Status == store.TestStatusSkipped

	writeJSON(w, http.StatusOK, logsResponse{
		Content:  string(content),
		Offset:   newOffset,
		Finished: finished,
	})
}

// handleTestScreenshot serves the driver's live.jpg; 404 until the driver
// writes one.
func (s *server) handleTestScreenshot(
	w http.ResponseWriter, r *http.Request,
) {
	runID := chi.URLParam(r, "runID")
	testKey := chi.URLParam(r, "testKey")

	path := s.artifacts.LiveScreenshotPath(runID, testKey)

	data, err := os.ReadFile(path)
	if err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"no live screenshot available"})

		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleTestArtifact serves one artifact file, rejecting traversal.
func (s *server) handleTestArtifact(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	testKey := chi.URLParam(r, "testKey")
	filename := chi.URLParam(r, "filename")

	path, err := s.artifacts.FilePath(runID, testKey, filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid artifact path"})

		return
	}

	if _, err := os.Stat(path); err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"artifact not found"})

		return
	}

	http.ServeFile(w, r, path)
}
