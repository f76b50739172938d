package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/qaops/testoor/pkg/store"
)

// handleListTests lists active catalog rows, optionally filtered by a
// folder prefix or any-of-tags.
func (s *server) handleListTests(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	var tags []string
	if raw := r.URL.Query().Get("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}

	tests, err := s.store.ListTests(r.Context(), prefix, tags)
	if err != nil {
		s.log.WithError(err).Error("Failed to list tests")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to list tests"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tests": tests})
}

// handleGetTest returns one catalog row by its testKey.
func (s *server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	testKey := chi.URLParam(r, "testKey")

	td, err := s.store.GetTestByKey(r.Context(), testKey)
	if err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"test not found"})

		return
	}

	writeJSON(w, http.StatusOK, td)
}

// handleListTags returns the distinct tag union across active tests.
func (s *server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list tags")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to list tags"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

// handleListFolders returns the distinct folder paths of active tests.
func (s *server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.store.ListFolders(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list folders")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to list folders"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

// handleSetOverrides atomically replaces a test's overrides payload.
func (s *server) handleSetOverrides(w http.ResponseWriter, r *http.Request) {
	testKey := chi.URLParam(r, "testKey")

	var overrides store.ConfigSet
	if !decodeJSON(w, r, &overrides) {
		return
	}

	err := s.store.SetTestOverrides(r.Context(), testKey, &overrides)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"test not found"})

		return
	}

	if err != nil {
		s.log.WithError(err).Error("Failed to set overrides")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to set overrides"})

		return
	}

	td, err := s.store.GetTestByKey(r.Context(), testKey)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to re-read test"})

		return
	}

	writeJSON(w, http.StatusOK, td)
}
