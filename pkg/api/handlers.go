package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/qaops/testoor/pkg/aggregate"
)

// errorResponse is the standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// decodeJSON parses the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid JSON body"})

		return false
	}

	return true
}

// daysParam reads and clamps the rolling-window query parameter.
func daysParam(r *http.Request) int {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return aggregate.DefaultWindowDays
	}

	days, err := strconv.Atoi(raw)
	if err != nil {
		return aggregate.DefaultWindowDays
	}

	return aggregate.ClampDays(days)
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListEnvironments returns the configured target environments.
func (s *server) handleListEnvironments(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, map[string]any{
		"environments": s.environments,
	})
}
