package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qaops/testoor/pkg/scheduler"
	"github.com/qaops/testoor/pkg/store"
)

type scheduleRequest struct {
	Name                string         `json:"name"`
	Cron                string         `json:"cron"`
	Enabled             *bool          `json:"enabled"`
	Environment         string         `json:"environment"`
	Selector            store.Selector `json:"selector"`
	DefaultRunOverrides map[string]any `json:"defaultRunOverrides"`
	UserEmail           string         `json:"userEmail"`
}

// validateScheduleRequest applies the shared create/update checks and
// writes the error response itself. Returns false when the request is
// rejected.
func (s *server) validateScheduleRequest(
	w http.ResponseWriter, req *scheduleRequest,
) bool {
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"name is required"})

		return false
	}

	if req.UserEmail == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"userEmail is required"})

		return false
	}

	if err := scheduler.ValidateCron(req.Cron); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return false
	}

	switch req.Selector.Type {
	case store.SelectorFolder, store.SelectorTags, store.SelectorExplicit:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{
			fmt.Sprintf("unknown selector type %q", req.Selector.Type),
		})

		return false
	}

	if !s.knownEnvironment(req.Environment) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			fmt.Sprintf("Unknown environment %s", req.Environment),
		})

		return false
	}

	if !s.policy.Allowed(req.UserEmail, req.Environment) {
		writeJSON(w, http.StatusForbidden, errorResponse{
			fmt.Sprintf("User %s does not have access to environment %s",
				req.UserEmail, req.Environment),
		})

		return false
	}

	return true
}

// handleCreateSchedule creates a schedule.
func (s *server) handleCreateSchedule(
	w http.ResponseWriter, r *http.Request,
) {
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if !s.validateScheduleRequest(w, &req) {
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	sched := &store.Schedule{
		Name:                req.Name,
		Cron:                req.Cron,
		Enabled:             enabled,
		Environment:         req.Environment,
		Selector:            datatypes.NewJSONType(req.Selector),
		DefaultRunOverrides: datatypes.JSONMap(req.DefaultRunOverrides),
		CreatedBy:           req.UserEmail,
		UpdatedBy:           req.UserEmail,
	}

	if err := s.store.CreateSchedule(r.Context(), sched); err != nil {
		s.log.WithError(err).Error("Failed to create schedule")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to create schedule"})

		return
	}

	writeJSON(w, http.StatusCreated, sched)
}

// handleListSchedules returns all schedules.
func (s *server) handleListSchedules(
	w http.ResponseWriter, r *http.Request,
) {
	scheds, err := s.store.ListSchedules(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list schedules")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to list schedules"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"schedules": scheds})
}

// handleGetSchedule returns one schedule.
func (s *server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.store.GetSchedule(r.Context(), chi.URLParam(r, "scheduleID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"schedule not found"})

		return
	}

	writeJSON(w, http.StatusOK, sched)
}

// handleUpdateSchedule replaces a schedule's mutable fields.
func (s *server) handleUpdateSchedule(
	w http.ResponseWriter, r *http.Request,
) {
	scheduleID := chi.URLParam(r, "scheduleID")

	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if !s.validateScheduleRequest(w, &req) {
		return
	}

	sched, err := s.store.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"schedule not found"})

		return
	}

	sched.Name = req.Name
	sched.Cron = req.Cron
	sched.Environment = req.Environment
	sched.Selector = datatypes.NewJSONType(req.Selector)
	sched.DefaultRunOverrides = datatypes.JSONMap(req.DefaultRunOverrides)
	sched.UpdatedBy = req.UserEmail

	if req.Enabled != nil {
		sched.Enabled = *req.Enabled
	}

	if err := s.store.UpdateSchedule(r.Context(), sched); err != nil {
		s.log.WithError(err).Error("Failed to update schedule")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to update schedule"})

		return
	}

	writeJSON(w, http.StatusOK, sched)
}

// handleDeleteSchedule removes a schedule.
func (s *server) handleDeleteSchedule(
	w http.ResponseWriter, r *http.Request,
) {
	err := s.store.DeleteSchedule(r.Context(), chi.URLParam(r, "scheduleID"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"schedule not found"})

		return
	}

	if err != nil {
		s.log.WithError(err).Error("Failed to delete schedule")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to delete schedule"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
