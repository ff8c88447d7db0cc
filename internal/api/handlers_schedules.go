package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"paddylink/internal/core"
	"paddylink/internal/schedule"
	"paddylink/internal/store"
)

type createScheduleRequest struct {
	Name       *string        `json:"name"`
	Target     string         `json:"target"`
	Kind       string         `json:"kind"`
	Action     string         `json:"action"`
	Params     map[string]any `json:"params"`
	Cron       string         `json:"cron"`
	DeadlineMs *int64         `json:"deadline_ms"`
	Paused     bool           `json:"paused"`
}

type updateScheduleRequest struct {
	Name       *string        `json:"name"`
	Action     *string        `json:"action"`
	Params     map[string]any `json:"params"`
	Cron       *string        `json:"cron"`
	DeadlineMs *int64         `json:"deadline_ms"`
	Paused     *bool          `json:"paused"`
}

type scheduleResponse struct {
	ID         string         `json:"id"`
	Name       *string        `json:"name,omitempty"`
	Target     string         `json:"target"`
	Kind       string         `json:"kind"`
	Action     string         `json:"action"`
	Params     map[string]any `json:"params,omitempty"`
	Cron       string         `json:"cron"`
	DeadlineMs *int64         `json:"deadline_ms,omitempty"`
	Status     string         `json:"status"`
	LastRunAt  *string        `json:"last_run_at,omitempty"`
	NextRunAt  *string        `json:"next_run_at,omitempty"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Target = strings.TrimSpace(req.Target)
	req.Kind = strings.TrimSpace(req.Kind)
	req.Action = strings.TrimSpace(req.Action)
	req.Cron = strings.TrimSpace(req.Cron)
	if req.Target == "" || req.Kind == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "target, kind and action are required")
		return
	}
	if req.Cron == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "cron expression is required")
		return
	}
	if _, err := schedule.ParseCron(req.Cron); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_cron", err.Error())
		return
	}
	if req.DeadlineMs != nil && *req.DeadlineMs < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "deadline_ms must be non-negative")
		return
	}

	status := schedule.ScheduleStatusActive
	if req.Paused {
		status = schedule.ScheduleStatusPaused
	}
	var namePtr *string
	if req.Name != nil {
		if trimmed := strings.TrimSpace(*req.Name); trimmed != "" {
			namePtr = &trimmed
		}
	}

	sched := &schedule.Schedule{
		ID:         schedule.NewID(),
		Name:       namePtr,
		Target:     req.Target,
		Kind:       req.Kind,
		Action:     req.Action,
		Params:     req.Params,
		Cron:       req.Cron,
		DeadlineMs: req.DeadlineMs,
		Status:     status,
	}

	if err := s.store.InsertSchedule(r.Context(), sched); err != nil {
		s.logger.Error("insert schedule", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert schedule")
		return
	}
	if sched.Status == schedule.ScheduleStatusActive {
		if err := s.scheduler.AddOrUpdate(r.Context(), sched); err != nil {
			s.logger.Error("register schedule", "schedule_id", sched.ID, "err", err)
		}
	}
	writeJSON(w, http.StatusCreated, scheduleToResponse(sched))
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	var statusFilter *schedule.ScheduleStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := schedule.ScheduleStatus(raw)
		statusFilter = &status
	}
	schedules, err := s.store.ListSchedules(r.Context(), statusFilter)
	if err != nil {
		s.logger.Error("list schedules", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list schedules")
		return
	}
	resp := make([]scheduleResponse, 0, len(schedules))
	for _, sched := range schedules {
		resp = append(resp, scheduleToResponse(sched))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")
	sched, err := s.store.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		s.scheduleLoadError(w, scheduleID, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleToResponse(sched))
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")
	sched, err := s.store.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		s.scheduleLoadError(w, scheduleID, err)
		return
	}

	var req updateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if req.Name != nil {
		if trimmed := strings.TrimSpace(*req.Name); trimmed != "" {
			sched.Name = &trimmed
		} else {
			sched.Name = nil
		}
	}
	if req.Action != nil {
		action := strings.TrimSpace(*req.Action)
		if action == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "action must not be empty")
			return
		}
		sched.Action = action
	}
	if req.Params != nil {
		sched.Params = req.Params
	}
	if req.Cron != nil {
		cronExpr := strings.TrimSpace(*req.Cron)
		if _, err := schedule.ParseCron(cronExpr); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_cron", err.Error())
			return
		}
		sched.Cron = cronExpr
	}
	if req.DeadlineMs != nil {
		if *req.DeadlineMs < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "deadline_ms must be non-negative")
			return
		}
		sched.DeadlineMs = req.DeadlineMs
	}
	if req.Paused != nil {
		if *req.Paused {
			sched.Status = schedule.ScheduleStatusPaused
		} else {
			sched.Status = schedule.ScheduleStatusActive
		}
	}

	if err := s.store.UpdateSchedule(r.Context(), sched); err != nil {
		s.logger.Error("update schedule", "schedule_id", scheduleID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update schedule")
		return
	}
	if err := s.scheduler.AddOrUpdate(r.Context(), sched); err != nil {
		s.logger.Error("reschedule", "schedule_id", scheduleID, "err", err)
	}
	writeJSON(w, http.StatusOK, scheduleToResponse(sched))
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")
	if err := s.store.DeleteSchedule(r.Context(), scheduleID); err != nil {
		s.scheduleLoadError(w, scheduleID, err)
		return
	}
	s.scheduler.Remove(scheduleID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")
	sched, err := s.store.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		s.scheduleLoadError(w, scheduleID, err)
		return
	}
	result, err := s.scheduler.RunNow(r.Context(), sched)
	if err != nil {
		if errors.Is(err, core.ErrCommandInFlight) {
			writeError(w, http.StatusConflict, "conflict", "a command is already in flight for this device and kind")
			return
		}
		s.logger.Error("run schedule now", "schedule_id", scheduleID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to run schedule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   result.Token,
		"outcome": string(result.Outcome.Kind),
	})
}

func (s *Server) scheduleLoadError(w http.ResponseWriter, scheduleID string, err error) {
	if errors.Is(err, store.ErrScheduleNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "schedule not found")
		return
	}
	s.logger.Error("load schedule", "schedule_id", scheduleID, "err", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "failed to load schedule")
}

func scheduleToResponse(sched *schedule.Schedule) scheduleResponse {
	var last, next *string
	if sched.LastRunAt != nil {
		formatted := sched.LastRunAt.UTC().Format(time.RFC3339)
		last = &formatted
	}
	if sched.NextRunAt != nil {
		formatted := sched.NextRunAt.UTC().Format(time.RFC3339)
		next = &formatted
	}
	return scheduleResponse{
		ID:         sched.ID,
		Name:       sched.Name,
		Target:     sched.Target,
		Kind:       sched.Kind,
		Action:     sched.Action,
		Params:     sched.Params,
		Cron:       sched.Cron,
		DeadlineMs: sched.DeadlineMs,
		Status:     string(sched.Status),
		LastRunAt:  last,
		NextRunAt:  next,
		CreatedAt:  sched.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  sched.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
