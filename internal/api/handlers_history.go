package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"paddylink/internal/core"
	"paddylink/internal/store"
)

type historyResponse struct {
	Token          string         `json:"token"`
	Target         string         `json:"target"`
	Kind           string         `json:"kind"`
	Action         string         `json:"action"`
	Params         map[string]any `json:"params,omitempty"`
	Outcome        string         `json:"outcome"`
	Status         string         `json:"status"`
	ErrorDetail    *string        `json:"error_detail,omitempty"`
	RequestedAt    int64          `json:"requested_at"`
	AcknowledgedAt *int64         `json:"acknowledged_at,omitempty"`
	ExecutedAt     *int64         `json:"executed_at,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
	CreatedAt      string         `json:"created_at"`
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)

	entries, err := s.store.ListCommands(r.Context(), target, limit, offset)
	if err != nil {
		s.logger.Error("list command history", "target", target, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list command history")
		return
	}

	resp := make([]historyResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, historyToResponse(entry))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	entry, err := s.store.GetCommand(r.Context(), token)
	if err != nil {
		if errors.Is(err, store.ErrCommandNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "command not found")
		} else {
			s.logger.Error("get command history", "token", token, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load command")
		}
		return
	}
	writeJSON(w, http.StatusOK, historyToResponse(entry))
}

func historyToResponse(entry *core.CommandLog) historyResponse {
	resp := historyResponse{
		Token:       entry.Token,
		Target:      entry.Target,
		Kind:        entry.Kind,
		Action:      entry.Action,
		Params:      entry.Params,
		Outcome:     string(entry.Outcome),
		Status:      string(entry.Status),
		RequestedAt: entry.RequestedAt,
		DurationMs:  entry.DurationMs,
		CreatedAt:   entry.CreatedAt.UTC().Format(time.RFC3339),
	}
	if entry.ErrorDetail != "" {
		resp.ErrorDetail = &entry.ErrorDetail
	}
	if entry.AcknowledgedAt != 0 {
		resp.AcknowledgedAt = &entry.AcknowledgedAt
	}
	if entry.ExecutedAt != 0 {
		resp.ExecutedAt = &entry.ExecutedAt
	}
	return resp
}
