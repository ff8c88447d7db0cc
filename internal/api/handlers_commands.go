package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"paddylink/internal/core"
	"paddylink/internal/rtstore"
)

type dispatchRequest struct {
	Kind       string         `json:"kind"`
	Action     string         `json:"action"`
	Params     map[string]any `json:"params"`
	DeadlineMs int64          `json:"deadline_ms"`
	Wait       bool           `json:"wait"`
}

type dispatchResponse struct {
	Token       string  `json:"token"`
	Target      string  `json:"target"`
	Kind        string  `json:"kind"`
	Action      string  `json:"action"`
	Outcome     *string `json:"outcome,omitempty"`
	ExecutedAt  *int64  `json:"executed_at,omitempty"`
	ErrorDetail *string `json:"error_detail,omitempty"`
}

type commandStateResponse struct {
	Token          string         `json:"token"`
	Target         string         `json:"target"`
	Kind           string         `json:"kind"`
	Action         string         `json:"action"`
	Params         map[string]any `json:"params,omitempty"`
	Status         string         `json:"status"`
	Phase          string         `json:"phase"`
	RequestedAt    int64          `json:"requested_at"`
	AcknowledgedAt *int64         `json:"acknowledged_at,omitempty"`
	ExecutedAt     *int64         `json:"executed_at,omitempty"`
	ErrorDetail    *string        `json:"error_detail,omitempty"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")

	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Kind = strings.TrimSpace(req.Kind)
	req.Action = strings.TrimSpace(req.Action)
	if req.Kind == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "kind and action are required")
		return
	}
	if req.DeadlineMs < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "deadline_ms must be non-negative")
		return
	}

	command := core.Request{
		Target:   target,
		Kind:     req.Kind,
		Action:   req.Action,
		Params:   req.Params,
		Deadline: time.Duration(req.DeadlineMs) * time.Millisecond,
	}

	if !req.Wait {
		token, err := s.commands.Submit(command)
		if err != nil {
			s.writeDispatchError(w, target, err)
			return
		}
		writeJSON(w, http.StatusAccepted, dispatchResponse{
			Token:  token,
			Target: target,
			Kind:   req.Kind,
			Action: req.Action,
		})
		return
	}

	result, err := s.commands.Execute(r.Context(), command, nil)
	if err != nil {
		s.writeDispatchError(w, target, err)
		return
	}

	outcome := string(result.Outcome.Kind)
	resp := dispatchResponse{
		Token:   result.Token,
		Target:  target,
		Kind:    req.Kind,
		Action:  req.Action,
		Outcome: &outcome,
	}
	if result.Outcome.ExecutedAt != 0 {
		resp.ExecutedAt = &result.Outcome.ExecutedAt
	}
	if result.Outcome.ErrorDetail != "" {
		resp.ErrorDetail = &result.Outcome.ErrorDetail
	}
	writeJSON(w, statusForOutcome(result.Outcome.Kind), resp)
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	kind := chi.URLParam(r, "kind")

	rec, phase, ok, err := s.commands.Inspect(r.Context(), target, kind)
	if err != nil {
		s.logger.Error("inspect command", "target", target, "kind", kind, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read command record")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no command record for this device and kind")
		return
	}

	resp := commandStateResponse{
		Token:       rec.Token,
		Target:      rec.Target,
		Kind:        rec.Kind,
		Action:      rec.Action,
		Params:      rec.Params,
		Status:      string(rec.Status),
		Phase:       string(phase),
		RequestedAt: rec.RequestedAt,
	}
	if rec.AcknowledgedAt != 0 {
		resp.AcknowledgedAt = &rec.AcknowledgedAt
	}
	if rec.ExecutedAt != 0 {
		resp.ExecutedAt = &rec.ExecutedAt
	}
	if rec.ErrorDetail != "" {
		resp.ErrorDetail = &rec.ErrorDetail
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	kind := chi.URLParam(r, "kind")

	if !s.commands.Cancel(target, kind) {
		writeError(w, http.StatusNotFound, "not_found", "no command in flight for this device and kind")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeDispatchError(w http.ResponseWriter, target string, err error) {
	var dispatchErr *core.DispatchError
	switch {
	case errors.Is(err, core.ErrCommandInFlight):
		writeError(w, http.StatusConflict, "conflict", "a command is already in flight for this device and kind")
	case errors.Is(err, core.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.As(err, &dispatchErr), errors.Is(err, rtstore.ErrStoreUnavailable):
		s.logger.Error("dispatch failed", "target", target, "err", err)
		writeError(w, http.StatusBadGateway, "store_unavailable", "record store rejected the dispatch; retry explicitly")
	default:
		s.logger.Error("dispatch failed", "target", target, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to dispatch command")
	}
}

// statusForOutcome maps a blocking dispatch outcome onto an HTTP status so
// shell scripts can branch without parsing the body.
func statusForOutcome(kind core.OutcomeKind) int {
	switch kind {
	case core.OutcomeSuccess:
		return http.StatusOK
	case core.OutcomeDeviceError:
		return http.StatusBadGateway
	case core.OutcomeTimeout:
		return http.StatusGatewayTimeout
	case core.OutcomeCancelled:
		return http.StatusOK
	default:
		return http.StatusOK
	}
}
