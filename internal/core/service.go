package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"paddylink/internal/rtstore"
)

// DefaultDeadline bounds command acknowledgement when the caller does not
// supply one.
const DefaultDeadline = 120 * time.Second

// History archives terminal command outcomes.
type History interface {
	Archive(ctx context.Context, entry *CommandLog) error
}

// Request describes one command to run through the full lifecycle.
type Request struct {
	Target   string
	Kind     string
	Action   string
	Params   map[string]any
	Deadline time.Duration // zero means DefaultDeadline
}

// Result is the caller-visible end of one lifecycle.
type Result struct {
	Token       string
	Outcome     Outcome
	RequestedAt int64
}

// Service runs the whole pipeline: dispatch, supervise, release, archive.
// Both the HTTP layer and the schedule runner go through it so every
// command leaves an audit row.
type Service struct {
	dispatcher *Dispatcher
	supervisor *Supervisor
	store      rtstore.RecordStore
	history    History
	deadline   time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewService wires a command service. history may be nil (no archive).
func NewService(store rtstore.RecordStore, history History, defaultDeadline time.Duration, logger *slog.Logger) *Service {
	if defaultDeadline <= 0 {
		defaultDeadline = DefaultDeadline
	}
	watcher := NewWatcher(store, logger)
	return &Service{
		dispatcher: NewDispatcher(store, logger),
		supervisor: NewSupervisor(store, watcher, logger),
		store:      store,
		history:    history,
		deadline:   defaultDeadline,
		logger:     logger,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Execute dispatches the request and suspends until success, a
// device-reported error, the deadline, or cancellation. Dispatch failures
// (duplicate in-flight command, unreachable store) are returned as errors;
// everything after a successful dispatch is a tagged outcome.
func (s *Service) Execute(ctx context.Context, req Request, onProgress func(Phase)) (Result, error) {
	handle, deadline, err := s.begin(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return s.run(ctx, handle, deadline, onProgress), nil
}

// Submit dispatches the request and supervises it in the background,
// returning as soon as the record is published. The outcome lands in the
// history archive; progress is observable through Inspect.
func (s *Service) Submit(req Request) (string, error) {
	handle, deadline, err := s.begin(context.Background(), req)
	if err != nil {
		return "", err
	}
	go s.run(context.Background(), handle, deadline, nil)
	return handle.Token, nil
}

func (s *Service) begin(ctx context.Context, req Request) (*Handle, time.Duration, error) {
	handle, err := s.dispatcher.Dispatch(ctx, req.Target, req.Kind, req.Action, req.Params)
	if err != nil {
		return nil, 0, err
	}
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = s.deadline
	}
	return handle, deadline, nil
}

func (s *Service) run(ctx context.Context, handle *Handle, deadline time.Duration, onProgress func(Phase)) Result {
	runCtx, cancel := context.WithCancel(ctx)
	s.registerCancel(handle.Path, cancel)
	defer func() {
		s.unregisterCancel(handle.Path)
		cancel()
	}()

	started := time.Now()
	outcome := s.supervisor.WithTimeout(runCtx, handle, deadline, onProgress)
	s.archive(handle, outcome, time.Since(started))

	rec := handle.Record()
	s.logger.Info("command settled",
		"target", rec.Target, "kind", rec.Kind, "action", rec.Action,
		"token", handle.Token, "outcome", string(outcome.Kind))
	return Result{
		Token:       handle.Token,
		Outcome:     outcome,
		RequestedAt: rec.RequestedAt,
	}
}

// Cancel aborts the in-flight command for a (target, kind) pair. Returns
// false when nothing is in flight.
func (s *Service) Cancel(target, kind string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[CommandPath(target, kind)]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Inspect reads the live record and its projected phase. ok is false when
// no record exists at the slot.
func (s *Service) Inspect(ctx context.Context, target, kind string) (Record, Phase, bool, error) {
	fields, present, err := s.store.Read(ctx, CommandPath(target, kind))
	if err != nil || !present {
		return Record{}, "", false, err
	}
	rec, ok := RecordFromFields(fields)
	if !ok {
		return Record{}, "", false, nil
	}
	return rec, Project(rec), true, nil
}

func (s *Service) registerCancel(path string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[path] = cancel
}

func (s *Service) unregisterCancel(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, path)
}

func (s *Service) archive(h *Handle, outcome Outcome, took time.Duration) {
	if s.history == nil {
		return
	}
	rec := h.Record()

	// Pick up device-written timestamps for the audit row; the live record
	// may already belong to a newer dispatch, so the token is checked.
	var ackAt, execAt int64
	readCtx, cancel := context.WithTimeout(context.Background(), cleanupWriteTimeout)
	defer cancel()
	if fields, present, err := s.store.Read(readCtx, h.Path); err == nil && present {
		if final, ok := RecordFromFields(fields); ok && final.Token == h.Token {
			ackAt = final.AcknowledgedAt
			execAt = final.ExecutedAt
		}
	}
	if outcome.Kind == OutcomeSuccess && outcome.ExecutedAt != 0 {
		execAt = outcome.ExecutedAt
	}

	entry := &CommandLog{
		Token:          h.Token,
		Target:         rec.Target,
		Kind:           rec.Kind,
		Action:         rec.Action,
		Params:         rec.Params,
		Outcome:        outcome.Kind,
		Status:         statusForOutcome(outcome.Kind),
		ErrorDetail:    outcome.ErrorDetail,
		RequestedAt:    rec.RequestedAt,
		AcknowledgedAt: ackAt,
		ExecutedAt:     execAt,
		DurationMs:     took.Milliseconds(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.history.Archive(readCtx, entry); err != nil {
		s.logger.Warn("archive command outcome", "token", h.Token, "err", err)
	}
}

func statusForOutcome(kind OutcomeKind) Status {
	switch kind {
	case OutcomeSuccess:
		return StatusCompleted
	case OutcomeDeviceError:
		return StatusError
	default:
		return StatusTimeout
	}
}
