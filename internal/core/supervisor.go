package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"paddylink/internal/rtstore"
)

const cleanupWriteTimeout = 5 * time.Second

// Supervisor races a watcher against a hard deadline and owns the cleanup
// of commands that never reach a terminal state.
type Supervisor struct {
	store   rtstore.RecordStore
	watcher *Watcher
	logger  *slog.Logger
}

// NewSupervisor creates a supervisor sharing the watcher's record store.
func NewSupervisor(store rtstore.RecordStore, watcher *Watcher, logger *slog.Logger) *Supervisor {
	return &Supervisor{store: store, watcher: watcher, logger: logger}
}

// WithTimeout awaits the handle's outcome for at most deadline. If the
// watcher resolves first its outcome is returned unchanged. If the
// deadline elapses first the watch is cancelled, the record is marked
// timed out (best-effort; a failed write is logged, not escalated) and a
// timeout outcome returned. Cancellation of ctx performs the same record
// cleanup but returns a cancelled outcome so callers can tell user-abort
// from device silence. Cleanup is idempotent under races.
func (s *Supervisor) WithTimeout(ctx context.Context, h *Handle, deadline time.Duration, onProgress func(Phase)) Outcome {
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	type watchResult struct {
		outcome Outcome
		err     error
	}
	results := make(chan watchResult, 1)
	go func() {
		outcome, err := s.watcher.Await(watchCtx, h, onProgress)
		results <- watchResult{outcome, err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case r := <-results:
		if r.err != nil && !errors.Is(r.err, context.Canceled) {
			s.logger.Error("watch failed", "target", h.Target, "kind", h.Kind, "err", r.err)
		}
		h.settle(nil)
		return r.outcome

	case <-timer.C:
		stopWatch()
		// The watcher may have resolved in the same instant; its outcome wins.
		select {
		case r := <-results:
			if r.err == nil || errors.Is(r.err, context.Canceled) {
				if r.outcome.Kind != OutcomeCancelled {
					h.settle(nil)
					return r.outcome
				}
			}
		default:
		}
		if onProgress != nil && !h.Settled() {
			onProgress(PhaseTimedOut)
		}
		s.expire(h, "no response within deadline")
		return Outcome{Kind: OutcomeTimeout, ErrorDetail: "no response within deadline"}

	case <-ctx.Done():
		stopWatch()
		s.expire(h, "cancelled by caller")
		return Outcome{Kind: OutcomeCancelled}
	}
}

// expire force-marks the record as timed out and clears its parameters so
// the slot cannot block a later dispatch. Runs at most once per handle.
func (s *Supervisor) expire(h *Handle, detail string) {
	if h.Settled() {
		return
	}
	h.settle(func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), cleanupWriteTimeout)
		defer cancel()
		fields := map[string]any{
			FieldStatus:      string(StatusTimeout),
			FieldErrorDetail: detail,
			FieldParams:      nil,
		}
		if err := s.store.Write(writeCtx, h.Path, fields); err != nil {
			s.logger.Warn("timeout cleanup write failed",
				"target", h.Target, "kind", h.Kind, "token", h.Token, "err", err)
		}
	})
}
