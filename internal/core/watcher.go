package core

import (
	"context"
	"fmt"
	"log/slog"

	"paddylink/internal/rtstore"
)

// Watcher observes mutations on a dispatched record and resolves the
// command outcome. One Await per handle; the subscription is always
// released on return.
type Watcher struct {
	store  rtstore.RecordStore
	logger *slog.Logger
}

// NewWatcher creates a watcher over the given record store.
func NewWatcher(store rtstore.RecordStore, logger *slog.Logger) *Watcher {
	return &Watcher{store: store, logger: logger}
}

// Await suspends until the record reaches a terminal classification or ctx
// is cancelled. onProgress (optional) is invoked at most once per distinct
// phase, always in advancing order. Mutations that would regress the
// observed timestamps, carry a foreign token or arrive after resolution
// are logged and dropped.
func (w *Watcher) Await(ctx context.Context, h *Handle, onProgress func(Phase)) (Outcome, error) {
	updates := make(chan map[string]any, subscriptionBuffer)
	sub, err := w.store.Subscribe(h.Path, func(fields map[string]any) {
		push(updates, fields)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("subscribe %s: %w", h.Path, err)
	}
	defer sub.Cancel()

	lastPhase := PhaseValidating
	emit := func(p Phase) {
		if p == lastPhase || !CanEnter(lastPhase, p) {
			return
		}
		lastPhase = p
		if onProgress != nil {
			onProgress(p)
		}
	}
	if onProgress != nil {
		onProgress(PhaseValidating)
	}

	var seenAck, seenExec int64
	for {
		select {
		case <-ctx.Done():
			return Outcome{Kind: OutcomeCancelled}, ctx.Err()
		case fields := <-updates:
			rec, ok := RecordFromFields(fields)
			if !ok {
				// record deleted out from under us; the supervisor decides
				continue
			}
			if rec.Token != h.Token {
				w.logStale(h, "foreign token", rec)
				continue
			}
			if stale, reason := staleMutation(rec, seenAck, seenExec); stale {
				w.logStale(h, reason, rec)
				continue
			}
			if rec.AcknowledgedAt > seenAck {
				seenAck = rec.AcknowledgedAt
			}
			if rec.ExecutedAt > seenExec {
				seenExec = rec.ExecutedAt
			}

			// The first delivery confirms the record exists remotely.
			emit(PhaseSent)
			phase := Project(rec)
			emit(phase)

			switch phase {
			case PhaseCompleted:
				return Success(rec.ExecutedAt), nil
			case PhaseErrored:
				return DeviceError(rec.ErrorDetail), nil
			case PhaseTimedOut:
				// a racing cleanup already marked the record
				return Outcome{Kind: OutcomeTimeout, ErrorDetail: rec.ErrorDetail}, nil
			}
		}
	}
}

// staleMutation applies the monotonicity invariants: acknowledged_at never
// precedes requested_at, executed_at never precedes acknowledged_at, and
// neither timestamp regresses across mutations.
func staleMutation(rec Record, seenAck, seenExec int64) (bool, string) {
	if rec.AcknowledgedAt != 0 && rec.RequestedAt != 0 && rec.AcknowledgedAt < rec.RequestedAt {
		return true, "acknowledged_at precedes requested_at"
	}
	if rec.ExecutedAt != 0 && rec.AcknowledgedAt != 0 && rec.ExecutedAt < rec.AcknowledgedAt {
		return true, "executed_at precedes acknowledged_at"
	}
	if seenAck != 0 && rec.AcknowledgedAt != 0 && rec.AcknowledgedAt < seenAck {
		return true, "acknowledged_at regressed"
	}
	if seenExec != 0 && rec.ExecutedAt != 0 && rec.ExecutedAt < seenExec {
		return true, "executed_at regressed"
	}
	if seenExec != 0 && rec.ExecutedAt == 0 {
		return true, "executed_at cleared"
	}
	return false, ""
}

func (w *Watcher) logStale(h *Handle, reason string, rec Record) {
	w.logger.Warn("stale mutation ignored",
		"target", h.Target, "kind", h.Kind, "token", h.Token,
		"reason", reason, "record_token", rec.Token)
}

const subscriptionBuffer = 16

// push enqueues a snapshot, evicting the oldest queued one when full;
// every snapshot is complete, so the newest always supersedes.
func push(ch chan map[string]any, fields map[string]any) {
	for {
		select {
		case ch <- fields:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
