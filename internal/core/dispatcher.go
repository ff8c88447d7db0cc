package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"paddylink/internal/rtstore"
)

// CommandPath is the record-store location of the single live command slot
// for a (target, kind) pair.
func CommandPath(target, kind string) string {
	return "devices/" + target + "/commands/" + kind
}

// Handle identifies one dispatched command lifecycle. It is settled exactly
// once, by whichever of the watcher, the timeout or a caller cancellation
// gets there first.
type Handle struct {
	Token  string
	Target string
	Kind   string
	Path   string

	record     Record
	dispatcher *Dispatcher
	settled    atomic.Bool
	settleOnce sync.Once
}

// Record returns the record as written at dispatch time.
func (h *Handle) Record() Record {
	return h.record
}

// Settled reports whether an outcome has been produced for this handle.
func (h *Handle) Settled() bool {
	return h.settled.Load()
}

// settle runs fn at most once across all racing resolution paths and frees
// the in-flight slot. The second caller observes a no-op.
func (h *Handle) settle(fn func()) {
	h.settleOnce.Do(func() {
		h.settled.Store(true)
		if fn != nil {
			fn()
		}
		if h.dispatcher != nil {
			h.dispatcher.release(h)
		}
	})
}

// Dispatcher builds and publishes command records. It enforces the
// uniqueness invariant: one live record per (target, kind).
type Dispatcher struct {
	store  rtstore.RecordStore
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]*Handle
}

// NewDispatcher creates a dispatcher over the given record store.
func NewDispatcher(store rtstore.RecordStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		logger:   logger,
		inflight: make(map[string]*Handle),
	}
}

// Dispatch validates the command, claims the (target, kind) slot and
// writes the record with a fresh token, requested_at = now and
// status = pending, clearing any leftovers from a prior cycle. On a store
// failure the slot is released and a *DispatchError returned; no watch was
// started.
func (d *Dispatcher) Dispatch(ctx context.Context, target, kind, action string, params map[string]any) (*Handle, error) {
	target = strings.TrimSpace(target)
	kind = strings.TrimSpace(kind)
	action = strings.TrimSpace(action)
	if target == "" || kind == "" || action == "" {
		return nil, fmt.Errorf("%w: target, kind and action are required", ErrInvalidCommand)
	}
	for name, value := range params {
		if !scalarParam(value) {
			return nil, fmt.Errorf("%w: parameter %q is not a scalar", ErrInvalidCommand, name)
		}
	}

	path := CommandPath(target, kind)
	handle := &Handle{
		Token:      NewToken(),
		Target:     target,
		Kind:       kind,
		Path:       path,
		dispatcher: d,
		record: Record{
			Target:      target,
			Kind:        kind,
			Action:      action,
			Params:      params,
			RequestedAt: nowMillis(),
			Status:      StatusPending,
		},
	}
	handle.record.Token = handle.Token

	d.mu.Lock()
	if _, exists := d.inflight[path]; exists {
		d.mu.Unlock()
		return nil, ErrCommandInFlight
	}
	d.inflight[path] = handle
	d.mu.Unlock()

	if err := d.store.Write(ctx, path, handle.record.Fields()); err != nil {
		d.mu.Lock()
		delete(d.inflight, path)
		d.mu.Unlock()
		return nil, &DispatchError{Path: path, Err: err}
	}

	d.logger.Info("command dispatched",
		"target", target, "kind", kind, "action", action, "token", handle.Token)
	return handle, nil
}

// InFlight returns the live handle for a (target, kind) pair, if any.
func (d *Dispatcher) InFlight(target, kind string) (*Handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.inflight[CommandPath(target, kind)]
	return h, ok
}

func (d *Dispatcher) release(h *Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.inflight[h.Path]; ok && current == h {
		delete(d.inflight, h.Path)
	}
}
