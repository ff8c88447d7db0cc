// Package devicesim is an in-process stand-in for a field controller. It
// honors the device side of the record contract: acknowledge a new record
// promptly, then write exactly one of completed or error. Development
// deployments run it against the daemon's own record store; the protocol
// tests drive it directly.
package devicesim

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"paddylink/internal/core"
	"paddylink/internal/rtstore"
)

// Behavior tunes how the simulated device responds.
type Behavior struct {
	AckDelay  time.Duration
	ExecDelay time.Duration
	// FailActions maps an action verb to the error detail the device
	// reports instead of completing.
	FailActions map[string]string
	// Silent devices never respond; commands to them time out.
	Silent bool
	// SkipAck completes without writing acknowledged_at first, as some
	// firmware does for instantaneous actions.
	SkipAck bool
}

// Device simulates one target across a set of command kinds.
type Device struct {
	store    rtstore.RecordStore
	target   string
	behavior Behavior
	logger   *slog.Logger

	mu      sync.Mutex
	subs    []rtstore.Subscription
	handled map[string]bool // token -> already picked up
	closed  bool
	wg      sync.WaitGroup
	stop    chan struct{}
}

// New creates a simulated device for target. Call Listen per command kind.
func New(store rtstore.RecordStore, target string, behavior Behavior, logger *slog.Logger) *Device {
	return &Device{
		store:    store,
		target:   target,
		behavior: behavior,
		logger:   logger,
		handled:  make(map[string]bool),
		stop:     make(chan struct{}),
	}
}

// Listen subscribes the device to its command slot for one kind.
func (d *Device) Listen(kind string) error {
	sub, err := d.store.Subscribe(core.CommandPath(d.target, kind), d.onRecord)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()
	return nil
}

// Close cancels all subscriptions and waits for in-flight responses.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()

	close(d.stop)
	for _, sub := range subs {
		sub.Cancel()
	}
	d.wg.Wait()
}

func (d *Device) onRecord(fields map[string]any) {
	rec, ok := core.RecordFromFields(fields)
	if !ok || rec.Status != core.StatusPending || rec.Token == "" {
		return
	}

	d.mu.Lock()
	if d.closed || d.handled[rec.Token] {
		d.mu.Unlock()
		return
	}
	d.handled[rec.Token] = true
	d.mu.Unlock()

	if d.behavior.Silent {
		d.logger.Debug("silent device ignoring command",
			"target", d.target, "kind", rec.Kind, "token", rec.Token)
		return
	}

	d.wg.Add(1)
	go d.respond(rec)
}

func (d *Device) respond(rec core.Record) {
	defer d.wg.Done()
	path := core.CommandPath(d.target, rec.Kind)

	if !d.sleep(d.behavior.AckDelay) {
		return
	}
	if !d.behavior.SkipAck {
		ack := map[string]any{
			core.FieldAcknowledgedAt: time.Now().UnixMilli(),
			core.FieldStatus:         string(core.StatusAcknowledged),
		}
		if err := d.write(path, ack); err != nil {
			d.logger.Warn("simulated ack write failed", "target", d.target, "err", err)
			return
		}
	}

	if !d.sleep(d.behavior.ExecDelay) {
		return
	}
	if detail, fail := d.behavior.FailActions[rec.Action]; fail {
		result := map[string]any{
			core.FieldStatus:      string(core.StatusError),
			core.FieldErrorDetail: detail,
		}
		if err := d.write(path, result); err != nil {
			d.logger.Warn("simulated error write failed", "target", d.target, "err", err)
		}
		return
	}
	result := map[string]any{
		core.FieldStatus:     string(core.StatusCompleted),
		core.FieldExecutedAt: time.Now().UnixMilli(),
	}
	if err := d.write(path, result); err != nil {
		d.logger.Warn("simulated completion write failed", "target", d.target, "err", err)
	}
}

func (d *Device) write(path string, fields map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.store.Write(ctx, path, fields)
}

func (d *Device) sleep(delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.stop:
		return false
	}
}
