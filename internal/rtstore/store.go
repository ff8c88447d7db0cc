// Package rtstore abstracts the realtime record store shared between the
// controller and field devices. Writes are field-level upserts; readers
// observe changes through cancellable subscriptions.
package rtstore

import (
	"context"
	"errors"
)

// ErrStoreUnavailable is returned when the backing store cannot be
// reached. A dispatch hitting this fails synchronously.
var ErrStoreUnavailable = errors.New("record store unavailable")

// Subscription is a live watch on one path. Cancel is idempotent and must
// be called when the watch is no longer needed.
type Subscription interface {
	Cancel()
}

// RecordStore is the minimal contract the command protocol depends on.
//
// Write upserts a set of fields at a path: present keys are merged over
// the existing value, a nil value removes the key. Subscribe invokes the
// callback with the current value (nil when absent) and then on every
// subsequent change until the subscription is cancelled.
type RecordStore interface {
	Write(ctx context.Context, path string, fields map[string]any) error
	Subscribe(path string, cb func(fields map[string]any)) (Subscription, error)
	Read(ctx context.Context, path string) (map[string]any, bool, error)
	Delete(ctx context.Context, path string) error
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneFields(nested)
			continue
		}
		out[k] = v
	}
	return out
}
