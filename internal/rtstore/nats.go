package rtstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSStore is a RecordStore over a JetStream key-value bucket. Devices
// and the controller share the bucket; record paths map directly to KV
// keys. Field merges use revision-checked read-modify-write so the two
// writers never clobber each other's fields.
type NATSStore struct {
	nc *nats.Conn
	kv nats.KeyValue
}

// OpenNATS connects to the server and binds (or creates) the bucket.
func OpenNATS(url, bucket string) (*NATSStore, error) {
	nc, err := nats.Connect(url, nats.Name("paddylink"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket, History: 1})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind bucket %s: %w", bucket, err)
	}
	return &NATSStore{nc: nc, kv: kv}, nil
}

// Close releases the connection.
func (n *NATSStore) Close() {
	n.nc.Close()
}

func (n *NATSStore) Write(ctx context.Context, path string, fields map[string]any) error {
	key := kvKey(path)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, err := n.kv.Get(key)
		switch {
		case errors.Is(err, nats.ErrKeyNotFound):
			merged := mergeFields(nil, fields)
			if len(merged) == 0 {
				return nil
			}
			data, err := json.Marshal(merged)
			if err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
			if _, err := n.kv.Create(key, data); err != nil {
				if errors.Is(err, nats.ErrKeyExists) {
					continue // lost the race, merge against the winner
				}
				return n.wrap(err)
			}
			return nil
		case err != nil:
			return n.wrap(err)
		}

		var current map[string]any
		if len(entry.Value()) > 0 {
			if err := json.Unmarshal(entry.Value(), &current); err != nil {
				current = nil
			}
		}
		merged := mergeFields(current, fields)
		if len(merged) == 0 {
			if err := n.kv.Delete(key); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
				return n.wrap(err)
			}
			return nil
		}
		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		_, err = n.kv.Update(key, data, entry.Revision())
		if err == nil {
			return nil
		}
		if isRevisionConflict(err) {
			continue
		}
		return n.wrap(err)
	}
}

func (n *NATSStore) Read(ctx context.Context, path string) (map[string]any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	entry, err := n.kv.Get(kvKey(path))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, n.wrap(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(entry.Value(), &fields); err != nil {
		return nil, false, fmt.Errorf("decode record at %s: %w", path, err)
	}
	return fields, true, nil
}

func (n *NATSStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.kv.Delete(kvKey(path)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return n.wrap(err)
	}
	return nil
}

func (n *NATSStore) Subscribe(path string, cb func(fields map[string]any)) (Subscription, error) {
	watcher, err := n.kv.Watch(kvKey(path))
	if err != nil {
		return nil, n.wrap(err)
	}
	go func() {
		for entry := range watcher.Updates() {
			if entry == nil {
				// end-of-initial-values marker
				continue
			}
			switch entry.Operation() {
			case nats.KeyValueDelete, nats.KeyValuePurge:
				cb(nil)
			default:
				var fields map[string]any
				if err := json.Unmarshal(entry.Value(), &fields); err != nil {
					continue
				}
				cb(fields)
			}
		}
	}()
	return &natsSubscription{watcher: watcher}, nil
}

func (n *NATSStore) wrap(err error) error {
	if !n.nc.IsConnected() ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, nats.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func isRevisionConflict(err error) bool {
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}

func mergeFields(current, fields map[string]any) map[string]any {
	merged := cloneFields(current)
	if merged == nil {
		merged = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

// kvKey maps a record path to a KV key. Path segments become subject
// tokens so per-device wildcard watches stay possible.
func kvKey(path string) string {
	key := make([]byte, len(path))
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			key[i] = '.'
			continue
		}
		key[i] = path[i]
	}
	return string(key)
}

type natsSubscription struct {
	watcher nats.KeyWatcher
}

func (s *natsSubscription) Cancel() {
	_ = s.watcher.Stop()
}
