package rtstore

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// MemoryStore is an in-process RecordStore. It backs single-node
// deployments where devices run in the same process (simulator) and every
// protocol test. Each subscriber gets a buffered channel drained by its
// own goroutine; when the buffer is full the oldest snapshot is dropped,
// since every delivery is a full snapshot and the latest one wins.
type MemoryStore struct {
	mu          sync.RWMutex
	values      map[string]map[string]any
	subscribers map[string]map[int]chan map[string]any
	nextSubID   int
	unavailable bool
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:      make(map[string]map[string]any),
		subscribers: make(map[string]map[int]chan map[string]any),
	}
}

// SetUnavailable toggles simulated connectivity loss: Write, Read and
// Delete fail with ErrStoreUnavailable while set.
func (m *MemoryStore) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

// Write merges fields into the value at path; a nil field value removes
// the key, an empty resulting value removes the path.
func (m *MemoryStore) Write(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.unavailable {
		m.mu.Unlock()
		return ErrStoreUnavailable
	}
	current := m.values[path]
	if current == nil {
		current = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		if v == nil {
			delete(current, k)
			continue
		}
		current[k] = v
	}
	if len(current) == 0 {
		delete(m.values, path)
	} else {
		m.values[path] = current
	}
	// Deliveries happen under the lock so Cancel can never close a channel
	// mid-send; deliver never blocks.
	snapshot := cloneFields(m.values[path])
	for _, ch := range m.subscribers[path] {
		deliver(ch, snapshot)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, path string) (map[string]any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return nil, false, ErrStoreUnavailable
	}
	value, ok := m.values[path]
	if !ok {
		return nil, false, nil
	}
	return cloneFields(value), true, nil
}

func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrStoreUnavailable
	}
	delete(m.values, path)
	for _, ch := range m.subscribers[path] {
		deliver(ch, nil)
	}
	return nil
}

// Subscribe registers a watch on path. The callback runs on a dedicated
// goroutine and first receives the current value (nil when absent).
func (m *MemoryStore) Subscribe(path string, cb func(fields map[string]any)) (Subscription, error) {
	ch := make(chan map[string]any, subscriberBuffer)

	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	if m.subscribers[path] == nil {
		m.subscribers[path] = make(map[int]chan map[string]any)
	}
	m.subscribers[path][id] = ch
	deliver(ch, cloneFields(m.values[path]))
	m.mu.Unlock()

	go func() {
		for snapshot := range ch {
			cb(snapshot)
		}
	}()

	return &memorySubscription{store: m, path: path, id: id}, nil
}

// deliver pushes a snapshot, evicting the oldest queued one when full so a
// slow subscriber never blocks a writer.
func deliver(ch chan map[string]any, snapshot map[string]any) {
	for {
		select {
		case ch <- snapshot:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

type memorySubscription struct {
	store *MemoryStore
	path  string
	id    int
	once  sync.Once
}

func (s *memorySubscription) Cancel() {
	s.once.Do(func() {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		subs := s.store.subscribers[s.path]
		if ch, ok := subs[s.id]; ok {
			delete(subs, s.id)
			close(ch)
		}
		if len(subs) == 0 {
			delete(s.store.subscribers, s.path)
		}
	})
}
