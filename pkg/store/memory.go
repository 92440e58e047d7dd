package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/danieleschmidt/request-sentinel/internal/errors"
)

// MemoryStore is an in-process KeyValueStore used by tests and local
// development. It honors the same TTL semantics as the Redis store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// Clock can be overridden in tests to control expiry.
	Clock func() time.Time
}

type memoryEntry struct {
	data      []byte
	counter   int64
	isCounter bool
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		Clock:   time.Now,
	}
}

func (m *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || m.expired(entry) {
		entry = memoryEntry{isCounter: true}
		if ttl > 0 {
			entry.expiresAt = m.Clock().Add(ttl)
		}
	}
	entry.counter++
	m.entries[key] = entry

	return entry.counter, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || m.expired(entry) {
		return ErrKeyNotFound
	}

	data := entry.data
	if entry.isCounter {
		var err error
		data, err = json.Marshal(entry.counter)
		if err != nil {
			return err
		}
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return errors.NewStoreCorruptError(key, err)
	}
	return nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = m.Clock().Add(ttl)
	}
	m.entries[key] = entry

	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0)
	for key, entry := range m.entries {
		if strings.HasPrefix(key, prefix) && !m.expired(entry) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

func (m *MemoryStore) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && m.Clock().After(entry.expiresAt)
}
