package store

import (
	"context"
	"fmt"
	"time"
)

// KeyValueStore is the persistence contract shared by every component
// that keeps cross-request state. All counters, block records, behavior
// histories and incident records live behind this interface so that
// multiple service instances observe the same view.
type KeyValueStore interface {
	// Incr atomically increments the counter at key, creating it with
	// the given TTL when absent, and returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Get unmarshals the JSON record at key into dest. Returns
	// ErrKeyNotFound when the key does not exist.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores value as JSON at key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// ListKeys returns all keys matching the given prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

var ErrKeyNotFound = fmt.Errorf("key not found")
