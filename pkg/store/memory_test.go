package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieleschmidt/request-sentinel/internal/errors"
)

func TestIncrCountsAndExpires(t *testing.T) {
	kv := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	kv.Clock = func() time.Time { return now }

	for want := int64(1); want <= 3; want++ {
		got, err := kv.Incr(ctx, "counter", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// The TTL is set on first increment only; once it lapses the
	// counter restarts.
	now = now.Add(2 * time.Minute)
	got, err := kv.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestSetGetRoundTrip(t *testing.T) {
	kv := NewMemoryStore()
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, kv.Set(ctx, "key", payload{Name: "x", Count: 3}, 0))

	var got payload
	require.NoError(t, kv.Get(ctx, "key", &got))
	assert.Equal(t, payload{Name: "x", Count: 3}, got)
}

func TestGetMissingKey(t *testing.T) {
	kv := NewMemoryStore()

	var out string
	err := kv.Get(context.Background(), "missing", &out)
	assert.Equal(t, ErrKeyNotFound, err)
}

func TestGetExpiredKey(t *testing.T) {
	kv := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	kv.Clock = func() time.Time { return now }

	require.NoError(t, kv.Set(ctx, "key", "value", time.Minute))
	now = now.Add(2 * time.Minute)

	var out string
	assert.Equal(t, ErrKeyNotFound, kv.Get(ctx, "key", &out))
}

func TestGetCounterValue(t *testing.T) {
	kv := NewMemoryStore()
	ctx := context.Background()

	_, err := kv.Incr(ctx, "counter", 0)
	require.NoError(t, err)
	_, err = kv.Incr(ctx, "counter", 0)
	require.NoError(t, err)

	var count int64
	require.NoError(t, kv.Get(ctx, "counter", &count))
	assert.Equal(t, int64(2), count)
}

func TestGetMismatchedTypeIsCorrupt(t *testing.T) {
	kv := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "key", "not a number", 0))

	var out int
	err := kv.Get(ctx, "key", &out)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeStoreCorrupt))
}

func TestDeleteIsIdempotent(t *testing.T) {
	kv := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "key", "value", 0))
	require.NoError(t, kv.Delete(ctx, "key"))
	require.NoError(t, kv.Delete(ctx, "key"))

	var out string
	assert.Equal(t, ErrKeyNotFound, kv.Get(ctx, "key", &out))
}

func TestListKeysByPrefix(t *testing.T) {
	kv := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "security:incident:a", 1, 0))
	require.NoError(t, kv.Set(ctx, "security:incident:b", 2, 0))
	require.NoError(t, kv.Set(ctx, "rate_limit:/api:1.2.3.4", 3, 0))

	keys, err := kv.ListKeys(ctx, "security:incident:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"security:incident:a", "security:incident:b"}, keys)
}
