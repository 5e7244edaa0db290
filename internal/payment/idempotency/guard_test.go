package idempotency

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	values  map[string]string
	ttls    map[string]time.Duration
	failing bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.failing {
		return errors.New("redis down")
	}
	c.values[key] = fmt.Sprint(value)
	c.ttls[key] = ttl
	return nil
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, error) {
	if c.failing {
		return "", errors.New("redis down")
	}
	return c.values[key], nil
}

func (c *fakeCache) GenerateKey(operation, key string) string {
	return fmt.Sprintf("payment:%s:%s", operation, key)
}

func TestLookup_UnseenKey(t *testing.T) {
	guard := NewGuard(newFakeCache())

	rec, err := guard.Lookup(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStoreAndLookup(t *testing.T) {
	cache := newFakeCache()
	guard := NewGuard(cache)
	ctx := context.Background()

	stored := Record{PaymentID: "pay-1", Status: "PROCESSING", Timestamp: 1700000000000}
	require.NoError(t, guard.Store(ctx, "key-1", stored))

	rec, err := guard.Lookup(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, stored, *rec)

	// Keys are namespaced and carry the retention TTL.
	assert.Equal(t, TTL, cache.ttls["payment:idempotency:key-1"])
}

func TestLookup_DistinctKeys(t *testing.T) {
	guard := NewGuard(newFakeCache())
	ctx := context.Background()

	require.NoError(t, guard.Store(ctx, "key-1", Record{PaymentID: "pay-1"}))

	rec, err := guard.Lookup(ctx, "key-2")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGuard_CacheErrorsSurface(t *testing.T) {
	cache := newFakeCache()
	cache.failing = true
	guard := NewGuard(cache)
	ctx := context.Background()

	_, err := guard.Lookup(ctx, "key-1")
	assert.Error(t, err)

	err = guard.Store(ctx, "key-1", Record{PaymentID: "pay-1"})
	assert.Error(t, err)
}

func TestLookup_CorruptRecord(t *testing.T) {
	cache := newFakeCache()
	cache.values["payment:idempotency:key-1"] = "{not json"
	guard := NewGuard(cache)

	_, err := guard.Lookup(context.Background(), "key-1")
	assert.Error(t, err)
}
