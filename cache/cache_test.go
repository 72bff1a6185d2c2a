package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/cache"
	"github.com/arcanefly/workforce/providers"
)

func TestGetAfterSet_WithinTTL(t *testing.T) {
	c := cache.New(50*time.Millisecond, 10)
	key := cache.Key("prompt", "anthropic/claude-3-5-sonnet", 0.0, 256)

	_, ok := c.Get(context.Background(), key)
	require.False(t, ok)

	c.Set(context.Background(), key, providers.Response{Content: "hi"})
	got, ok := c.Get(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, "hi", got.Content)
}

func TestGet_MissAfterTTL(t *testing.T) {
	c := cache.New(10*time.Millisecond, 10)
	key := cache.Key("prompt", "m", 0.0, 1)
	c.Set(context.Background(), key, providers.Response{Content: "hi"})
	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get(context.Background(), key)
	require.False(t, ok)
}

func TestKey_DifferentTemperatureDifferentKey(t *testing.T) {
	k1 := cache.Key("p", "m", 0.0, 10)
	k2 := cache.Key("p", "m", 0.7, 10)
	assert.NotEqual(t, k1, k2)
}

func TestEviction_SoftCap(t *testing.T) {
	c := cache.New(time.Hour, 5)
	for i := 0; i < 20; i++ {
		key := cache.Key("p", "m", 0, i)
		c.Set(context.Background(), key, providers.Response{Content: "x"})
	}
	// Soft cap triggers eviction of oldest 20% once exceeded; cache should
	// not grow unbounded. We can't inspect the local map size directly, but
	// the earliest key should have been evicted by the time we're done.
	_, ok := c.Get(context.Background(), cache.Key("p", "m", 0, 0))
	assert.False(t, ok)
}
