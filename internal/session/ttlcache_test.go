package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLCacheSetAndGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	c, err := NewTTLCache(ctx, "")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	val, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(val))
}

func TestTTLCacheGetMissingKey(t *testing.T) {
	ctx := context.Background()
	c, err := NewTTLCache(ctx, "")
	require.NoError(t, err)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTTLCacheEntryExpires(t *testing.T) {
	ctx := context.Background()
	c, err := NewTTLCache(ctx, "")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), -time.Second))
	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTTLCacheDeleteRemovesKey(t *testing.T) {
	ctx := context.Background()
	c, err := NewTTLCache(ctx, "")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k1"))
	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTTLCacheDeleteMatchingRemovesSelected(t *testing.T) {
	ctx := context.Background()
	c, err := NewTTLCache(ctx, "")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "tools-surface:a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "tools-surface:b", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "endpoint:c", []byte("3"), time.Minute))

	require.NoError(t, c.DeleteMatching(ctx, func(key string) bool {
		return len(key) >= 13 && key[:13] == "tools-surface"
	}))

	_, ok, _ := c.Get(ctx, "tools-surface:a")
	require.False(t, ok)
	_, ok, _ = c.Get(ctx, "endpoint:c")
	require.True(t, ok)
}
