package session

import (
	"context"
	"testing"
	"time"

	"github.com/kagenti/mcp-gateway/internal/aggregator"
	"github.com/kagenti/mcp-gateway/internal/router"
	"github.com/stretchr/testify/require"
)

func testSurface() router.Surface {
	return router.Surface{
		Surface: aggregator.Surface{
			ToolRoutes:     map[string]aggregator.ToolRoute{"weather_get": {SourceID: "weather-svc", OriginalName: "get"}},
			AmbiguousTools: map[string]struct{}{},
		},
	}
}

func TestSurfaceCacheMissWhenNeverPut(t *testing.T) {
	cache, err := NewTTLCache(context.Background(), "")
	require.NoError(t, err)
	sc := NewSurfaceCache(cache, time.Minute, nil)

	_, ok := sc.Get("tok", "fp1")
	require.False(t, ok)
}

func TestSurfaceCachePutThenGetHits(t *testing.T) {
	cache, err := NewTTLCache(context.Background(), "")
	require.NoError(t, err)
	sc := NewSurfaceCache(cache, time.Minute, nil)

	sc.Put("profile1", "tok", "fp1", testSurface())
	got, ok := sc.Get("tok", "fp1")
	require.True(t, ok)
	require.Equal(t, "fp1", got.Fingerprint)
	require.Contains(t, got.ToolRoutes, "weather_get")
}

func TestSurfaceCacheMissOnFingerprintMismatch(t *testing.T) {
	cache, err := NewTTLCache(context.Background(), "")
	require.NoError(t, err)
	sc := NewSurfaceCache(cache, time.Minute, nil)

	sc.Put("profile1", "tok", "fp1", testSurface())
	_, ok := sc.Get("tok", "fp2")
	require.False(t, ok)

	// a fingerprint mismatch also evicts the stale entry
	_, ok = sc.Get("tok", "fp1")
	require.False(t, ok)
}

func TestSurfaceCacheInvalidateRemovesEntry(t *testing.T) {
	cache, err := NewTTLCache(context.Background(), "")
	require.NoError(t, err)
	sc := NewSurfaceCache(cache, time.Minute, nil)

	sc.Put("profile1", "tok", "fp1", testSurface())
	sc.Invalidate("tok")
	_, ok := sc.Get("tok", "fp1")
	require.False(t, ok)
}

func TestSurfaceCacheInvalidateProfileDropsAllTaggedEntries(t *testing.T) {
	cache, err := NewTTLCache(context.Background(), "")
	require.NoError(t, err)
	sc := NewSurfaceCache(cache, time.Minute, nil)

	sc.Put("profile1", "tokA", "fp1", testSurface())
	sc.Put("profile1", "tokB", "fp1", testSurface())
	sc.Put("profile2", "tokC", "fp1", testSurface())

	sc.InvalidateProfile("profile1")

	_, ok := sc.Get("tokA", "fp1")
	require.False(t, ok)
	_, ok = sc.Get("tokB", "fp1")
	require.False(t, ok)
	_, ok = sc.Get("tokC", "fp1")
	require.True(t, ok)
}
