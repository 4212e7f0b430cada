package session

import (
	"context"
	"testing"
	"time"

	"github.com/kagenti/mcp-gateway/internal/upstream"
	"github.com/stretchr/testify/require"
)

func TestEndpointCacheMissWhenNeverPut(t *testing.T) {
	cache, err := NewTTLCache(context.Background(), "")
	require.NoError(t, err)
	ec := NewEndpointCache(cache, time.Minute, nil)

	_, ok := ec.Get("weather-svc")
	require.False(t, ok)
}

func TestEndpointCachePutThenGetHits(t *testing.T) {
	cache, err := NewTTLCache(context.Background(), "")
	require.NoError(t, err)
	ec := NewEndpointCache(cache, time.Minute, nil)

	endpoints := []upstream.Endpoint{{ID: "primary", URL: "https://weather.example/mcp", Enabled: true}}
	ec.Put("weather-svc", endpoints)

	got, ok := ec.Get("weather-svc")
	require.True(t, ok)
	require.Len(t, got, 1)
	require.Equal(t, "https://weather.example/mcp", got[0].URL)
}

func TestEndpointCacheInvalidateUpstreamForcesMiss(t *testing.T) {
	cache, err := NewTTLCache(context.Background(), "")
	require.NoError(t, err)
	ec := NewEndpointCache(cache, time.Minute, nil)

	ec.Put("weather-svc", []upstream.Endpoint{{ID: "primary", URL: "https://weather.example/mcp"}})
	ec.InvalidateUpstream("weather-svc")

	_, ok := ec.Get("weather-svc")
	require.False(t, ok)
}
