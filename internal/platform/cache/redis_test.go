package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), Options{Addr: mr.Addr(), PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.Equal(t, 2, client.Options().PoolSize)
}

func TestNewFailsWhenServerIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), Options{Addr: addr, PingTimeout: 200 * time.Millisecond})
	require.ErrorContains(t, err, "platform/cache: ping")
}

func TestHealthCheckTracksServerState(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	check := HealthCheck{Client: client, Timeout: 200 * time.Millisecond}
	require.NoError(t, check.Ping(context.Background()))

	mr.Close()
	require.Error(t, check.Ping(context.Background()))
}

func TestHealthCheckWithoutClient(t *testing.T) {
	require.Error(t, HealthCheck{}.Ping(context.Background()))
}
