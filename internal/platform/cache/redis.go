package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPingTimeout = 5 * time.Second

// Options configures the Redis client shared by the reference cache and
// health checks.
type Options struct {
	Addr        string
	PoolSize    int
	PingTimeout time.Duration
}

func (o Options) pingTimeout() time.Duration {
	if o.PingTimeout <= 0 {
		return defaultPingTimeout
	}
	return o.PingTimeout
}

// NewClient builds a client without contacting the server. go-redis dials
// lazily, so a client created while Redis is down recovers on its own.
func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		PoolSize: opts.PoolSize,
	})
}

// New creates a client and fails unless the server answers a ping.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	client := NewClient(opts)
	if err := (HealthCheck{Client: client, Timeout: opts.pingTimeout()}).Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// HealthCheck pings Redis within a bounded time.
type HealthCheck struct {
	Client  *redis.Client
	Timeout time.Duration
}

// Ping satisfies the router's health probe.
func (h HealthCheck) Ping(ctx context.Context) error {
	if h.Client == nil {
		return fmt.Errorf("platform/cache: ping: client not configured")
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := h.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("platform/cache: ping: %w", err)
	}
	return nil
}
