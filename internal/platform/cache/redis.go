// Package cache opens the Redis connection backing the period read cache and the job queue.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPingTimeout = 5 * time.Second

// New creates a Redis client for addr and verifies connectivity within a short
// deadline. The client is closed when the ping fails.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	return NewWithOptions(ctx, &redis.Options{Addr: addr}, defaultPingTimeout)
}

// NewWithOptions is New with explicit client options and ping deadline.
func NewWithOptions(ctx context.Context, opts *redis.Options, pingTimeout time.Duration) (*redis.Client, error) {
	if opts == nil || opts.Addr == "" {
		return nil, fmt.Errorf("platform/cache: redis address required")
	}
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}

	return client, nil
}
