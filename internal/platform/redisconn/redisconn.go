// Package redisconn builds the shared go-redis client.
package redisconn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the client. Zero values use defaults.
type Options struct {
	URL         string
	PoolSize    int
	DialTimeout time.Duration
}

// Open parses a redis:// URL, applies pool settings and pings the server.
func Open(ctx context.Context, opts Options) (*redis.Client, error) {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		url = "redis://redis:6379/0"
	}
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.PoolSize > 0 {
		ro.PoolSize = opts.PoolSize
	}
	if opts.DialTimeout > 0 {
		ro.DialTimeout = opts.DialTimeout
	}

	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", ro.Addr, err)
	}
	return client, nil
}

// ReadyFunc adapts a client to a readiness probe.
func ReadyFunc(client redis.UniversalClient) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}
