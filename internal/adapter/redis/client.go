// Package redis publishes broadcast events to Redis pub/sub and keeps a live viewer
// count key for dashboards.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/prehensile/vidille/internal/platform/retry"
)

// NewClient connects to redisURL (e.g. "redis://localhost:6379/0") with metrics and
// circuit breaker hooks installed. The first ping is retried with policy.
func NewClient(ctx context.Context, redisURL string, policy retry.Policy) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	err = retry.DoVoid(ctx, policy, retry.Transient, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// the breaker only guards traffic after the connection has been proven once
	rdb.AddHook(&MetricsHook{})
	rdb.AddHook(NewCircuitBreakerHook())

	slog.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)
	return rdb, nil
}
