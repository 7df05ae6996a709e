package database

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/config"
	"github.com/ekaya-inc/edp-engine/pkg/retry"
)

// RedisOptions maps the event bus configuration onto client options.
func RedisOptions(cfg *config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:       net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: applicationName,
		// Publishing is fire-and-forget; a stuck broker must not hold up job transitions.
		WriteTimeout: 2 * time.Second,
		ReadTimeout:  2 * time.Second,
	}
}

// NewRedisClient connects the job event publisher. It returns nil when Redis
// is not configured (host is empty).
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	client := redis.NewClient(RedisOptions(cfg))
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	err := retry.Do(ctx, &retry.Config{
		MaxRetries:   3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}, ping, func(attempt int, delay time.Duration, err error) {
		logger.Warn("Redis not reachable yet",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", client.Options().Addr, err)
	}

	return client, nil
}
