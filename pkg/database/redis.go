package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cexcore/matching-engine/internal/config"
	"github.com/cexcore/matching-engine/pkg/observability"
)

// RedisClient wraps redis.Client with the connection-bootstrap and logging
// conventions used throughout this module. The balance ledger built on top
// of it (internal/ledger) needs exact-decimal atomic updates, not a layered
// object cache, so this wrapper carries no cache-layer abstraction.
type RedisClient struct {
	*redis.Client
	logger *observability.Logger
}

// NewRedisClient creates a new Redis client.
func NewRedisClient(cfg config.RedisConfig, logger *observability.Logger) (*RedisClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.DB = cfg.DB
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.PoolTimeout = cfg.PoolTimeout
	opt.MaxRetries = cfg.MaxRetries
	opt.MinRetryBackoff = cfg.MinRetryBackoff
	opt.MaxRetryBackoff = cfg.MaxRetryBackoff

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	redisClient := &RedisClient{
		Client: client,
		logger: logger,
	}

	logger.Info(ctx, "redis client initialized", map[string]interface{}{
		"pool_size":      opt.PoolSize,
		"min_idle_conns": opt.MinIdleConns,
	})

	return redisClient, nil
}

// Health checks Redis connectivity.
func (r *RedisClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	r.logger.Info(context.Background(), "closing redis connection")
	return r.Client.Close()
}
