package infrastructure

import (
	"context"
	"fmt"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"merchpulse.io/pulse/internal/config"
	"merchpulse.io/pulse/internal/pkg/logger"
)

// RedisClients bundles the shared redis client and the lock client
// built on it.
type RedisClients struct {
	Client *redis.Client
	Locker *redislock.Client
}

// NewRedisClients connects and pings the key-value store.
func NewRedisClients(ctx context.Context, cfg config.RedisConfig) (*RedisClients, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("Redis connection established",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
	)

	return &RedisClients{
		Client: client,
		Locker: redislock.New(client),
	}, nil
}

// Close closes the redis connection.
func (c *RedisClients) Close() {
	if c.Client != nil {
		if err := c.Client.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
}
