package infra

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to the fast cache tier. The connection is probed
// once; callers decide whether a down fast tier is fatal (the worker can
// run degraded without it, the health probe reports it).
func NewRedisClient(ctx context.Context, cfg *Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		DB:       0,
		PoolSize: 100,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return client, err
	}
	return client, nil
}

// NewLocker wraps the Redis client with a distributed lock client used for
// the submission dedup window.
func NewLocker(client *redis.Client) *redislock.Client {
	return redislock.New(client)
}
