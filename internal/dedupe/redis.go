package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "killerwhale:sig:"

// Redis is a filter shared across restarts and replicas.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.SugaredLogger
}

// NewRedis connects to the redis:// URL and verifies the connection.
func NewRedis(ctx context.Context, url string, ttl time.Duration, log *zap.SugaredLogger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisFromClient(rdb, ttl, log), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(rdb *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Redis{rdb: rdb, ttl: ttl, log: log}
}

// FirstSeen uses SETNX. On redis errors the key counts as new: a duplicate
// alert is preferred over a missed one.
func (r *Redis) FirstSeen(ctx context.Context, key string) bool {
	ok, err := r.rdb.SetNX(ctx, keyPrefix+key, 1, r.ttl).Result()
	if err != nil {
		r.log.Warnw("dedupe setnx failed", "error", err)
		return true
	}
	return ok
}

// Health pings redis.
func (r *Redis) Health(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error { return r.rdb.Close() }
