package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const timeout = 2 * time.Second

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
}

// Ping fails fast when the server is unreachable.
func Ping(ctx context.Context, rdb *redis.Client) error {
	return rdb.Ping(ctx).Err()
}

// SetOnce marks key and reports whether this call was the first to do so.
func SetOnce(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}
