package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	r := redis.NewClient(&redis.Options{Addr: addr})
	_ = r.WithTimeout(2 * time.Second)
	return r
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// MarkDone records a processed id after the fact; consumers check Exists first.
func MarkDone(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) error {
	return rdb.Set(ctx, key, "1", ttl).Err()
}
