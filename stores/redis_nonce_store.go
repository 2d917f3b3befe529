package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV implements authkit.KV on Redis (key: authkit:{name}). SETNX with
// TTL gives the atomic check-and-set that makes nonce replay protection
// hold across multiple service instances, which the in-process MemoryKV
// cannot.
type RedisKV struct {
	client *redis.Client
	keyFmt string // format string, e.g. "authkit:%s"
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client, keyFmt: "authkit:%s"}
}

func (r *RedisKV) key(name string) string {
	return fmt.Sprintf(r.keyFmt, name)
}

func (r *RedisKV) CheckAndSet(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), value, ttl).Result()
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
