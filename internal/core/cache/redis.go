package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrCacheMiss is returned when a key is not found in the hot layer.
var ErrCacheMiss = fmt.Errorf("cache miss")

// RedisLayer implements HotLayer on Redis with a key prefix.
type RedisLayer struct {
	client *redis.Client
	prefix string
}

// NewRedisLayer connects to addr and verifies the connection with a ping.
func NewRedisLayer(ctx context.Context, addr, password string, db int, prefix string) (*RedisLayer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	log.Info().Str("address", addr).Str("prefix", prefix).Int("db", db).Msg("redis content cache ready")
	return &RedisLayer{client: client, prefix: prefix}, nil
}

func (r *RedisLayer) key(k string) string {
	return r.prefix + ":content:" + k
}

func (r *RedisLayer) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		log.Debug().Str("key", r.key(key)).Dur("duration", time.Since(start)).Msg("cache miss")
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	log.Debug().Str("key", r.key(key)).Int("size", len(b)).Dur("duration", time.Since(start)).Msg("cache hit")
	return b, nil
}

func (r *RedisLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisLayer) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *RedisLayer) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLayer) Close() error {
	log.Info().Msg("closing redis connection")
	return r.client.Close()
}
