package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache maps bearer tokens to normalized phones. It is only a hint: the
// stored user is always read back and its token compared.
type TokenCache interface {
	Lookup(ctx context.Context, token string) (phone string, ok bool, err error)
	Remember(ctx context.Context, token, phone string) error
	Forget(ctx context.Context, token string) error
}

// NoopCache is used when no Redis is configured.
type NoopCache struct{}

func (NoopCache) Lookup(context.Context, string) (string, bool, error) { return "", false, nil }
func (NoopCache) Remember(context.Context, string, string) error       { return nil }
func (NoopCache) Forget(context.Context, string) error                 { return nil }

// RedisTokenCache keeps token -> phone entries in Redis with a TTL.
type RedisTokenCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTokenCache parses redisURL and pings the server once.
func NewRedisTokenCache(redisURL string, ttl time.Duration) (*RedisTokenCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisTokenCacheWithClient(client, ttl), nil
}

// NewRedisTokenCacheWithClient wraps an existing client.
func NewRedisTokenCacheWithClient(client *redis.Client, ttl time.Duration) *RedisTokenCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTokenCache{client: client, prefix: "token:", ttl: ttl}
}

func (c *RedisTokenCache) key(token string) string {
	return c.prefix + token
}

func (c *RedisTokenCache) Lookup(ctx context.Context, token string) (string, bool, error) {
	phone, err := c.client.Get(ctx, c.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup token: %w", err)
	}
	return phone, true, nil
}

func (c *RedisTokenCache) Remember(ctx context.Context, token, phone string) error {
	if err := c.client.Set(ctx, c.key(token), phone, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache token: %w", err)
	}
	return nil
}

func (c *RedisTokenCache) Forget(ctx context.Context, token string) error {
	if err := c.client.Del(ctx, c.key(token)).Err(); err != nil {
		return fmt.Errorf("forget token: %w", err)
	}
	return nil
}

func (c *RedisTokenCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisTokenCache) Close() error {
	return c.client.Close()
}
