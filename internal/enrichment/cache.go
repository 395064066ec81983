package enrichment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wikirelay/internal/constants"
)

// Cache stores finished translations keyed by their source text.
type Cache interface {
	Get(ctx context.Context, text string) (string, bool, error)
	Set(ctx context.Context, text, result string) error
}

type RedisCache struct {
	client *redis.Client
	model  string
	ttl    time.Duration
}

// NewRedisCache keys entries by model so switching models never serves stale answers.
func NewRedisCache(client *redis.Client, model string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		model:  model,
		ttl:    ttl,
	}
}

func (c *RedisCache) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return constants.CacheKeyPrefixEnrich + hex.EncodeToString(sum[:])
}

func (c *RedisCache) Get(ctx context.Context, text string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(text)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, text, result string) error {
	if err := c.client.Set(ctx, c.key(text), result, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
