package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"riskwatch/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Cache is an optional Redis-backed baseline cache. It is purely a
// performance optimization: misses and errors mean "recompute", and appends to
// a subject's history must invalidate its entry so staleness stays bounded by
// the TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(subjectID string) string {
	return "baseline:" + subjectID
}

// Get returns the cached baseline, or nil on miss. Errors are returned so the
// caller can log them, but callers treat any error as a miss.
func (c *Cache) Get(ctx context.Context, subjectID string) (*domain.Baseline, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, cacheKey(subjectID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var b domain.Baseline
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Cache) Set(ctx context.Context, subjectID string, b domain.Baseline) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(subjectID), raw, c.ttl).Err()
}

// Invalidate drops the cached baseline for a subject. Called whenever new
// activity is appended.
func (c *Cache) Invalidate(ctx context.Context, subjectID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(subjectID)).Err()
}
