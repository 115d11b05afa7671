package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roaddata/webtris-scraper/internal/catalogue"
)

const catalogueKey = "webtris:catalogue"

// CatalogueCache stores the resolved site catalogue in Redis so closely
// spaced runs (e.g. scheduled test runs) skip the upstream sites call.
type CatalogueCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCatalogueCache creates a cache with the given expiry.
func NewCatalogueCache(redisClient *redis.Client, ttl time.Duration) *CatalogueCache {
	return &CatalogueCache{redis: redisClient, ttl: ttl}
}

// Get returns the cached catalogue. ok is false on a miss.
func (c *CatalogueCache) Get(ctx context.Context) ([]catalogue.Site, bool, error) {
	data, err := c.redis.Get(ctx, catalogueKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get catalogue from Redis: %w", err)
	}

	var sites []catalogue.Site
	if err := json.Unmarshal([]byte(data), &sites); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached catalogue: %w", err)
	}
	return sites, true, nil
}

// Set stores the catalogue with the configured TTL.
func (c *CatalogueCache) Set(ctx context.Context, sites []catalogue.Site) error {
	data, err := json.Marshal(sites)
	if err != nil {
		return fmt.Errorf("failed to marshal catalogue: %w", err)
	}

	if err := c.redis.Set(ctx, catalogueKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set catalogue in Redis: %w", err)
	}
	return nil
}

// Invalidate drops the cached catalogue.
func (c *CatalogueCache) Invalidate(ctx context.Context) error {
	return c.redis.Del(ctx, catalogueKey).Err()
}
