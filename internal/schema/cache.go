package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache stores resolved column definitions per business in Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a schema cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(businessID uuid.UUID) string {
	return fmt.Sprintf("schema:%s:columns", businessID)
}

// Get returns cached columns, or ok=false on miss or unavailable cache.
func (c *Cache) Get(ctx context.Context, businessID uuid.UUID) ([]ColumnDefinition, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, cacheKey(businessID)).Bytes()
	if err != nil {
		return nil, false
	}
	var columns []ColumnDefinition
	if err := json.Unmarshal(payload, &columns); err != nil {
		return nil, false
	}
	return columns, true
}

// Set stores columns for the business.
func (c *Cache) Set(ctx context.Context, businessID uuid.UUID, columns []ColumnDefinition) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(columns)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(businessID), payload, c.ttl).Err()
}

// Invalidate drops the cached columns after a schema update.
func (c *Cache) Invalidate(ctx context.Context, businessID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	err := c.client.Del(ctx, cacheKey(businessID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
