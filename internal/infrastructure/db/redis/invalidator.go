package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// userCachePatterns are the derived per-user views other services cache.
var userCachePatterns = []string{"user:%s:*", "stats:%s:*"}

// CacheInvalidator drops cached per-user views after a session changes.
type CacheInvalidator struct {
	client *redis.Client
}

// NewCacheInvalidator creates a CacheInvalidator wrapping the given Redis client.
func NewCacheInvalidator(client *redis.Client) *CacheInvalidator {
	return &CacheInvalidator{client: client}
}

// InvalidateUser deletes every key cached for userID. SCAN is used instead of
// KEYS so a large keyspace does not stall the server.
func (c *CacheInvalidator) InvalidateUser(ctx context.Context, userID string) error {
	for _, pattern := range userCachePatterns {
		if err := c.deletePattern(ctx, fmt.Sprintf(pattern, userID)); err != nil {
			return err
		}
	}
	return nil
}

func (c *CacheInvalidator) deletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("invalidate %s: %w", pattern, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", pattern, err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("invalidate %s: %w", pattern, err)
		}
	}
	return nil
}
