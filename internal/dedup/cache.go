// Package dedup guards against the same entity being queued for
// enrichment many times in quick succession, e.g. when a popular
// domain is seen across a large batch of tabs in one ingest.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache reports whether an entity was already marked pending within the
// last window, and marks it pending otherwise, atomically.
type Cache interface {
	// MarkPending returns true if this call won the race and the caller
	// should enqueue the entity; false if another call already claimed
	// it within the window.
	MarkPending(ctx context.Context, entityID int64, window time.Duration) (bool, error)
}

type redisCache struct {
	client *redis.Client
}

// NewRedisCache builds a Cache backed by Redis SETNX semantics via SetNX.
func NewRedisCache(addr, password string, db int) Cache {
	return &redisCache{client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})}
}

func (c *redisCache) MarkPending(ctx context.Context, entityID int64, window time.Duration) (bool, error) {
	key := fmt.Sprintf("tabgraph:enrich-pending:%d", entityID)
	ok, err := c.client.SetNX(ctx, key, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: checking pending entity %d: %w", entityID, err)
	}
	return ok, nil
}

// noop always allows the enqueue, used when no Redis instance is
// configured; the worker's own NeedsEnrichment TTL check still prevents
// redundant LLM calls, just not redundant queue traffic.
type noop struct{}

func NewNoop() Cache { return noop{} }

func (noop) MarkPending(ctx context.Context, entityID int64, window time.Duration) (bool, error) {
	return true, nil
}
