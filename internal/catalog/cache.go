package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Developersbbs/Rental-client-sub001/internal/billing"
)

// missingMarker is stored for products the catalog answered 404 for.
const missingMarker = "-"

// Cache keeps product summaries in Redis. Products the catalog reported as
// missing are remembered for MissingTTL so repeated lookups of a bad id do not
// reach the upstream.
type Cache struct {
	client     *redis.Client
	ttl        time.Duration
	MissingTTL time.Duration
}

// NewCache returns a product cache. A nil client or non-positive ttl disables
// it; MissingTTL defaults to a tenth of ttl.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl, MissingTTL: ttl / 10}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// cacheResult is what a product lookup found in Redis.
type cacheResult int

const (
	cacheMiss cacheResult = iota
	cacheHit
	cacheMissing
)

func (c *Cache) get(ctx context.Context, id string) (billing.ProductSummary, cacheResult, error) {
	if !c.enabled() {
		return billing.ProductSummary{}, cacheMiss, nil
	}
	raw, err := c.client.Get(ctx, productKey(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return billing.ProductSummary{}, cacheMiss, nil
	case err != nil:
		return billing.ProductSummary{}, cacheMiss, err
	case string(raw) == missingMarker:
		return billing.ProductSummary{}, cacheMissing, nil
	}
	var summary billing.ProductSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		// A corrupt entry is treated as absent and overwritten on refetch.
		return billing.ProductSummary{}, cacheMiss, err
	}
	return summary, cacheHit, nil
}

func (c *Cache) put(ctx context.Context, id string, summary billing.ProductSummary) error {
	if !c.enabled() {
		return nil
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, productKey(id), raw, c.ttl).Err()
}

func (c *Cache) markMissing(ctx context.Context, id string) error {
	if !c.enabled() || c.MissingTTL <= 0 {
		return nil
	}
	return c.client.Set(ctx, productKey(id), missingMarker, c.MissingTTL).Err()
}

// Forget drops the cached entries for ids.
func (c *Cache) Forget(ctx context.Context, ids ...string) error {
	if !c.enabled() || len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}

func productKey(id string) string {
	return "catalog:product:" + id
}
