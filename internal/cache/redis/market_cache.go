package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

const defaultMarketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache. Each snapshot is stored as JSON
// in the "data" field of the hash market:{id}.
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

var _ domain.MarketCache = (*MarketCache)(nil)

// NewMarketCache creates a MarketCache. ttl <= 0 selects five minutes.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) key(id string) string { return mc.c.Key("market:" + id) }

// Set stores a snapshot.
func (mc *MarketCache) Set(ctx context.Context, m domain.MarketState) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", m.MarketID, err)
	}
	key := mc.key(m.MarketID)
	pipe := mc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", m.MarketID, err)
	}
	return nil
}

// Get returns a cached snapshot or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.MarketState, error) {
	data, err := mc.c.rdb.HGet(ctx, mc.key(id), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MarketState{}, fmt.Errorf("redis: market %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}
	var m domain.MarketState
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.MarketState{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return m, nil
}

// Invalidate drops a cached snapshot.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	if err := mc.c.rdb.Del(ctx, mc.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}
