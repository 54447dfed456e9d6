package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfeed/compindex/internal/domain"
)

// IndexCache implements domain.IndexCache using Redis strings. The latest
// emission for each (symbol, window) pair is stored as a JSON blob at key
// "index:{symbol}:{window}". Only the most recent value is kept; history
// lives in the time-series store.
type IndexCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewIndexCache creates an IndexCache backed by the given Client. A non-zero
// ttl lets entries expire when the service stops emitting for a symbol.
func NewIndexCache(c *Client, ttl time.Duration) *IndexCache {
	return &IndexCache{rdb: c.Underlying(), ttl: ttl}
}

func indexKey(symbol string, window time.Duration) string {
	return fmt.Sprintf("index:%s:%s", symbol, window)
}

// SetIndex stores the latest emitted result for its (symbol, window) pair.
func (ic *IndexCache) SetIndex(ctx context.Context, res domain.IndexResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("redis: marshal index %s: %w", res.Symbol, err)
	}
	key := indexKey(res.Symbol, res.Window)
	if err := ic.rdb.Set(ctx, key, payload, ic.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set index %s: %w", key, err)
	}
	return nil
}

// GetIndex retrieves the latest emission for a (symbol, window) pair. It
// returns domain.ErrNotFound when no value has been cached.
func (ic *IndexCache) GetIndex(ctx context.Context, symbol string, window time.Duration) (domain.IndexResult, error) {
	key := indexKey(symbol, window)
	payload, err := ic.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.IndexResult{}, domain.ErrNotFound
		}
		return domain.IndexResult{}, fmt.Errorf("redis: get index %s: %w", key, err)
	}

	var res domain.IndexResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return domain.IndexResult{}, fmt.Errorf("redis: unmarshal index %s: %w", key, err)
	}
	return res, nil
}

// GetIndexes retrieves the latest emissions for multiple symbols in one
// pipeline round trip. Symbols with no cached value are silently omitted.
func (ic *IndexCache) GetIndexes(ctx context.Context, symbols []string, window time.Duration) (map[string]domain.IndexResult, error) {
	if len(symbols) == 0 {
		return map[string]domain.IndexResult{}, nil
	}

	pipe := ic.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.Get(ctx, indexKey(s, window))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get indexes pipeline: %w", err)
	}

	result := make(map[string]domain.IndexResult, len(symbols))
	for s, cmd := range cmds {
		payload, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var res domain.IndexResult
		if err := json.Unmarshal(payload, &res); err != nil {
			continue
		}
		result[s] = res
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.IndexCache = (*IndexCache)(nil)
