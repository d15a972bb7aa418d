package stockguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-bookstore-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// Lua keeps check and decrement in one server-side step, which is the
// cross-instance equivalent of the in-process CAS.
var decrScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
    return -2
end
local qty = tonumber(ARGV[1])
if tonumber(v) < qty then
    return -1
end
return redis.call('DECRBY', KEYS[1], qty)
`)

var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return redis.call('INCRBY', KEYS[1], ARGV[1])
end
return -2
`)

const (
	codeInsufficient = -1
	codeUnseeded     = -2
)

type RedisGuard struct {
	rdb    *redis.Client
	source Source
}

func NewRedis(rdb *redis.Client, source Source) *RedisGuard {
	return &RedisGuard{rdb: rdb, source: source}
}

func stockKey(itemID string) string { return fmt.Sprintf(redisx.KeyStockGuard, itemID) }

// GetOrInit seeds the Redis counter with SETNX; an existing value wins.
func (g *RedisGuard) GetOrInit(ctx context.Context, itemID string) (int, error) {
	v, err := g.rdb.Get(ctx, stockKey(itemID)).Int()
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, err
	}
	stock, err := g.source.CurrentStock(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("seed stock counter %s: %w", itemID, err)
	}
	if err := g.rdb.SetNX(ctx, stockKey(itemID), stock, 0).Err(); err != nil {
		return 0, err
	}
	return g.rdb.Get(ctx, stockKey(itemID)).Int()
}

func (g *RedisGuard) Available(ctx context.Context, itemID string) (int, error) {
	return g.GetOrInit(ctx, itemID)
}

func (g *RedisGuard) TryDecrement(ctx context.Context, itemID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("invalid quantity %d", qty)
	}
	for attempt := 0; attempt < 2; attempt++ {
		code, err := decrScript.Run(ctx, g.rdb, []string{stockKey(itemID)}, qty).Int64()
		if err != nil {
			return false, fmt.Errorf("stock guard script: %w", err)
		}
		switch {
		case code >= 0:
			return true, nil
		case code == codeInsufficient:
			return false, nil
		case code == codeUnseeded:
			if _, err := g.GetOrInit(ctx, itemID); err != nil {
				return false, err
			}
		default:
			return false, fmt.Errorf("unknown result code from stock guard script: %d", code)
		}
	}
	return false, nil
}

func (g *RedisGuard) Release(ctx context.Context, itemID string, qty int) error {
	if err := releaseScript.Run(ctx, g.rdb, []string{stockKey(itemID)}, qty).Err(); err != nil {
		return fmt.Errorf("stock guard release: %w", err)
	}
	return nil
}

func (g *RedisGuard) Resync(ctx context.Context, itemID string) error {
	stock, err := g.source.CurrentStock(ctx, itemID)
	if err != nil {
		return fmt.Errorf("resync stock counter %s: %w", itemID, err)
	}
	return g.rdb.Set(ctx, stockKey(itemID), stock, 0).Err()
}
