// Package stockguard gates stock decrements with compare-and-swap so that for
// one item at most N claims succeed, N being the stock seen when contention
// starts.
//
// Guard is per process. RedisGuard moves the counter into Redis and keeps the
// same guarantee across instances.
package stockguard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ariefcatur/go-bookstore-checkout/internal/metrics"
)

const DefaultMaxRetries = 1000

// Source is the durable ledger the counters are seeded from.
type Source interface {
	CurrentStock(ctx context.Context, itemID string) (int, error)
}

type Guard struct {
	source     Source
	maxRetries int
	metrics    *metrics.Metrics

	// itemID -> *atomic.Int64. Only inserts synchronise; counter updates are CAS.
	counters sync.Map
}

func New(source Source, maxRetries int, m *metrics.Metrics) *Guard {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Guard{source: source, maxRetries: maxRetries, metrics: m}
}

// GetOrInit returns the counter for itemID, seeding it from the ledger on
// first use. Concurrent seeders race; the first stored counter wins.
func (g *Guard) GetOrInit(ctx context.Context, itemID string) (*atomic.Int64, error) {
	if c, ok := g.counters.Load(itemID); ok {
		return c.(*atomic.Int64), nil
	}
	stock, err := g.source.CurrentStock(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("seed stock counter %s: %w", itemID, err)
	}
	fresh := new(atomic.Int64)
	fresh.Store(int64(stock))
	c, _ := g.counters.LoadOrStore(itemID, fresh)
	return c.(*atomic.Int64), nil
}

func (g *Guard) Available(ctx context.Context, itemID string) (int, error) {
	c, err := g.GetOrInit(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return int(c.Load()), nil
}

// TryDecrement claims qty units. It fails immediately when fewer than qty are
// left and gives up after maxRetries lost swaps.
func (g *Guard) TryDecrement(ctx context.Context, itemID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("invalid quantity %d", qty)
	}
	c, err := g.GetOrInit(ctx, itemID)
	if err != nil {
		return false, err
	}
	want := int64(qty)
	for range g.maxRetries {
		cur := c.Load()
		if cur < want {
			return false, nil
		}
		if c.CompareAndSwap(cur, cur-want) {
			return true, nil
		}
		g.metrics.CASRetry()
	}
	g.metrics.CASExhausted()
	return false, nil
}

// Release gives qty units back after a failed commit. Unseeded items are left
// alone; they will be seeded from the ledger on next use.
func (g *Guard) Release(_ context.Context, itemID string, qty int) error {
	if c, ok := g.counters.Load(itemID); ok {
		c.(*atomic.Int64).Add(int64(qty))
	}
	return nil
}

// Resync forces the counter back to the ledger value.
func (g *Guard) Resync(ctx context.Context, itemID string) error {
	stock, err := g.source.CurrentStock(ctx, itemID)
	if err != nil {
		return fmt.Errorf("resync stock counter %s: %w", itemID, err)
	}
	fresh := new(atomic.Int64)
	fresh.Store(int64(stock))
	if c, loaded := g.counters.LoadOrStore(itemID, fresh); loaded {
		c.(*atomic.Int64).Store(int64(stock))
	}
	return nil
}

// Value reports the counter without seeding it.
func (g *Guard) Value(itemID string) (int, bool) {
	c, ok := g.counters.Load(itemID)
	if !ok {
		return 0, false
	}
	return int(c.(*atomic.Int64).Load()), true
}
