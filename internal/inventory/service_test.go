package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/ariefcatur/go-bookstore-checkout/internal/memstore"
	"github.com/ariefcatur/go-bookstore-checkout/internal/redisx"
	"github.com/ariefcatur/go-bookstore-checkout/internal/stockguard"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stockChanged(t *testing.T, eventID, itemID string, stock int) kafkago.Message {
	t.Helper()
	payload, err := json.Marshal(checkout.StockChangedPayload{ItemID: itemID, Stock: stock})
	require.NoError(t, err)
	value, err := json.Marshal(checkout.Envelope{EventID: eventID, EventType: checkout.EventStockChanged, EventVersion: 1, Payload: payload})
	require.NoError(t, err)
	return kafkago.Message{
		Value:   value,
		Headers: []kafkago.Header{{Key: "x-event-type", Value: []byte(checkout.EventStockChanged)}},
	}
}

func setup(t *testing.T) (*Service, *memstore.Store, *stockguard.Guard) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := memstore.New()
	st.PutItem(checkout.Item{ID: "b1", Stock: 2})
	g := stockguard.New(st, 0, nil)
	return &Service{Guard: g, Dedup: &redisx.Dedup{Redis: rdb, Service: "inventory"}}, st, g
}

func TestStockChangedResyncsGuard(t *testing.T) {
	svc, st, g := setup(t)
	ctx := context.Background()

	_, err := g.Available(ctx, "b1")
	require.NoError(t, err)
	st.PutItem(checkout.Item{ID: "b1", Stock: 9})

	require.NoError(t, svc.HandleStockChanged(ctx, stockChanged(t, "e1", "b1", 9)))
	v, _ := g.Value("b1")
	assert.Equal(t, 9, v)
}

func TestDuplicateDeliveryIsSkipped(t *testing.T) {
	svc, st, g := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.HandleStockChanged(ctx, stockChanged(t, "e1", "b1", 2)))
	st.PutItem(checkout.Item{ID: "b1", Stock: 5})
	require.NoError(t, svc.HandleStockChanged(ctx, stockChanged(t, "e1", "b1", 5)))

	v, _ := g.Value("b1")
	assert.Equal(t, 2, v, "redelivered event id is ignored")
}

func TestOtherEventsAreIgnored(t *testing.T) {
	svc, _, g := setup(t)
	m := kafkago.Message{
		Value:   []byte(`{"event_type":"PurchaseCompleted"}`),
		Headers: []kafkago.Header{{Key: "x-event-type", Value: []byte(checkout.EventPurchaseCompleted)}},
	}
	require.NoError(t, svc.HandleStockChanged(context.Background(), m))
	_, ok := g.Value("b1")
	assert.False(t, ok)

	// Malformed values would otherwise be retried forever by the consumer.
	assert.NoError(t, svc.HandleStockChanged(context.Background(), kafkago.Message{Value: []byte("{")}))
	_, ok = g.Value("b1")
	assert.False(t, ok)
}

type failingGuard struct{ fails int }

func (g *failingGuard) Resync(context.Context, string) error {
	if g.fails > 0 {
		g.fails--
		return errors.New("redis down")
	}
	return nil
}

func TestFailedResyncIsRetriedOnRedelivery(t *testing.T) {
	svc, _, _ := setup(t)
	fg := &failingGuard{fails: 1}
	svc.Guard = fg
	ctx := context.Background()
	m := stockChanged(t, "e7", "b1", 3)

	assert.Error(t, svc.HandleStockChanged(ctx, m))
	require.NoError(t, svc.HandleStockChanged(ctx, m))
	assert.Zero(t, fg.fails)

	first, err := svc.Dedup.FirstSeen(ctx, "e7")
	require.NoError(t, err)
	assert.False(t, first, "successful resync keeps the mark")
}
