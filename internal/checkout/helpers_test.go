package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/ariefcatur/go-bookstore-checkout/internal/clock"
	"github.com/ariefcatur/go-bookstore-checkout/internal/memstore"
	"github.com/ariefcatur/go-bookstore-checkout/internal/stockguard"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type sent struct {
	topic     string
	eventType string
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recorder) Publish(_ context.Context, topic string, _, _ []byte, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{topic: topic, eventType: eventType})
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.eventType)
	}
	return out
}

type fixture struct {
	store *memstore.Store
	guard *stockguard.Guard
	clock *clock.Manual
	pub   *recorder
	svc   *checkout.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	g := stockguard.New(st, 0, nil)
	clk := clock.NewManual(t0)
	pub := &recorder{}
	svc := &checkout.Service{
		Accounts:     st,
		Credits:      st,
		Catalog:      st,
		Stock:        st,
		Purchases:    st,
		Reservations: st,
		Carts:        st,
		Locks:        st,
		Guard:        g,
		Receipts:     st,
		Events:       checkout.Emitter{Publisher: pub, Producer: "test"},
		Clock:        clk,
		Opts:         checkout.DefaultOptions(),
	}
	return &fixture{store: st, guard: g, clock: clk, pub: pub, svc: svc}
}

func (f *fixture) book(id string, price string, stock int) {
	f.store.PutItem(checkout.Item{ID: id, Title: "Book " + id, Price: decimal.RequireFromString(price), Stock: stock})
}

func (f *fixture) user(id string, credit int64) {
	f.store.PutAccount(checkout.Account{ID: id, Status: checkout.AccountActive, AvailableCredit: decimal.NewFromInt(credit)})
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	it, err := f.store.ItemByID(context.Background(), id)
	require.NoError(t, err)
	return it.Stock
}

func (f *fixture) credit(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	a, err := f.store.AccountByID(context.Background(), id)
	require.NoError(t, err)
	return a.AvailableCredit
}

var errDiskFull = errors.New("disk full")

// flakyLedger fails stock writes for one item.
type flakyLedger struct {
	*memstore.Store
	item string
}

func (l flakyLedger) DecrementStock(ctx context.Context, itemID string, qty int) (int, error) {
	if itemID == l.item {
		return 0, errDiskFull
	}
	return l.Store.DecrementStock(ctx, itemID, qty)
}

type brokenPurchases struct{ *memstore.Store }

func (brokenPurchases) AppendPurchase(context.Context, checkout.Purchase) error { return errDiskFull }

type slowAccounts struct{}

func (slowAccounts) AccountByID(ctx context.Context, _ string) (checkout.Account, error) {
	<-ctx.Done()
	return checkout.Account{}, ctx.Err()
}

// slowLocks widens the window between the availability count and the insert.
type slowLocks struct{ *memstore.Store }

func (l slowLocks) CountLiveLocks(ctx context.Context, itemID string, now time.Time) (int, error) {
	time.Sleep(2 * time.Millisecond)
	return l.Store.CountLiveLocks(ctx, itemID, now)
}
