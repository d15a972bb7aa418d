package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/ariefcatur/go-bookstore-checkout/internal/clock"
	"github.com/ariefcatur/go-bookstore-checkout/internal/memstore"
	"github.com/ariefcatur/go-bookstore-checkout/internal/metrics"
	"github.com/ariefcatur/go-bookstore-checkout/internal/stockguard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type topics struct {
	mu   sync.Mutex
	seen []string
}

func (p *topics) Publish(_ context.Context, topic string, _, _ []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, topic)
	return nil
}

func TestSweepOnce(t *testing.T) {
	st := memstore.New()
	clk := clock.NewManual(t0)
	pub := &topics{}
	m := metrics.New(prometheus.NewRegistry(), "test")
	sw := &Sweeper{Store: st, Clock: clk, Events: checkout.Emitter{Publisher: pub}, Metrics: m}
	ctx := context.Background()

	require.NoError(t, st.CreateReservation(ctx, checkout.Reservation{ID: "r1", UserID: "u1", ItemID: "b1", Status: checkout.ReservationLocked, ExpiresAt: t0.Add(time.Minute)}))
	require.NoError(t, st.CreateReservation(ctx, checkout.Reservation{ID: "r2", UserID: "u1", ItemID: "b2", Status: checkout.ReservationCompleted, ExpiresAt: t0.Add(time.Minute)}))
	require.NoError(t, st.CreateCart(ctx, checkout.Cart{ID: "c1", UserID: "u1", Status: checkout.CartActive, ExpiresAt: t0.Add(30 * time.Minute)}))
	require.NoError(t, st.SaveCartItem(ctx, checkout.CartItem{ID: "i1", CartID: "c1", ItemID: "b1", Quantity: 1, ReservedUntil: t0.Add(15 * time.Minute)}))

	assert.Equal(t, Result{}, sw.SweepOnce(ctx))

	clk.Advance(16 * time.Minute)
	assert.Equal(t, Result{Reservations: 1, CartItems: 1}, sw.SweepOnce(ctx))
	_, err := st.GetReservation(ctx, "r2")
	assert.NoError(t, err, "completed reservations are kept")

	clk.Advance(15 * time.Minute)
	assert.Equal(t, Result{Carts: 1}, sw.SweepOnce(ctx))
	c, _ := st.Cart("c1")
	assert.Equal(t, checkout.CartExpired, c.Status)

	assert.Equal(t, []string{checkout.TopicReservationExpired, checkout.TopicCartExpired}, pub.seen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reclaimed.WithLabelValues("reservation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reclaimed.WithLabelValues("cart")))
}

// A confirm that loses the race to the sweeper fails cleanly and leaves
// stock, guard and credit untouched.
func TestSweptReservationCannotBeConfirmed(t *testing.T) {
	st := memstore.New()
	st.PutItem(checkout.Item{ID: "b1", Price: decimal.NewFromInt(10), Stock: 1})
	st.PutAccount(checkout.Account{ID: "u1", Status: checkout.AccountActive, AvailableCredit: decimal.NewFromInt(50)})
	clk := clock.NewManual(t0)
	g := stockguard.New(st, 0, nil)
	svc := &checkout.Service{
		Accounts: st, Credits: st, Catalog: st, Stock: st, Purchases: st,
		Reservations: st, Carts: st, Locks: st, Guard: g, Receipts: st,
		Clock: clk, Opts: checkout.DefaultOptions(),
	}
	sw := &Sweeper{Store: st, Clock: clk}
	ctx := context.Background()

	res, err := svc.BeginPurchase(ctx, "u1", "b1")
	require.NoError(t, err)
	clk.Advance(16 * time.Minute)
	sw.SweepOnce(ctx)

	_, err = svc.ConfirmPurchase(ctx, "u1", res.ID)
	assert.ErrorIs(t, err, checkout.ErrSessionNotFound)
	it, _ := st.ItemByID(ctx, "b1")
	assert.Equal(t, 1, it.Stock)
	v, _ := g.Value("b1")
	assert.Equal(t, 1, v)
}

func TestRunStopsOnCancel(t *testing.T) {
	sw := &Sweeper{Store: memstore.New(), Clock: clock.System{}, Interval: time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, sw.Run(ctx))
}
