package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestDecrementStockIsConditional(t *testing.T) {
	s := New()
	s.PutItem(checkout.Item{ID: "b1", Stock: 2})
	ctx := context.Background()

	left, err := s.DecrementStock(ctx, "b1", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	_, err = s.DecrementStock(ctx, "b1", 1)
	assert.ErrorIs(t, err, checkout.ErrInsufficientStock)

	_, err = s.DecrementStock(ctx, "nope", 1)
	assert.ErrorIs(t, err, checkout.ErrNotFound)
}

func TestDebitRefusesOverdraft(t *testing.T) {
	s := New()
	s.PutAccount(checkout.Account{ID: "u1", AvailableCredit: decimal.NewFromInt(10)})
	ctx := context.Background()

	assert.ErrorIs(t, s.Debit(ctx, "u1", decimal.NewFromInt(11)), checkout.ErrInsufficientFunds)
	require.NoError(t, s.Debit(ctx, "u1", decimal.NewFromInt(4)))
	require.NoError(t, s.Refund(ctx, "u1", decimal.NewFromInt(1)))

	a, err := s.AccountByID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, a.AvailableCredit.Equal(decimal.NewFromInt(7)))
}

func TestCompleteReservationOnlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateReservation(ctx, checkout.Reservation{
		ID: "r1", UserID: "u1", ItemID: "b1", Status: checkout.ReservationLocked, ExpiresAt: t0.Add(time.Minute),
	}))

	require.NoError(t, s.CompleteReservation(ctx, "r1", t0))
	assert.ErrorIs(t, s.CompleteReservation(ctx, "r1", t0), checkout.ErrNotFound)

	require.NoError(t, s.CreateReservation(ctx, checkout.Reservation{
		ID: "r2", Status: checkout.ReservationLocked, ExpiresAt: t0.Add(-time.Second),
	}))
	assert.ErrorIs(t, s.CompleteReservation(ctx, "r2", t0), checkout.ErrNotFound)
}

func TestCountLiveLocks(t *testing.T) {
	s := New()
	ctx := context.Background()
	live := t0.Add(time.Minute)
	gone := t0.Add(-time.Minute)

	for _, r := range []checkout.Reservation{
		{ID: "r1", ItemID: "b1", Status: checkout.ReservationLocked, ExpiresAt: live},
		{ID: "r2", ItemID: "b1", Status: checkout.ReservationLocked, ExpiresAt: gone},
		{ID: "r3", ItemID: "b1", Status: checkout.ReservationCompleted, ExpiresAt: live},
		{ID: "r4", ItemID: "b2", Status: checkout.ReservationLocked, ExpiresAt: live},
	} {
		require.NoError(t, s.CreateReservation(ctx, r))
	}
	require.NoError(t, s.CreateCart(ctx, checkout.Cart{ID: "c1", Status: checkout.CartActive, ExpiresAt: live}))
	require.NoError(t, s.CreateCart(ctx, checkout.Cart{ID: "c2", Status: checkout.CartCompleted, ExpiresAt: live}))
	require.NoError(t, s.SaveCartItem(ctx, checkout.CartItem{ID: "i1", CartID: "c1", ItemID: "b1", Quantity: 3, ReservedUntil: live}))
	require.NoError(t, s.SaveCartItem(ctx, checkout.CartItem{ID: "i2", CartID: "c1", ItemID: "b1", Quantity: 5, ReservedUntil: gone}))
	require.NoError(t, s.SaveCartItem(ctx, checkout.CartItem{ID: "i3", CartID: "c2", ItemID: "b1", Quantity: 7, ReservedUntil: live}))

	n, err := s.CountLiveLocks(ctx, "b1", t0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestExpiryHelpers(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateReservation(ctx, checkout.Reservation{ID: "old", Status: checkout.ReservationLocked, ExpiresAt: t0.Add(-time.Second)}))
	require.NoError(t, s.CreateReservation(ctx, checkout.Reservation{ID: "done", Status: checkout.ReservationCompleted, ExpiresAt: t0.Add(-time.Second)}))
	require.NoError(t, s.CreateCart(ctx, checkout.Cart{ID: "c1", Status: checkout.CartCheckingOut, ExpiresAt: t0.Add(-time.Second)}))
	require.NoError(t, s.SaveCartItem(ctx, checkout.CartItem{ID: "i1", CartID: "c1", ReservedUntil: t0.Add(time.Hour)}))

	gone, err := s.DeleteExpiredReservations(ctx, t0)
	require.NoError(t, err)
	require.Len(t, gone, 1)
	assert.Equal(t, "old", gone[0].ID)

	carts, err := s.ExpireCarts(ctx, t0)
	require.NoError(t, err)
	require.Len(t, carts, 1)
	c, _ := s.Cart("c1")
	assert.Equal(t, checkout.CartExpired, c.Status)
	items, _ := s.CartItems(ctx, "c1")
	assert.Empty(t, items)
}

func TestReserveItemAdmission(t *testing.T) {
	s := New()
	s.PutItem(checkout.Item{ID: "b1", Stock: 1})
	ctx := context.Background()
	lock := func(id, user string) checkout.Reservation {
		return checkout.Reservation{ID: id, UserID: user, ItemID: "b1", Status: checkout.ReservationLocked,
			CreatedAt: t0, ExpiresAt: t0.Add(15 * time.Minute)}
	}

	got, err := s.ReserveItem(ctx, lock("r1", "u1"), 5, t0)
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)

	got, err = s.ReserveItem(ctx, lock("r2", "u1"), 5, t0)
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID, "live reservation is reused")

	_, err = s.ReserveItem(ctx, lock("r3", "u2"), 5, t0)
	assert.ErrorIs(t, err, checkout.ErrNoCapacity)

	// Once r1 lapses, u1's stale row is replaced and the unit is free again.
	later := t0.Add(16 * time.Minute)
	r4 := lock("r4", "u1")
	r4.ExpiresAt = later.Add(15 * time.Minute)
	got, err = s.ReserveItem(ctx, r4, 5, later)
	require.NoError(t, err)
	assert.Equal(t, "r4", got.ID)
	_, err = s.GetReservation(ctx, "r1")
	assert.ErrorIs(t, err, checkout.ErrNotFound)

	_, err = s.ReserveItem(ctx, checkout.Reservation{ID: "r5", ItemID: "nope"}, 1, t0)
	assert.ErrorIs(t, err, checkout.ErrNotFound)
}
