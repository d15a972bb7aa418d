package checkout_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginPurchaseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.book("b1", "10.00", 3)
	f.user("u1", 100)
	ctx := context.Background()

	first, err := f.svc.BeginPurchase(ctx, "u1", "b1")
	require.NoError(t, err)
	assert.Equal(t, checkout.ReservationLocked, first.Status)
	assert.Equal(t, t0.Add(15*time.Minute), first.ExpiresAt)

	again, err := f.svc.BeginPurchase(ctx, "u1", "b1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	n, err := f.store.CountLiveLocks(ctx, "b1", t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentBeginsShareTheLastUnit(t *testing.T) {
	const buyers = 8
	f := newFixture(t)
	f.book("x", "1.00", 1)
	f.svc.Locks = slowLocks{f.store}
	ctx := context.Background()
	for i := range buyers {
		f.user(fmt.Sprintf("u%d", i), 10)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		held int
	)
	start := make(chan struct{})
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.BeginPurchase(ctx, fmt.Sprintf("u%d", i), "x")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case checkout.KindOf(err) == checkout.KindTemporarilyUnavailable:
				held++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, buyers-1, held)
	n, err := f.store.CountLiveLocks(ctx, "x", t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentBeginsBySameUserYieldOneReservation(t *testing.T) {
	f := newFixture(t)
	f.book("b1", "1.00", 5)
	f.user("u1", 10)
	f.svc.Locks = slowLocks{f.store}
	ctx := context.Background()

	ids := make([]string, 6)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.BeginPurchase(ctx, "u1", "b1")
			assert.NoError(t, err)
			ids[i] = res.ID
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	n, err := f.store.CountLiveLocks(ctx, "b1", t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBeginPurchaseAccountChecks(t *testing.T) {
	f := newFixture(t)
	f.book("b1", "10.00", 3)
	f.store.PutAccount(checkout.Account{ID: "pending", Status: checkout.AccountPending, AvailableCredit: decimal.NewFromInt(50)})
	f.store.PutAccount(checkout.Account{ID: "banned", Status: "SUSPENDED", AvailableCredit: decimal.NewFromInt(50)})
	f.user("poor", 5)
	ctx := context.Background()

	_, err := f.svc.BeginPurchase(ctx, "", "b1")
	assert.ErrorIs(t, err, checkout.ErrNotAuthenticated)

	_, err = f.svc.BeginPurchase(ctx, "ghost", "b1")
	assert.ErrorIs(t, err, checkout.ErrAccountNotFound)

	_, err = f.svc.BeginPurchase(ctx, "pending", "b1")
	assert.ErrorIs(t, err, checkout.ErrAccountPending)
	assert.True(t, checkout.IsAccountInactive(err))

	_, err = f.svc.BeginPurchase(ctx, "banned", "b1")
	assert.ErrorIs(t, err, checkout.ErrAccountNotActive)
	assert.Contains(t, err.Error(), "SUSPENDED")

	_, err = f.svc.BeginPurchase(ctx, "poor", "b1")
	assert.ErrorIs(t, err, checkout.ErrInsufficientCredit)

	_, err = f.svc.BeginPurchase(ctx, "poor", "missing")
	assert.ErrorIs(t, err, checkout.ErrItemNotFound)
}

func TestLastUnitIsHeldByLiveReservation(t *testing.T) {
	f := newFixture(t)
	f.book("x", "10.00", 1)
	f.user("u1", 100)
	f.user("u2", 100)
	ctx := context.Background()

	res, err := f.svc.BeginPurchase(ctx, "u1", "x")
	require.NoError(t, err)

	_, err = f.svc.BeginPurchase(ctx, "u2", "x")
	assert.ErrorIs(t, err, checkout.ErrTemporarilyUnavailable)

	receipt, err := f.svc.ConfirmPurchase(ctx, "u1", res.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, receipt.RemainingStock)
	assert.True(t, receipt.RemainingCredit.Equal(decimal.NewFromInt(90)))
	assert.Equal(t, 0, f.stock(t, "x"))

	_, err = f.svc.BeginPurchase(ctx, "u2", "x")
	assert.ErrorIs(t, err, checkout.ErrOutOfStock)
}

func TestExpiredReservationFreesTheUnit(t *testing.T) {
	f := newFixture(t)
	f.book("x", "10.00", 1)
	f.user("u1", 100)
	f.user("u2", 100)
	ctx := context.Background()

	res, err := f.svc.BeginPurchase(ctx, "u1", "x")
	require.NoError(t, err)

	f.clock.Advance(15*time.Minute + time.Second)

	_, err = f.svc.BeginPurchase(ctx, "u2", "x")
	require.NoError(t, err, "an expired lock no longer counts")

	_, err = f.svc.ConfirmPurchase(ctx, "u1", res.ID)
	assert.ErrorIs(t, err, checkout.ErrSessionExpired)

	_, err = f.store.GetReservation(ctx, res.ID)
	assert.ErrorIs(t, err, checkout.ErrNotFound)
	assert.Equal(t, 1, f.stock(t, "x"))
}

func TestConfirmChecksOwnership(t *testing.T) {
	f := newFixture(t)
	f.book("b1", "10.00", 3)
	f.user("u1", 100)
	f.user("u2", 100)
	ctx := context.Background()

	res, err := f.svc.BeginPurchase(ctx, "u1", "b1")
	require.NoError(t, err)

	_, err = f.svc.ConfirmPurchase(ctx, "u2", res.ID)
	assert.ErrorIs(t, err, checkout.ErrSessionOwnershipMismatch)

	_, err = f.svc.ConfirmPurchase(ctx, "u1", "nope")
	assert.ErrorIs(t, err, checkout.ErrSessionNotFound)
	assert.Equal(t, 3, f.stock(t, "b1"))
}

func TestDoubleConfirmReturnsFirstReceipt(t *testing.T) {
	f := newFixture(t)
	f.book("b1", "12.50", 3)
	f.user("u1", 100)
	ctx := context.Background()

	res, err := f.svc.BeginPurchase(ctx, "u1", "b1")
	require.NoError(t, err)

	first, err := f.svc.ConfirmPurchase(ctx, "u1", res.ID)
	require.NoError(t, err)
	second, err := f.svc.ConfirmPurchase(ctx, "u1", res.ID)
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 2, f.stock(t, "b1"))
	assert.Len(t, f.store.Purchases("u1"), 1)
	assert.True(t, f.credit(t, "u1").Equal(decimal.RequireFromString("87.50")))
	assert.Contains(t, f.pub.types(), checkout.EventPurchaseCompleted)
}

func TestNoOversellUnderConcurrentConfirms(t *testing.T) {
	const stock, buyers = 5, 20
	f := newFixture(t)
	f.book("y", "1.00", stock)
	ctx := context.Background()

	ids := make([]string, buyers)
	for i := range buyers {
		user := fmt.Sprintf("u%d", i)
		f.user(user, 10)
		ids[i] = fmt.Sprintf("r%d", i)
		require.NoError(t, f.store.CreateReservation(ctx, checkout.Reservation{
			ID: ids[i], UserID: user, ItemID: "y", Status: checkout.ReservationLocked,
			CreatedAt: t0, ExpiresAt: t0.Add(15 * time.Minute),
		}))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		soldOut int
	)
	start := make(chan struct{})
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.ConfirmPurchase(ctx, fmt.Sprintf("u%d", i), ids[i])
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case checkout.KindOf(err) == checkout.KindOutOfStock:
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, stock, ok)
	assert.Equal(t, buyers-stock, soldOut)
	assert.Equal(t, 0, f.stock(t, "y"))
	v, _ := f.guard.Value("y")
	assert.Equal(t, 0, v)
}

func TestConfirmRollsBackWhenLedgerAppendFails(t *testing.T) {
	f := newFixture(t)
	f.book("b1", "10.00", 3)
	f.user("u1", 100)
	f.svc.Purchases = brokenPurchases{f.store}
	ctx := context.Background()

	res, err := f.svc.BeginPurchase(ctx, "u1", "b1")
	require.NoError(t, err)

	_, err = f.svc.ConfirmPurchase(ctx, "u1", res.ID)
	assert.ErrorIs(t, err, checkout.ErrPersistenceFailure)
	assert.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, 3, f.stock(t, "b1"))
	v, _ := f.guard.Value("b1")
	assert.Equal(t, 3, v)
	assert.True(t, f.credit(t, "u1").Equal(decimal.NewFromInt(100)))
	_, err = f.store.GetReservation(ctx, res.ID)
	assert.ErrorIs(t, err, checkout.ErrNotFound)
	assert.Contains(t, f.pub.types(), checkout.EventPurchaseFailed)
}

func TestConfirmRollsBackWhenStockWriteFails(t *testing.T) {
	f := newFixture(t)
	f.book("b1", "10.00", 3)
	f.user("u1", 100)
	f.svc.Stock = flakyLedger{Store: f.store, item: "b1"}
	ctx := context.Background()

	res, err := f.svc.BeginPurchase(ctx, "u1", "b1")
	require.NoError(t, err)

	_, err = f.svc.ConfirmPurchase(ctx, "u1", res.ID)
	assert.ErrorIs(t, err, checkout.ErrPersistenceFailure)

	v, _ := f.guard.Value("b1")
	assert.Equal(t, 3, v)
	assert.Equal(t, 3, f.stock(t, "b1"))
	_, err = f.store.GetReservation(ctx, res.ID)
	assert.ErrorIs(t, err, checkout.ErrNotFound)
}

func TestConfirmRechecksCredit(t *testing.T) {
	f := newFixture(t)
	f.book("b1", "10.00", 3)
	f.user("u1", 15)
	ctx := context.Background()

	res, err := f.svc.BeginPurchase(ctx, "u1", "b1")
	require.NoError(t, err)
	require.NoError(t, f.store.Debit(ctx, "u1", decimal.NewFromInt(10)))

	_, err = f.svc.ConfirmPurchase(ctx, "u1", res.ID)
	assert.ErrorIs(t, err, checkout.ErrInsufficientCredit)
	assert.Equal(t, 3, f.stock(t, "b1"))
	_, err = f.store.GetReservation(ctx, res.ID)
	assert.ErrorIs(t, err, checkout.ErrNotFound)
}

func TestCancelPurchaseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.book("b1", "10.00", 1)
	f.user("u1", 100)
	f.user("u2", 100)
	ctx := context.Background()

	res, err := f.svc.BeginPurchase(ctx, "u1", "b1")
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelPurchase(ctx, "u1", res.ID))
	require.NoError(t, f.svc.CancelPurchase(ctx, "u1", res.ID))

	_, err = f.svc.ConfirmPurchase(ctx, "u1", res.ID)
	assert.ErrorIs(t, err, checkout.ErrSessionNotFound)

	_, err = f.svc.BeginPurchase(ctx, "u2", "b1")
	assert.NoError(t, err, "cancel releases the lock")
}

func TestCancelAfterConfirmKeepsPurchase(t *testing.T) {
	f := newFixture(t)
	f.book("b1", "10.00", 2)
	f.user("u1", 100)
	ctx := context.Background()

	res, err := f.svc.BeginPurchase(ctx, "u1", "b1")
	require.NoError(t, err)
	_, err = f.svc.ConfirmPurchase(ctx, "u1", res.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelPurchase(ctx, "u1", res.ID))
	got, err := f.svc.GetSession(ctx, "u1", res.ID)
	require.NoError(t, err)
	assert.Equal(t, checkout.ReservationCompleted, got.Status)
	assert.Equal(t, 1, f.stock(t, "b1"))
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)
	f.user("u1", 40)
	f.store.PutAccount(checkout.Account{ID: "u2", Status: checkout.AccountPending})
	ctx := context.Background()

	st, err := f.svc.GetStatus(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, st.CanPurchase)
	assert.True(t, st.AvailableCredit.Equal(decimal.NewFromInt(40)))

	st, err = f.svc.GetStatus(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, st.CanPurchase)
	assert.Contains(t, st.Message, "pending")
}

func TestUpdateStockResyncsGuard(t *testing.T) {
	f := newFixture(t)
	f.book("b1", "10.00", 1)
	ctx := context.Background()

	_, err := f.guard.Available(ctx, "b1")
	require.NoError(t, err)

	item, err := f.svc.UpdateStock(ctx, "b1", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, item.Stock)
	v, _ := f.guard.Value("b1")
	assert.Equal(t, 7, v)
	assert.Contains(t, f.pub.types(), checkout.EventStockChanged)

	_, err = f.svc.UpdateStock(ctx, "b1", -1)
	assert.ErrorIs(t, err, checkout.ErrInvalidRequest)
}

func TestSlowAccountLookupIsUpstreamUnavailable(t *testing.T) {
	f := newFixture(t)
	f.book("b1", "10.00", 1)
	f.svc.Accounts = slowAccounts{}
	f.svc.Opts.UpstreamTimeout = 10 * time.Millisecond

	_, err := f.svc.BeginPurchase(context.Background(), "u1", "b1")
	assert.ErrorIs(t, err, checkout.ErrUpstreamUnavailable)
}
