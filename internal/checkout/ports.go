package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Accounts interface {
	AccountByID(ctx context.Context, userID string) (Account, error)
}

type Catalog interface {
	ItemByID(ctx context.Context, itemID string) (Item, error)
	SaveItem(ctx context.Context, item Item) error
}

// StockLedger is the durable stock column. DecrementStock must be conditional
// on enough stock remaining and return ErrInsufficientStock otherwise.
type StockLedger interface {
	DecrementStock(ctx context.Context, itemID string, qty int) (remaining int, err error)
	IncrementStock(ctx context.Context, itemID string, qty int) error
}

type PurchaseLedger interface {
	AppendPurchase(ctx context.Context, p Purchase) error
	RemovePurchase(ctx context.Context, purchaseID string) error
}

// CreditLedger.Debit returns ErrInsufficientFunds when the balance is short.
type CreditLedger interface {
	Debit(ctx context.Context, userID string, amount decimal.Decimal) error
	Refund(ctx context.Context, userID string, amount decimal.Decimal) error
}

type ReservationStore interface {
	CreateReservation(ctx context.Context, r Reservation) error
	// ReserveItem admits a single-item reservation in one serialized step. A
	// live LOCKED reservation for the same user and item is returned instead of
	// r; ErrNoCapacity means live locks already cover min(limit, ledger stock).
	ReserveItem(ctx context.Context, r Reservation, limit int, now time.Time) (Reservation, error)
	GetReservation(ctx context.Context, id string) (Reservation, error)
	FindLockedReservation(ctx context.Context, userID, itemID string) (Reservation, error)
	FindCartReservation(ctx context.Context, cartID string) (Reservation, error)
	// CompleteReservation flips LOCKED to COMPLETED only while unexpired.
	// Anything else yields ErrNotFound.
	CompleteReservation(ctx context.Context, id string, now time.Time) error
	DeleteReservation(ctx context.Context, id string) error
	DeleteExpiredReservations(ctx context.Context, now time.Time) ([]Reservation, error)
}

type CartStore interface {
	ActiveCart(ctx context.Context, userID string) (Cart, error)
	CheckoutCarts(ctx context.Context, userID string) ([]Cart, error)
	CreateCart(ctx context.Context, c Cart) error
	UpdateCart(ctx context.Context, c Cart) error
	CartItems(ctx context.Context, cartID string) ([]CartItem, error)
	CartItemByID(ctx context.Context, id string) (CartItem, error)
	SaveCartItem(ctx context.Context, it CartItem) error
	DeleteCartItem(ctx context.Context, id string) error
	CompleteCart(ctx context.Context, cartID string) error
	DeleteExpiredCartItems(ctx context.Context, now time.Time) (int, error)
	ExpireCarts(ctx context.Context, now time.Time) ([]Cart, error)
}

// LockCounter sums live single-item reservations and live cart lines for an item.
type LockCounter interface {
	CountLiveLocks(ctx context.Context, itemID string, now time.Time) (int, error)
}

// StockGuard gates every stock decrement. See package stockguard.
type StockGuard interface {
	Available(ctx context.Context, itemID string) (int, error)
	TryDecrement(ctx context.Context, itemID string, qty int) (bool, error)
	Release(ctx context.Context, itemID string, qty int) error
	Resync(ctx context.Context, itemID string) error
}

type ReceiptCache interface {
	PutReceipt(ctx context.Context, r Receipt) error
	GetReceipt(ctx context.Context, sessionID string) (Receipt, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, eventType string) error
}
