package checkout

import (
	"time"

	"github.com/shopspring/decimal"
)

type Item struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Author string          `json:"author"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
}

type Account struct {
	ID              string          `json:"id"`
	Status          AccountStatus   `json:"status"`
	AvailableCredit decimal.Decimal `json:"available_credit"`
}

// Reservation targets exactly one of ItemID or CartID.
type Reservation struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	ItemID    string            `json:"item_id,omitempty"`
	CartID    string            `json:"cart_id,omitempty"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func (r Reservation) Expired(now time.Time) bool { return now.After(r.ExpiresAt) }

// Live reports whether the reservation still holds a claim on stock.
func (r Reservation) Live(now time.Time) bool {
	return r.Status == ReservationLocked && !r.Expired(now)
}

type Cart struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Status    CartStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

func (c Cart) Expired(now time.Time) bool { return now.After(c.ExpiresAt) }

type CartItem struct {
	ID            string          `json:"id"`
	CartID        string          `json:"cart_id"`
	ItemID        string          `json:"item_id"`
	Quantity      int             `json:"quantity"`
	PriceAtAdd    decimal.Decimal `json:"price_at_add"`
	AddedAt       time.Time       `json:"added_at"`
	ReservedUntil time.Time       `json:"reserved_until"`
}

func (ci CartItem) Expired(now time.Time) bool { return now.After(ci.ReservedUntil) }

func (ci CartItem) LineTotal() decimal.Decimal {
	return ci.PriceAtAdd.Mul(decimal.NewFromInt(int64(ci.Quantity)))
}

// Purchase is one ledger entry in a user's library.
type Purchase struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	ItemID      string          `json:"item_id"`
	Price       decimal.Decimal `json:"price"`
	PurchasedAt time.Time       `json:"purchased_at"`
}

type Receipt struct {
	SessionID       string          `json:"session_id"`
	UserID          string          `json:"user_id"`
	ItemID          string          `json:"item_id"`
	Title           string          `json:"title"`
	Price           decimal.Decimal `json:"price"`
	RemainingCredit decimal.Decimal `json:"remaining_credit"`
	RemainingStock  int             `json:"remaining_stock"`
	CompletedAt     time.Time       `json:"completed_at"`
}

type PurchaseStatus struct {
	CanPurchase     bool            `json:"can_purchase"`
	AccountStatus   AccountStatus   `json:"account_status"`
	AvailableCredit decimal.Decimal `json:"available_credit"`
	Message         string          `json:"message"`
}

type CartView struct {
	Cart  *Cart           `json:"cart,omitempty"`
	Items []CartItem      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

type CheckoutSummary struct {
	SessionID       string          `json:"session_id"`
	CartID          string          `json:"cart_id"`
	Items           []CartItem      `json:"items"`
	Total           decimal.Decimal `json:"total"`
	RemainingCredit decimal.Decimal `json:"remaining_credit"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

type CheckoutReceipt struct {
	CartID          string          `json:"cart_id"`
	UserID          string          `json:"user_id"`
	Items           []CartItem      `json:"items"`
	Total           decimal.Decimal `json:"total"`
	RemainingCredit decimal.Decimal `json:"remaining_credit"`
	CompletedAt     time.Time       `json:"completed_at"`
}
