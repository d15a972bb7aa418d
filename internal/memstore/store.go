// Package memstore keeps the whole checkout state in process memory. It backs
// the single-binary demo mode and the checkout tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu           sync.Mutex
	accounts     map[string]checkout.Account
	items        map[string]checkout.Item
	purchases    map[string]checkout.Purchase
	reservations map[string]checkout.Reservation
	carts        map[string]checkout.Cart
	cartItems    map[string]checkout.CartItem
	receipts     map[string]checkout.Receipt
}

func New() *Store {
	return &Store{
		accounts:     map[string]checkout.Account{},
		items:        map[string]checkout.Item{},
		purchases:    map[string]checkout.Purchase{},
		reservations: map[string]checkout.Reservation{},
		carts:        map[string]checkout.Cart{},
		cartItems:    map[string]checkout.CartItem{},
		receipts:     map[string]checkout.Receipt{},
	}
}

func (s *Store) PutAccount(a checkout.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *Store) PutItem(it checkout.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = it
}

// Purchases lists a user's ledger entries, oldest first.
func (s *Store) Purchases(userID string) []checkout.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []checkout.Purchase
	for _, p := range s.purchases {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchasedAt.Before(out[j].PurchasedAt) })
	return out
}

func (s *Store) AccountByID(_ context.Context, userID string) (checkout.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return checkout.Account{}, checkout.ErrNotFound
	}
	return a, nil
}

func (s *Store) Debit(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return checkout.ErrNotFound
	}
	if a.AvailableCredit.LessThan(amount) {
		return checkout.ErrInsufficientFunds
	}
	a.AvailableCredit = a.AvailableCredit.Sub(amount)
	s.accounts[userID] = a
	return nil
}

func (s *Store) Refund(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return checkout.ErrNotFound
	}
	a.AvailableCredit = a.AvailableCredit.Add(amount)
	s.accounts[userID] = a
	return nil
}

func (s *Store) ItemByID(_ context.Context, itemID string) (checkout.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return checkout.Item{}, checkout.ErrNotFound
	}
	return it, nil
}

func (s *Store) SaveItem(_ context.Context, item checkout.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	return nil
}

func (s *Store) CurrentStock(_ context.Context, itemID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return 0, checkout.ErrNotFound
	}
	return it.Stock, nil
}

func (s *Store) DecrementStock(_ context.Context, itemID string, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return 0, checkout.ErrNotFound
	}
	if it.Stock < qty {
		return it.Stock, checkout.ErrInsufficientStock
	}
	it.Stock -= qty
	s.items[itemID] = it
	return it.Stock, nil
}

func (s *Store) IncrementStock(_ context.Context, itemID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return checkout.ErrNotFound
	}
	it.Stock += qty
	s.items[itemID] = it
	return nil
}

func (s *Store) AppendPurchase(_ context.Context, p checkout.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[p.ID] = p
	return nil
}

func (s *Store) RemovePurchase(_ context.Context, purchaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.purchases, purchaseID)
	return nil
}

func (s *Store) CreateReservation(_ context.Context, r checkout.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.ID] = r
	return nil
}

// ReserveItem checks and inserts under one lock, so concurrent admissions
// for the same item are serialized.
func (s *Store) ReserveItem(_ context.Context, r checkout.Reservation, limit int, now time.Time) (checkout.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[r.ItemID]
	if !ok {
		return checkout.Reservation{}, checkout.ErrNotFound
	}
	for id, old := range s.reservations {
		if old.UserID != r.UserID || old.ItemID != r.ItemID || old.Status != checkout.ReservationLocked {
			continue
		}
		if old.Live(now) {
			return old, nil
		}
		delete(s.reservations, id)
	}
	if min(limit, it.Stock)-s.liveLocks(r.ItemID, now) < 1 {
		return checkout.Reservation{}, checkout.ErrNoCapacity
	}
	s.reservations[r.ID] = r
	return r, nil
}

func (s *Store) GetReservation(_ context.Context, id string) (checkout.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return checkout.Reservation{}, checkout.ErrNotFound
	}
	return r, nil
}

func (s *Store) FindLockedReservation(_ context.Context, userID, itemID string) (checkout.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if r.UserID == userID && r.ItemID == itemID && r.Status == checkout.ReservationLocked {
			return r, nil
		}
	}
	return checkout.Reservation{}, checkout.ErrNotFound
}

func (s *Store) FindCartReservation(_ context.Context, cartID string) (checkout.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if r.CartID == cartID {
			return r, nil
		}
	}
	return checkout.Reservation{}, checkout.ErrNotFound
}

func (s *Store) CompleteReservation(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok || !r.Live(now) {
		return checkout.ErrNotFound
	}
	r.Status = checkout.ReservationCompleted
	s.reservations[id] = r
	return nil
}

func (s *Store) DeleteReservation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reservations, id)
	return nil
}

// DeleteExpiredReservations removes LOCKED reservations past expiry. Completed
// ones are history and stay.
func (s *Store) DeleteExpiredReservations(_ context.Context, now time.Time) ([]checkout.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []checkout.Reservation
	for id, r := range s.reservations {
		if r.Status == checkout.ReservationLocked && r.Expired(now) {
			out = append(out, r)
			delete(s.reservations, id)
		}
	}
	return out, nil
}

func (s *Store) ActiveCart(_ context.Context, userID string) (checkout.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found checkout.Cart
	ok := false
	for _, c := range s.carts {
		if c.UserID == userID && c.Status == checkout.CartActive {
			if !ok || c.CreatedAt.After(found.CreatedAt) {
				found, ok = c, true
			}
		}
	}
	if !ok {
		return checkout.Cart{}, checkout.ErrNotFound
	}
	return found, nil
}

func (s *Store) CheckoutCarts(_ context.Context, userID string) ([]checkout.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []checkout.Cart
	for _, c := range s.carts {
		if c.UserID == userID && c.Status == checkout.CartCheckingOut {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateCart(_ context.Context, c checkout.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[c.ID] = c
	return nil
}

func (s *Store) UpdateCart(_ context.Context, c checkout.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[c.ID]; !ok {
		return checkout.ErrNotFound
	}
	s.carts[c.ID] = c
	return nil
}

// Cart returns a cart in any status.
func (s *Store) Cart(cartID string) (checkout.Cart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[cartID]
	return c, ok
}

func (s *Store) CartItems(_ context.Context, cartID string) ([]checkout.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []checkout.CartItem
	for _, it := range s.cartItems {
		if it.CartID == cartID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out, nil
}

func (s *Store) CartItemByID(_ context.Context, id string) (checkout.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.cartItems[id]
	if !ok {
		return checkout.CartItem{}, checkout.ErrNotFound
	}
	return it, nil
}

func (s *Store) SaveCartItem(_ context.Context, it checkout.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartItems[it.ID] = it
	return nil
}

func (s *Store) DeleteCartItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cartItems, id)
	return nil
}

func (s *Store) CompleteCart(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[cartID]
	if !ok {
		return checkout.ErrNotFound
	}
	c.Status = checkout.CartCompleted
	s.carts[cartID] = c
	for id, it := range s.cartItems {
		if it.CartID == cartID {
			delete(s.cartItems, id)
		}
	}
	return nil
}

func (s *Store) DeleteExpiredCartItems(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, it := range s.cartItems {
		if it.Expired(now) {
			delete(s.cartItems, id)
			n++
		}
	}
	return n, nil
}

// ExpireCarts moves open carts past their expiry to EXPIRED and drops their
// lines.
func (s *Store) ExpireCarts(_ context.Context, now time.Time) ([]checkout.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []checkout.Cart
	for id, c := range s.carts {
		if !c.Status.Open() || !c.Expired(now) {
			continue
		}
		c.Status = checkout.CartExpired
		s.carts[id] = c
		out = append(out, c)
		for iid, it := range s.cartItems {
			if it.CartID == id {
				delete(s.cartItems, iid)
			}
		}
	}
	return out, nil
}

// CountLiveLocks sums unexpired LOCKED single-item reservations and unexpired
// lines of open carts for itemID.
func (s *Store) CountLiveLocks(_ context.Context, itemID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocks(itemID, now), nil
}

func (s *Store) liveLocks(itemID string, now time.Time) int {
	n := 0
	for _, r := range s.reservations {
		if r.ItemID == itemID && r.Live(now) {
			n++
		}
	}
	for _, it := range s.cartItems {
		if it.ItemID != itemID || it.Expired(now) {
			continue
		}
		if c, ok := s.carts[it.CartID]; ok && c.Status.Open() {
			n += it.Quantity
		}
	}
	return n
}

func (s *Store) PutReceipt(_ context.Context, r checkout.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[r.SessionID] = r
	return nil
}

func (s *Store) GetReceipt(_ context.Context, sessionID string) (checkout.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[sessionID]
	if !ok {
		return checkout.Receipt{}, checkout.ErrNotFound
	}
	return r, nil
}
