package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func (s *Service) saveCart(ctx context.Context, c Cart, to CartStatus) (Cart, error) {
	if c.Status != to && !CanTransition(c.Status, to) {
		return c, newErr(KindInvalidRequest, fmt.Sprintf("cart cannot move from %s to %s", c.Status, to), nil)
	}
	c.Status = to
	if err := s.Carts.UpdateCart(ctx, c); err != nil {
		return c, upstream("cart update", err)
	}
	return c, nil
}

// activeCart returns the user's live ACTIVE cart. An expired one is moved to
// EXPIRED and reported as missing.
func (s *Service) activeCart(ctx context.Context, userID string, now time.Time) (Cart, error) {
	c, err := s.Carts.ActiveCart(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Cart{}, newErr(KindCartNotFound, "no active cart found", nil)
	}
	if err != nil {
		return Cart{}, upstream("cart lookup", err)
	}
	if c.Expired(now) {
		if _, err := s.saveCart(ctx, c, CartExpired); err != nil {
			return Cart{}, err
		}
		return Cart{}, newErr(KindCartNotFound, "cart has expired", nil)
	}
	return c, nil
}

func (s *Service) getOrCreateActiveCart(ctx context.Context, userID string, now time.Time) (Cart, error) {
	c, err := s.activeCart(ctx, userID, now)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		return Cart{}, err
	}
	c = Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    CartActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.Opts.CartTTL),
	}
	if err := s.Carts.CreateCart(ctx, c); err != nil {
		return Cart{}, upstream("cart create", err)
	}
	return c, nil
}

// liveItems drops lines whose reservation lapsed.
func (s *Service) liveItems(ctx context.Context, cartID string, now time.Time) ([]CartItem, error) {
	items, err := s.Carts.CartItems(ctx, cartID)
	if err != nil {
		return nil, upstream("cart items lookup", err)
	}
	live := make([]CartItem, 0, len(items))
	for _, it := range items {
		if it.Expired(now) {
			if err := s.Carts.DeleteCartItem(ctx, it.ID); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("cart_item_id", it.ID).Msg("delete expired cart item")
			}
			continue
		}
		live = append(live, it)
	}
	return live, nil
}

func cartTotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// AddToCart claims qty units of itemID in the user's active cart, merging
// into an existing line. The price is captured now and never re-read.
func (s *Service) AddToCart(ctx context.Context, userID, itemID string, qty int) (CartItem, error) {
	acc, err := s.loadAccount(ctx, userID)
	if err != nil {
		return CartItem{}, err
	}
	if err := requireActive(acc); err != nil {
		return CartItem{}, err
	}
	if itemID == "" {
		return CartItem{}, newErr(KindInvalidRequest, "item id is required", nil)
	}
	if qty <= 0 {
		qty = 1
	}
	item, err := s.loadItem(ctx, itemID)
	if err != nil {
		return CartItem{}, err
	}

	now := s.now()
	cart, err := s.getOrCreateActiveCart(ctx, userID, now)
	if err != nil {
		return CartItem{}, err
	}
	items, err := s.liveItems(ctx, cart.ID, now)
	if err != nil {
		return CartItem{}, err
	}
	if _, err := s.checkAvailability(ctx, item, qty); err != nil {
		return CartItem{}, err
	}

	line := CartItem{
		ID:         uuid.NewString(),
		CartID:     cart.ID,
		ItemID:     itemID,
		PriceAtAdd: item.Price,
		AddedAt:    now,
	}
	for _, it := range items {
		if it.ItemID == itemID {
			line = it
			break
		}
	}
	line.Quantity += qty
	line.ReservedUntil = now.Add(s.Opts.CartItemTTL)
	if err := s.Carts.SaveCartItem(ctx, line); err != nil {
		return CartItem{}, upstream("cart item save", err)
	}
	cart.ExpiresAt = now.Add(s.Opts.CartTTL)
	if _, err := s.saveCart(ctx, cart, CartActive); err != nil {
		return CartItem{}, err
	}
	return line, nil
}

// GetCart lists live lines and their point-in-time total. No cart is not an error.
func (s *Service) GetCart(ctx context.Context, userID string) (CartView, error) {
	if userID == "" {
		return CartView{}, newErr(KindNotAuthenticated, "authentication required", nil)
	}
	now := s.now()
	cart, err := s.activeCart(ctx, userID, now)
	if errors.Is(err, ErrCartNotFound) {
		return CartView{Items: []CartItem{}, Total: decimal.Zero}, nil
	}
	if err != nil {
		return CartView{}, err
	}
	items, err := s.liveItems(ctx, cart.ID, now)
	if err != nil {
		return CartView{}, err
	}
	return CartView{Cart: &cart, Items: items, Total: cartTotal(items)}, nil
}

func (s *Service) RemoveFromCart(ctx context.Context, userID, itemID string) error {
	if userID == "" {
		return newErr(KindNotAuthenticated, "authentication required", nil)
	}
	now := s.now()
	cart, err := s.activeCart(ctx, userID, now)
	if err != nil {
		return err
	}
	items, err := s.Carts.CartItems(ctx, cart.ID)
	if err != nil {
		return upstream("cart items lookup", err)
	}
	for _, it := range items {
		if it.ItemID == itemID {
			if err := s.Carts.DeleteCartItem(ctx, it.ID); err != nil {
				return upstream("cart item delete", err)
			}
		}
	}
	return nil
}

// ownedLine resolves a cart line that must sit in the caller's active cart.
func (s *Service) ownedLine(ctx context.Context, userID, cartItemID string, now time.Time) (CartItem, Cart, error) {
	if userID == "" {
		return CartItem{}, Cart{}, newErr(KindNotAuthenticated, "authentication required", nil)
	}
	line, err := s.Carts.CartItemByID(ctx, cartItemID)
	if errors.Is(err, ErrNotFound) {
		return CartItem{}, Cart{}, newErr(KindItemNotFound, "cart item not found", nil)
	}
	if err != nil {
		return CartItem{}, Cart{}, upstream("cart item lookup", err)
	}
	cart, err := s.activeCart(ctx, userID, now)
	if err != nil {
		return CartItem{}, Cart{}, err
	}
	if line.CartID != cart.ID {
		return CartItem{}, Cart{}, newErr(KindItemNotFound, "cart item does not belong to user", nil)
	}
	return line, cart, nil
}

func (s *Service) UpdateItemQuantity(ctx context.Context, userID, cartItemID string, qty int) (CartItem, error) {
	if qty < 1 {
		return CartItem{}, newErr(KindInvalidRequest, "quantity must be at least 1", nil)
	}
	now := s.now()
	line, cart, err := s.ownedLine(ctx, userID, cartItemID, now)
	if err != nil {
		return CartItem{}, err
	}
	if delta := qty - line.Quantity; delta > 0 || line.Expired(now) {
		claim := delta
		if line.Expired(now) {
			claim = qty
		}
		item, err := s.loadItem(ctx, line.ItemID)
		if err != nil {
			return CartItem{}, err
		}
		if _, err := s.checkAvailability(ctx, item, claim); err != nil {
			return CartItem{}, err
		}
	}
	line.Quantity = qty
	line.ReservedUntil = now.Add(s.Opts.CartItemTTL)
	if err := s.Carts.SaveCartItem(ctx, line); err != nil {
		return CartItem{}, upstream("cart item save", err)
	}
	cart.ExpiresAt = now.Add(s.Opts.CartTTL)
	if _, err := s.saveCart(ctx, cart, CartActive); err != nil {
		return CartItem{}, err
	}
	return line, nil
}

func (s *Service) RemoveCartItem(ctx context.Context, userID, cartItemID string) error {
	line, _, err := s.ownedLine(ctx, userID, cartItemID, s.now())
	if err != nil {
		return err
	}
	if err := s.Carts.DeleteCartItem(ctx, line.ID); err != nil {
		return upstream("cart item delete", err)
	}
	return nil
}

// ClearCart empties the active cart and retires it as CLEARED.
func (s *Service) ClearCart(ctx context.Context, userID string) error {
	if userID == "" {
		return newErr(KindNotAuthenticated, "authentication required", nil)
	}
	cart, err := s.activeCart(ctx, userID, s.now())
	if errors.Is(err, ErrCartNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	items, err := s.Carts.CartItems(ctx, cart.ID)
	if err != nil {
		return upstream("cart items lookup", err)
	}
	for _, it := range items {
		if err := s.Carts.DeleteCartItem(ctx, it.ID); err != nil {
			return upstream("cart item delete", err)
		}
	}
	_, err = s.saveCart(ctx, cart, CartCleared)
	return err
}

// retireCheckout ends a CHECKING_OUT cart: its checkout session is deleted
// and the cart moves to the given status.
func (s *Service) retireCheckout(ctx context.Context, c Cart, to CartStatus) error {
	res, err := s.Reservations.FindCartReservation(ctx, c.ID)
	switch {
	case err == nil:
		if err := s.Reservations.DeleteReservation(ctx, res.ID); err != nil {
			return upstream("reservation delete", err)
		}
	case !errors.Is(err, ErrNotFound):
		return upstream("reservation lookup", err)
	}
	_, err = s.saveCart(ctx, c, to)
	return err
}

// StartCheckout freezes the active cart into CHECKING_OUT, extends every line
// and opens a cart checkout session.
func (s *Service) StartCheckout(ctx context.Context, userID string) (CheckoutSummary, error) {
	acc, err := s.loadAccount(ctx, userID)
	if err != nil {
		return CheckoutSummary{}, err
	}
	if err := requireActive(acc); err != nil {
		return CheckoutSummary{}, err
	}
	now := s.now()

	// A pending checkout is handed back first; with no newer active cart it
	// becomes the cart checked out below.
	if err := s.CancelCheckout(ctx, userID); err != nil {
		return CheckoutSummary{}, err
	}

	cart, err := s.activeCart(ctx, userID, now)
	if err != nil {
		return CheckoutSummary{}, err
	}
	items, err := s.liveItems(ctx, cart.ID, now)
	if err != nil {
		return CheckoutSummary{}, err
	}
	if len(items) == 0 {
		return CheckoutSummary{}, newErr(KindCartEmpty, "cart is empty", nil)
	}
	total := cartTotal(items)
	if acc.AvailableCredit.LessThan(total) {
		return CheckoutSummary{}, newErr(KindInsufficientCredit, fmt.Sprintf(
			"your credit (%s) is insufficient for this purchase (%s)", acc.AvailableCredit, total), nil)
	}

	for i := range items {
		items[i].ReservedUntil = now.Add(s.Opts.CartItemTTL)
		if err := s.Carts.SaveCartItem(ctx, items[i]); err != nil {
			return CheckoutSummary{}, upstream("cart item save", err)
		}
	}
	cart.ExpiresAt = now.Add(s.Opts.CartTTL)
	if cart, err = s.saveCart(ctx, cart, CartCheckingOut); err != nil {
		return CheckoutSummary{}, err
	}

	res := Reservation{
		ID:        uuid.NewString(),
		UserID:    userID,
		CartID:    cart.ID,
		Status:    ReservationLocked,
		CreatedAt: now,
		ExpiresAt: now.Add(s.Opts.ReservationTTL),
	}
	if err := s.Reservations.CreateReservation(ctx, res); err != nil {
		return CheckoutSummary{}, upstream("reservation create", err)
	}
	return CheckoutSummary{
		SessionID:       res.ID,
		CartID:          cart.ID,
		Items:           items,
		Total:           total,
		RemainingCredit: acc.AvailableCredit.Sub(total),
		ExpiresAt:       res.ExpiresAt,
	}, nil
}

// checkoutCart returns the newest CHECKING_OUT cart; older duplicates are cancelled.
func (s *Service) checkoutCart(ctx context.Context, userID string) (Cart, error) {
	carts, err := s.Carts.CheckoutCarts(ctx, userID)
	if err != nil {
		return Cart{}, upstream("checkout lookup", err)
	}
	if len(carts) == 0 {
		return Cart{}, newErr(KindSessionNotFound, "no checkout session found", nil)
	}
	for _, old := range carts[1:] {
		if err := s.retireCheckout(ctx, old, CartCancelled); err != nil {
			return Cart{}, err
		}
	}
	return carts[0], nil
}

// ConfirmCheckout commits the whole cart as one unit: every line is claimed
// through the guard, then the ledger, credit and purchase records are written.
// Any failure unwinds every step already taken.
func (s *Service) ConfirmCheckout(ctx context.Context, userID string) (CheckoutReceipt, error) {
	if userID == "" {
		return CheckoutReceipt{}, newErr(KindNotAuthenticated, "authentication required", nil)
	}
	cart, err := s.checkoutCart(ctx, userID)
	if err != nil {
		return CheckoutReceipt{}, err
	}
	now := s.now()
	res, err := s.Reservations.FindCartReservation(ctx, cart.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return CheckoutReceipt{}, upstream("reservation lookup", err)
	}
	if err != nil || res.Expired(now) || cart.Expired(now) {
		if err := s.retireCheckout(ctx, cart, CartExpired); err != nil {
			return CheckoutReceipt{}, err
		}
		s.Metrics.Checkout(string(KindSessionExpired))
		return CheckoutReceipt{}, newErr(KindSessionExpired, "checkout session has expired", nil)
	}

	acc, err := s.loadAccount(ctx, userID)
	if err != nil {
		return CheckoutReceipt{}, err
	}
	items, err := s.liveItems(ctx, cart.ID, now)
	if err != nil {
		return CheckoutReceipt{}, err
	}
	if len(items) == 0 {
		return CheckoutReceipt{}, s.checkoutFailed(ctx, cart, res, newErr(KindCartEmpty, "no items in checkout", nil))
	}
	catalog := make(map[string]Item, len(items))
	for _, it := range items {
		item, err := s.loadItem(ctx, it.ItemID)
		if err != nil {
			return CheckoutReceipt{}, s.checkoutFailed(ctx, cart, res, asError(err))
		}
		catalog[it.ItemID] = item
	}
	total := cartTotal(items)
	if acc.AvailableCredit.LessThan(total) {
		return CheckoutReceipt{}, s.checkoutFailed(ctx, cart, res, newErr(KindInsufficientCredit,
			"credit check failed during checkout", nil))
	}

	crit := context.WithoutCancel(ctx)
	log := zerolog.Ctx(ctx).With().Str("cart_id", cart.ID).Logger()
	if err := s.Reservations.CompleteReservation(crit, res.ID, s.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return CheckoutReceipt{}, newErr(KindSessionNotFound, "checkout session is no longer open", nil)
		}
		return CheckoutReceipt{}, upstream("reservation claim", err)
	}

	undo := &rollback{log: &log, metrics: s.Metrics}
	fail := func(e *Error) (CheckoutReceipt, error) {
		undo.run(crit)
		return CheckoutReceipt{}, s.checkoutFailed(crit, cart, res, e)
	}

	for _, it := range items {
		ok, err := s.tryDecrement(crit, it.ItemID, it.Quantity)
		if err != nil {
			return fail(upstream("stock guard", err))
		}
		if !ok {
			return fail(newErr(KindOutOfStock, fmt.Sprintf(
				"'%s' became out of stock during checkout", catalog[it.ItemID].Title), nil))
		}
		undo.add("release guard", func(ctx context.Context) error {
			return s.Guard.Release(ctx, it.ItemID, it.Quantity)
		})
	}

	for _, it := range items {
		if _, err := s.decrementLedger(crit, it.ItemID, it.Quantity); err != nil {
			if errors.Is(err, ErrInsufficientStock) {
				undo.run(crit)
				s.resync(crit, it.ItemID)
				return CheckoutReceipt{}, s.checkoutFailed(crit, cart, res, newErr(KindOutOfStock, fmt.Sprintf(
					"'%s' became out of stock during checkout", catalog[it.ItemID].Title), nil))
			}
			return fail(upstream("stock ledger write", err))
		}
		undo.add("restore ledger stock", func(ctx context.Context) error {
			return s.Stock.IncrementStock(ctx, it.ItemID, it.Quantity)
		})
	}

	if err := s.debit(crit, userID, total); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return fail(newErr(KindInsufficientCredit, "credit check failed during checkout", nil))
		}
		return fail(upstream("credit debit", err))
	}
	undo.add("refund credit", func(ctx context.Context) error {
		return s.Credits.Refund(ctx, userID, total)
	})

	completedAt := s.now()
	for _, it := range items {
		for range it.Quantity {
			p := Purchase{ID: uuid.NewString(), UserID: userID, ItemID: it.ItemID, Price: it.PriceAtAdd, PurchasedAt: completedAt}
			if err := s.appendPurchase(crit, p); err != nil {
				return fail(upstream("purchase ledger append", err))
			}
			undo.add("remove purchase", func(ctx context.Context) error {
				return s.Purchases.RemovePurchase(ctx, p.ID)
			})
		}
	}

	if err := s.Carts.CompleteCart(crit, cart.ID); err != nil {
		log.Error().Err(err).Msg("mark cart completed")
	}

	lines := make([]CheckoutLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, CheckoutLine{ItemID: it.ItemID, Quantity: it.Quantity, Price: it.PriceAtAdd})
	}
	s.Events.Emit(crit, TopicCheckoutCompleted, EventCheckoutCompleted, cart.ID, CheckoutCompletedPayload{
		CartID: cart.ID, UserID: userID, Lines: lines, Total: total,
	})
	s.Metrics.Checkout("completed")
	log.Info().Int("lines", len(items)).Str("total", total.String()).Msg("checkout completed")
	return CheckoutReceipt{
		CartID:          cart.ID,
		UserID:          userID,
		Items:           items,
		Total:           total,
		RemainingCredit: acc.AvailableCredit.Sub(total),
		CompletedAt:     completedAt,
	}, nil
}

// checkoutFailed hands the cart back to the user as ACTIVE (or CANCELLED if a
// new active cart already exists) and drops the checkout session.
func (s *Service) checkoutFailed(ctx context.Context, cart Cart, res Reservation, e *Error) *Error {
	to := CartActive
	if _, err := s.Carts.ActiveCart(ctx, cart.UserID); err == nil {
		to = CartCancelled
	}
	if err := s.retireCheckout(ctx, cart, to); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("cart_id", cart.ID).Msg("release failed checkout")
	}
	s.Metrics.Checkout(string(e.Kind))
	s.Events.Emit(ctx, TopicPurchaseFailed, EventPurchaseFailed, cart.ID, PurchaseFailedPayload{
		SessionID: res.ID, UserID: cart.UserID, CartID: cart.ID, Reason: e.Kind,
	})
	return e
}

// CancelCheckout returns checkout carts to ACTIVE. Idempotent.
func (s *Service) CancelCheckout(ctx context.Context, userID string) error {
	if userID == "" {
		return newErr(KindNotAuthenticated, "authentication required", nil)
	}
	carts, err := s.Carts.CheckoutCarts(ctx, userID)
	if err != nil {
		return upstream("checkout lookup", err)
	}
	for i, c := range carts {
		to := CartActive
		if i > 0 {
			to = CartCancelled
		} else if _, err := s.Carts.ActiveCart(ctx, userID); err == nil {
			to = CartCancelled
		}
		if err := s.retireCheckout(ctx, c, to); err != nil {
			return err
		}
		zerolog.Ctx(ctx).Info().Str("cart_id", c.ID).Str("status", string(to)).Msg("checkout released")
	}
	return nil
}

func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return upstream("checkout", err)
}
