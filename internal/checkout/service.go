package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-bookstore-checkout/internal/clock"
	"github.com/ariefcatur/go-bookstore-checkout/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Options struct {
	ReservationTTL  time.Duration
	CartTTL         time.Duration
	CartItemTTL     time.Duration
	UpstreamTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReservationTTL:  15 * time.Minute,
		CartTTL:         30 * time.Minute,
		CartItemTTL:     15 * time.Minute,
		UpstreamTimeout: 3 * time.Second,
	}
}

// Service is the checkout orchestrator. It drives single item purchases and
// cart checkouts from intent to a terminal outcome.
type Service struct {
	Accounts     Accounts
	Credits      CreditLedger
	Catalog      Catalog
	Stock        StockLedger
	Purchases    PurchaseLedger
	Reservations ReservationStore
	Carts        CartStore
	Locks        LockCounter
	Guard        StockGuard
	Receipts     ReceiptCache
	Events       Emitter
	Clock        clock.Clock
	Metrics      *metrics.Metrics
	Opts         Options
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

// bounded applies the upstream timeout to a single collaborator call.
func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Opts.UpstreamTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Opts.UpstreamTimeout)
}

func upstream(what string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newErr(KindUpstreamUnavailable, what+" timed out", err)
	}
	return newErr(KindPersistenceFailure, what+" failed", err)
}

func (s *Service) loadAccount(ctx context.Context, userID string) (Account, error) {
	if userID == "" {
		return Account{}, newErr(KindNotAuthenticated, "authentication required", nil)
	}
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	acc, err := s.Accounts.AccountByID(cctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Account{}, newErr(KindAccountNotFound, "user not found", nil)
	}
	if err != nil {
		return Account{}, upstream("account lookup", err)
	}
	return acc, nil
}

func requireActive(acc Account) error {
	switch acc.Status {
	case AccountActive:
		return nil
	case AccountPending:
		return newErr(KindAccountPending,
			"your account is pending approval; contact an administrator to activate it before making purchases", nil)
	default:
		return newErr(KindAccountNotActive,
			fmt.Sprintf("your account status does not allow purchases: %s", acc.Status), nil)
	}
}

func (s *Service) loadItem(ctx context.Context, itemID string) (Item, error) {
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	item, err := s.Catalog.ItemByID(cctx, itemID)
	if errors.Is(err, ErrNotFound) {
		return Item{}, newErr(KindItemNotFound, fmt.Sprintf("item %s not found", itemID), nil)
	}
	if err != nil {
		return Item{}, upstream("catalog lookup", err)
	}
	return item, nil
}

// checkAvailability answers "can qty more units be claimed right now" from the
// guard value and the live lock count. Nothing is mutated. It returns the
// stock the answer was based on.
func (s *Service) checkAvailability(ctx context.Context, item Item, qty int) (int, error) {
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	guarded, err := s.Guard.Available(cctx, item.ID)
	if err != nil {
		return 0, upstream("stock guard", err)
	}
	stock := min(item.Stock, guarded)
	if stock <= 0 {
		return 0, newErr(KindOutOfStock, "this item is currently out of stock", nil)
	}
	if stock < qty {
		return 0, newErr(KindOutOfStock, fmt.Sprintf("only %d left in stock", stock), nil)
	}
	live, err := s.Locks.CountLiveLocks(cctx, item.ID, s.now())
	if err != nil {
		return 0, upstream("reservation count", err)
	}
	if stock-live < qty {
		return 0, errTemporarilyHeld()
	}
	return stock, nil
}

func errTemporarilyHeld() *Error {
	return newErr(KindTemporarilyUnavailable,
		"this item is temporarily reserved by other customers; try again in a few minutes", nil)
}

func (s *Service) dropReservation(ctx context.Context, id string) {
	if err := s.Reservations.DeleteReservation(ctx, id); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", id).Msg("delete reservation")
	}
}

// BeginPurchase reserves one unit of itemID for userID. A second call before
// expiry returns the same reservation.
func (s *Service) BeginPurchase(ctx context.Context, userID, itemID string) (Reservation, error) {
	acc, err := s.loadAccount(ctx, userID)
	if err != nil {
		return Reservation{}, err
	}
	if err := requireActive(acc); err != nil {
		return Reservation{}, err
	}
	if itemID == "" {
		return Reservation{}, newErr(KindInvalidRequest, "item id is required", nil)
	}
	item, err := s.loadItem(ctx, itemID)
	if err != nil {
		return Reservation{}, err
	}

	now := s.now()
	existing, err := s.Reservations.FindLockedReservation(ctx, userID, itemID)
	switch {
	case err == nil && !existing.Expired(now):
		return existing, nil
	case err == nil:
		s.dropReservation(ctx, existing.ID)
	case !errors.Is(err, ErrNotFound):
		return Reservation{}, upstream("reservation lookup", err)
	}

	stock, err := s.checkAvailability(ctx, item, 1)
	if err != nil {
		return Reservation{}, err
	}
	if acc.AvailableCredit.LessThan(item.Price) {
		return Reservation{}, newErr(KindInsufficientCredit, fmt.Sprintf(
			"your credit (%s) is insufficient for this purchase (%s)", acc.AvailableCredit, item.Price), nil)
	}

	res := Reservation{
		ID:        uuid.NewString(),
		UserID:    userID,
		ItemID:    itemID,
		Status:    ReservationLocked,
		CreatedAt: now,
		ExpiresAt: now.Add(s.Opts.ReservationTTL),
	}
	// The count above was advisory; ReserveItem re-counts under the item lock.
	res, err = s.Reservations.ReserveItem(ctx, res, stock, now)
	switch {
	case errors.Is(err, ErrNoCapacity):
		return Reservation{}, errTemporarilyHeld()
	case errors.Is(err, ErrNotFound):
		return Reservation{}, newErr(KindItemNotFound, fmt.Sprintf("item %s not found", itemID), nil)
	case err != nil:
		return Reservation{}, upstream("reservation create", err)
	}
	zerolog.Ctx(ctx).Debug().Str("session_id", res.ID).Str("item_id", itemID).Msg("reservation locked")
	return res, nil
}

// ownedSession loads a reservation and checks ownership. Expired ones are
// deleted and reported as SessionExpired.
func (s *Service) ownedSession(ctx context.Context, userID, sessionID string) (Reservation, error) {
	if userID == "" {
		return Reservation{}, newErr(KindNotAuthenticated, "authentication required", nil)
	}
	if sessionID == "" {
		return Reservation{}, newErr(KindInvalidRequest, "session id is required", nil)
	}
	res, err := s.Reservations.GetReservation(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return Reservation{}, newErr(KindSessionNotFound, "purchase session not found or expired", nil)
	}
	if err != nil {
		return Reservation{}, upstream("reservation lookup", err)
	}
	if res.UserID != userID {
		return Reservation{}, newErr(KindSessionOwnershipMismatch, "session does not belong to user", nil)
	}
	if res.Status == ReservationLocked && res.Expired(s.now()) {
		s.dropReservation(ctx, res.ID)
		return Reservation{}, newErr(KindSessionExpired, "purchase session has expired", nil)
	}
	return res, nil
}

// GetSession returns a live or completed reservation owned by userID.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (Reservation, error) {
	return s.ownedSession(ctx, userID, sessionID)
}

// ConfirmPurchase commits a reservation. The stock claim goes through the
// guard CAS; any failure after that is compensated before returning.
func (s *Service) ConfirmPurchase(ctx context.Context, userID, sessionID string) (Receipt, error) {
	res, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		s.Metrics.Purchase(string(KindOf(err)))
		return Receipt{}, err
	}
	if res.ItemID == "" {
		return Receipt{}, newErr(KindSessionNotFound, "session belongs to a cart checkout", nil)
	}
	if res.Status == ReservationCompleted {
		return s.completedReceipt(ctx, res.ID)
	}

	acc, err := s.loadAccount(ctx, userID)
	if err != nil {
		return Receipt{}, err
	}
	item, err := s.loadItem(ctx, res.ItemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			s.dropReservation(ctx, res.ID)
		}
		return Receipt{}, err
	}
	if acc.AvailableCredit.LessThan(item.Price) {
		s.dropReservation(ctx, res.ID)
		return Receipt{}, s.purchaseFailed(ctx, res, newErr(KindInsufficientCredit,
			"your credit is insufficient for this purchase", nil))
	}

	// From here on the caller can no longer abort us.
	crit := context.WithoutCancel(ctx)
	log := zerolog.Ctx(ctx).With().Str("session_id", res.ID).Str("item_id", item.ID).Logger()

	if err := s.Reservations.CompleteReservation(crit, res.ID, s.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Receipt{}, newErr(KindSessionNotFound, "purchase session is no longer open", nil)
		}
		return Receipt{}, upstream("reservation claim", err)
	}

	undo := &rollback{log: &log, metrics: s.Metrics}
	undo.add("delete reservation", func(ctx context.Context) error {
		return s.Reservations.DeleteReservation(ctx, res.ID)
	})

	ok, err := s.tryDecrement(crit, item.ID, 1)
	if err != nil {
		undo.run(crit)
		return Receipt{}, s.purchaseFailed(crit, res, upstream("stock guard", err))
	}
	if !ok {
		undo.run(crit)
		return Receipt{}, s.purchaseFailed(crit, res, newErr(KindOutOfStock,
			"item went out of stock during purchase confirmation", nil))
	}
	undo.add("release guard", func(ctx context.Context) error {
		return s.Guard.Release(ctx, item.ID, 1)
	})

	remaining, err := s.decrementLedger(crit, item.ID, 1)
	if err != nil {
		undo.run(crit)
		if errors.Is(err, ErrInsufficientStock) {
			s.resync(crit, item.ID)
			return Receipt{}, s.purchaseFailed(crit, res, newErr(KindOutOfStock,
				"item went out of stock during purchase confirmation", nil))
		}
		return Receipt{}, s.purchaseFailed(crit, res, upstream("stock ledger write", err))
	}
	undo.add("restore ledger stock", func(ctx context.Context) error {
		return s.Stock.IncrementStock(ctx, item.ID, 1)
	})

	if err := s.debit(crit, userID, item.Price); err != nil {
		undo.run(crit)
		if errors.Is(err, ErrInsufficientFunds) {
			return Receipt{}, s.purchaseFailed(crit, res, newErr(KindInsufficientCredit,
				"your credit is insufficient for this purchase", nil))
		}
		return Receipt{}, s.purchaseFailed(crit, res, upstream("credit debit", err))
	}
	undo.add("refund credit", func(ctx context.Context) error {
		return s.Credits.Refund(ctx, userID, item.Price)
	})

	now := s.now()
	purchase := Purchase{ID: uuid.NewString(), UserID: userID, ItemID: item.ID, Price: item.Price, PurchasedAt: now}
	if err := s.appendPurchase(crit, purchase); err != nil {
		undo.run(crit)
		return Receipt{}, s.purchaseFailed(crit, res, upstream("purchase ledger append", err))
	}

	receipt := Receipt{
		SessionID:       res.ID,
		UserID:          userID,
		ItemID:          item.ID,
		Title:           item.Title,
		Price:           item.Price,
		RemainingCredit: acc.AvailableCredit.Sub(item.Price),
		RemainingStock:  remaining,
		CompletedAt:     now,
	}
	if s.Receipts != nil {
		if err := s.Receipts.PutReceipt(crit, receipt); err != nil {
			log.Warn().Err(err).Msg("cache receipt")
		}
	}
	s.Events.Emit(crit, TopicPurchaseCompleted, EventPurchaseCompleted, item.ID, PurchaseCompletedPayload{
		SessionID: res.ID, UserID: userID, ItemID: item.ID, Price: item.Price, RemainingStock: remaining,
	})
	s.Metrics.Purchase("completed")
	log.Info().Int("remaining_stock", remaining).Msg("purchase completed")
	return receipt, nil
}

func (s *Service) completedReceipt(ctx context.Context, sessionID string) (Receipt, error) {
	if s.Receipts != nil {
		r, err := s.Receipts.GetReceipt(ctx, sessionID)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrNotFound) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("read receipt")
		}
	}
	return Receipt{}, newErr(KindSessionNotFound, "purchase session already completed", nil)
}

func (s *Service) purchaseFailed(ctx context.Context, res Reservation, err *Error) *Error {
	s.Metrics.Purchase(string(err.Kind))
	s.Events.Emit(ctx, TopicPurchaseFailed, EventPurchaseFailed, res.ItemID, PurchaseFailedPayload{
		SessionID: res.ID, UserID: res.UserID, ItemID: res.ItemID, Reason: err.Kind,
	})
	return err
}

func (s *Service) tryDecrement(ctx context.Context, itemID string, qty int) (bool, error) {
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.Guard.TryDecrement(cctx, itemID, qty)
}

func (s *Service) decrementLedger(ctx context.Context, itemID string, qty int) (int, error) {
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.Stock.DecrementStock(cctx, itemID, qty)
}

func (s *Service) debit(ctx context.Context, userID string, amount decimal.Decimal) error {
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.Credits.Debit(cctx, userID, amount)
}

func (s *Service) appendPurchase(ctx context.Context, p Purchase) error {
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.Purchases.AppendPurchase(cctx, p)
}

func (s *Service) resync(ctx context.Context, itemID string) {
	cctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.Guard.Resync(cctx, itemID); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("item_id", itemID).Msg("resync stock guard")
	}
}

// CancelPurchase is idempotent: a missing or expired session is a success.
func (s *Service) CancelPurchase(ctx context.Context, userID, sessionID string) error {
	res, err := s.ownedSession(ctx, userID, sessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired):
		return nil
	case err != nil:
		return err
	}
	if res.ItemID == "" {
		return newErr(KindSessionNotFound, "session belongs to a cart checkout", nil)
	}
	if res.Status == ReservationCompleted {
		return nil
	}
	if err := s.Reservations.DeleteReservation(ctx, res.ID); err != nil {
		return upstream("reservation delete", err)
	}
	return nil
}

func (s *Service) GetStatus(ctx context.Context, userID string) (PurchaseStatus, error) {
	acc, err := s.loadAccount(ctx, userID)
	if err != nil {
		return PurchaseStatus{}, err
	}
	st := PurchaseStatus{
		CanPurchase:     acc.Status == AccountActive,
		AccountStatus:   acc.Status,
		AvailableCredit: acc.AvailableCredit,
	}
	switch acc.Status {
	case AccountActive:
		st.Message = "account is active and ready for purchases"
	case AccountPending:
		st.Message = "account is pending approval; contact an administrator to activate it"
	default:
		st.Message = fmt.Sprintf("account status does not allow purchases: %s", acc.Status)
	}
	return st, nil
}

// UpdateStock is the out-of-band catalog edit. The guard is resynchronised
// here and on every other instance via the StockChanged event.
func (s *Service) UpdateStock(ctx context.Context, itemID string, stock int) (Item, error) {
	if stock < 0 {
		return Item{}, newErr(KindInvalidRequest, "stock must not be negative", nil)
	}
	item, err := s.loadItem(ctx, itemID)
	if err != nil {
		return Item{}, err
	}
	item.Stock = stock
	if err := s.Catalog.SaveItem(ctx, item); err != nil {
		return Item{}, upstream("catalog save", err)
	}
	s.resync(ctx, itemID)
	s.Events.Emit(ctx, TopicStockChanged, EventStockChanged, itemID, StockChangedPayload{ItemID: itemID, Stock: stock})
	return item, nil
}
