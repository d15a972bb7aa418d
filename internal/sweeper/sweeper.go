// Package sweeper reclaims reservations, cart lines and carts whose time box
// has elapsed. Readers already treat expired records as absent; the sweeper
// only makes that physical.
package sweeper

import (
	"context"
	"time"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/ariefcatur/go-bookstore-checkout/internal/clock"
	"github.com/ariefcatur/go-bookstore-checkout/internal/metrics"
	"github.com/rs/zerolog"
)

type Store interface {
	DeleteExpiredReservations(ctx context.Context, now time.Time) ([]checkout.Reservation, error)
	DeleteExpiredCartItems(ctx context.Context, now time.Time) (int, error)
	ExpireCarts(ctx context.Context, now time.Time) ([]checkout.Cart, error)
}

type Sweeper struct {
	Store    Store
	Clock    clock.Clock
	Events   checkout.Emitter
	Metrics  *metrics.Metrics
	Interval time.Duration
}

type Result struct {
	Reservations int
	CartItems    int
	Carts        int
}

// SweepOnce runs one pass. Each step is independent; a failing step is
// logged and the next one still runs.
func (s *Sweeper) SweepOnce(ctx context.Context) Result {
	log := zerolog.Ctx(ctx)
	now := s.Clock.Now()
	var res Result

	gone, err := s.Store.DeleteExpiredReservations(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("sweep reservations")
	}
	for _, r := range gone {
		s.Events.Emit(ctx, checkout.TopicReservationExpired, checkout.EventReservationExpired, r.UserID,
			checkout.ReservationExpiredPayload{
				ReservationID: r.ID, UserID: r.UserID, ItemID: r.ItemID, CartID: r.CartID, ExpiredAt: r.ExpiresAt,
			})
	}
	res.Reservations = len(gone)

	n, err := s.Store.DeleteExpiredCartItems(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("sweep cart items")
	}
	res.CartItems = n

	carts, err := s.Store.ExpireCarts(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("sweep carts")
	}
	for _, c := range carts {
		s.Events.Emit(ctx, checkout.TopicCartExpired, checkout.EventCartExpired, c.ID,
			checkout.CartExpiredPayload{CartID: c.ID, UserID: c.UserID})
	}
	res.Carts = len(carts)

	s.Metrics.Reclaim("reservation", res.Reservations)
	s.Metrics.Reclaim("cart_item", res.CartItems)
	s.Metrics.Reclaim("cart", res.Carts)
	if res != (Result{}) {
		log.Info().
			Int("reservations", res.Reservations).
			Int("cart_items", res.CartItems).
			Int("carts", res.Carts).
			Msg("expired records reclaimed")
	}
	return res
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.SweepOnce(ctx)
		}
	}
}
