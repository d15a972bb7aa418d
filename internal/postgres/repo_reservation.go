package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/jackc/pgx/v5"
)

const reservationCols = `id, user_id, COALESCE(item_id, ''), COALESCE(cart_id, ''), status, created_at, expires_at`

const (
	qCreateReservation = `INSERT INTO reservations(id, user_id, item_id, cart_id, status, created_at, expires_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)`
	qLockItemStock            = `SELECT stock FROM items WHERE id=$1 FOR UPDATE`
	qGetReservation           = `SELECT ` + reservationCols + ` FROM reservations WHERE id=$1`
	qFindLockedReservation    = `SELECT ` + reservationCols + ` FROM reservations WHERE user_id=$1 AND item_id=$2 AND status='LOCKED' ORDER BY created_at DESC LIMIT 1`
	qFindCartReservation      = `SELECT ` + reservationCols + ` FROM reservations WHERE cart_id=$1 ORDER BY created_at DESC LIMIT 1`
	qCompleteReservation      = `UPDATE reservations SET status='COMPLETED' WHERE id=$1 AND status='LOCKED' AND expires_at >= $2`
	qDeleteReservation        = `DELETE FROM reservations WHERE id=$1`
	qDeleteExpiredReservation = `DELETE FROM reservations WHERE status='LOCKED' AND expires_at < $1 RETURNING ` + reservationCols
	qCountLiveLocks           = `SELECT
		(SELECT COUNT(*) FROM reservations WHERE item_id=$1 AND status='LOCKED' AND expires_at >= $2)::int
		+ (SELECT COALESCE(SUM(ci.quantity), 0) FROM cart_items ci JOIN carts c ON c.id = ci.cart_id
			WHERE ci.item_id=$1 AND ci.reserved_until >= $2 AND c.status IN ('ACTIVE','CHECKING_OUT'))::int`
)

func scanReservation(row pgx.Row) (checkout.Reservation, error) {
	var r checkout.Reservation
	err := row.Scan(&r.ID, &r.UserID, &r.ItemID, &r.CartID, &r.Status, &r.CreatedAt, &r.ExpiresAt)
	return r, err
}

func (s *Store) CreateReservation(ctx context.Context, r checkout.Reservation) error {
	_, err := s.DB.Exec(ctx, qCreateReservation, r.ID, r.UserID, r.ItemID, r.CartID, r.Status, r.CreatedAt, r.ExpiresAt)
	return err
}

// ReserveItem locks the item row so admissions for one item run one at a
// time, then re-counts live locks before inserting.
func (s *Store) ReserveItem(ctx context.Context, r checkout.Reservation, limit int, now time.Time) (checkout.Reservation, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return checkout.Reservation{}, err
	}
	out, err := reserveItem(ctx, tx, r, limit, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return checkout.Reservation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return checkout.Reservation{}, err
	}
	return out, nil
}

func reserveItem(ctx context.Context, tx pgx.Tx, r checkout.Reservation, limit int, now time.Time) (checkout.Reservation, error) {
	var stock int
	if err := tx.QueryRow(ctx, qLockItemStock, r.ItemID).Scan(&stock); err != nil {
		return checkout.Reservation{}, notFound(err)
	}
	old, err := scanReservation(tx.QueryRow(ctx, qFindLockedReservation, r.UserID, r.ItemID))
	switch {
	case err == nil && old.Live(now):
		return old, nil
	case err == nil:
		if _, err := tx.Exec(ctx, qDeleteReservation, old.ID); err != nil {
			return checkout.Reservation{}, err
		}
	case !errors.Is(err, pgx.ErrNoRows):
		return checkout.Reservation{}, err
	}
	var live int
	if err := tx.QueryRow(ctx, qCountLiveLocks, r.ItemID, now).Scan(&live); err != nil {
		return checkout.Reservation{}, err
	}
	if min(limit, stock)-live < 1 {
		return checkout.Reservation{}, checkout.ErrNoCapacity
	}
	_, err = tx.Exec(ctx, qCreateReservation, r.ID, r.UserID, r.ItemID, r.CartID, r.Status, r.CreatedAt, r.ExpiresAt)
	if err != nil {
		return checkout.Reservation{}, err
	}
	return r, nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (checkout.Reservation, error) {
	r, err := scanReservation(s.DB.QueryRow(ctx, qGetReservation, id))
	if err != nil {
		return checkout.Reservation{}, notFound(err)
	}
	return r, nil
}

func (s *Store) FindLockedReservation(ctx context.Context, userID, itemID string) (checkout.Reservation, error) {
	r, err := scanReservation(s.DB.QueryRow(ctx, qFindLockedReservation, userID, itemID))
	if err != nil {
		return checkout.Reservation{}, notFound(err)
	}
	return r, nil
}

func (s *Store) FindCartReservation(ctx context.Context, cartID string) (checkout.Reservation, error) {
	r, err := scanReservation(s.DB.QueryRow(ctx, qFindCartReservation, cartID))
	if err != nil {
		return checkout.Reservation{}, notFound(err)
	}
	return r, nil
}

// CompleteReservation is the claim step of a confirm. RowsAffected tells us
// whether we won against the sweeper or a second confirm.
func (s *Store) CompleteReservation(ctx context.Context, id string, now time.Time) error {
	ct, err := s.DB.Exec(ctx, qCompleteReservation, id, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return checkout.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteReservation(ctx context.Context, id string) error {
	_, err := s.DB.Exec(ctx, qDeleteReservation, id)
	return err
}

func (s *Store) DeleteExpiredReservations(ctx context.Context, now time.Time) ([]checkout.Reservation, error) {
	rows, err := s.DB.Query(ctx, qDeleteExpiredReservation, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []checkout.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CountLiveLocks(ctx context.Context, itemID string, now time.Time) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, qCountLiveLocks, itemID, now).Scan(&n)
	return n, err
}
