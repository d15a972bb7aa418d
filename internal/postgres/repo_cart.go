package postgres

import (
	"context"
	"time"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/jackc/pgx/v5"
)

const (
	cartCols     = `id, user_id, status, created_at, expires_at`
	cartItemCols = `id, cart_id, item_id, quantity, price_at_add, added_at, reserved_until`
)

const (
	qActiveCart    = `SELECT ` + cartCols + ` FROM carts WHERE user_id=$1 AND status='ACTIVE' ORDER BY created_at DESC LIMIT 1`
	qCheckoutCarts = `SELECT ` + cartCols + ` FROM carts WHERE user_id=$1 AND status='CHECKING_OUT' ORDER BY created_at DESC`
	qCreateCart    = `INSERT INTO carts(` + cartCols + `) VALUES ($1,$2,$3,$4,$5)`
	qUpdateCart    = `UPDATE carts SET status=$2, expires_at=$3 WHERE id=$1`
	qCartItems     = `SELECT ` + cartItemCols + ` FROM cart_items WHERE cart_id=$1 ORDER BY added_at`
	qCartItemByID  = `SELECT ` + cartItemCols + ` FROM cart_items WHERE id=$1`
	qSaveCartItem  = `INSERT INTO cart_items(` + cartItemCols + `) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET quantity=EXCLUDED.quantity, reserved_until=EXCLUDED.reserved_until`
	qDeleteCartItem   = `DELETE FROM cart_items WHERE id=$1`
	qCompleteCart     = `UPDATE carts SET status='COMPLETED' WHERE id=$1`
	qDeleteCartLines  = `DELETE FROM cart_items WHERE cart_id = ANY($1)`
	qDeleteStaleLines = `DELETE FROM cart_items WHERE reserved_until < $1`
	qExpireCarts      = `UPDATE carts SET status='EXPIRED' WHERE status IN ('ACTIVE','CHECKING_OUT') AND expires_at < $1 RETURNING ` + cartCols
)

func scanCart(row pgx.Row) (checkout.Cart, error) {
	var c checkout.Cart
	err := row.Scan(&c.ID, &c.UserID, &c.Status, &c.CreatedAt, &c.ExpiresAt)
	return c, err
}

func scanCartItem(row pgx.Row) (checkout.CartItem, error) {
	var it checkout.CartItem
	err := row.Scan(&it.ID, &it.CartID, &it.ItemID, &it.Quantity, &it.PriceAtAdd, &it.AddedAt, &it.ReservedUntil)
	return it, err
}

func (s *Store) ActiveCart(ctx context.Context, userID string) (checkout.Cart, error) {
	c, err := scanCart(s.DB.QueryRow(ctx, qActiveCart, userID))
	if err != nil {
		return checkout.Cart{}, notFound(err)
	}
	return c, nil
}

func (s *Store) CheckoutCarts(ctx context.Context, userID string) ([]checkout.Cart, error) {
	rows, err := s.DB.Query(ctx, qCheckoutCarts, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []checkout.Cart
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateCart(ctx context.Context, c checkout.Cart) error {
	_, err := s.DB.Exec(ctx, qCreateCart, c.ID, c.UserID, c.Status, c.CreatedAt, c.ExpiresAt)
	return err
}

func (s *Store) UpdateCart(ctx context.Context, c checkout.Cart) error {
	ct, err := s.DB.Exec(ctx, qUpdateCart, c.ID, c.Status, c.ExpiresAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return checkout.ErrNotFound
	}
	return nil
}

func (s *Store) CartItems(ctx context.Context, cartID string) ([]checkout.CartItem, error) {
	rows, err := s.DB.Query(ctx, qCartItems, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []checkout.CartItem
	for rows.Next() {
		it, err := scanCartItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) CartItemByID(ctx context.Context, id string) (checkout.CartItem, error) {
	it, err := scanCartItem(s.DB.QueryRow(ctx, qCartItemByID, id))
	if err != nil {
		return checkout.CartItem{}, notFound(err)
	}
	return it, nil
}

func (s *Store) SaveCartItem(ctx context.Context, it checkout.CartItem) error {
	_, err := s.DB.Exec(ctx, qSaveCartItem, it.ID, it.CartID, it.ItemID, it.Quantity, it.PriceAtAdd, it.AddedAt, it.ReservedUntil)
	return err
}

func (s *Store) DeleteCartItem(ctx context.Context, id string) error {
	_, err := s.DB.Exec(ctx, qDeleteCartItem, id)
	return err
}

// CompleteCart marks the cart COMPLETED and drops its lines in one transaction.
func (s *Store) CompleteCart(ctx context.Context, cartID string) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	if err := completeCart(ctx, tx, cartID); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func completeCart(ctx context.Context, tx pgx.Tx, cartID string) error {
	ct, err := tx.Exec(ctx, qCompleteCart, cartID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return checkout.ErrNotFound
	}
	_, err = tx.Exec(ctx, qDeleteCartLines, []string{cartID})
	return err
}

func (s *Store) DeleteExpiredCartItems(ctx context.Context, now time.Time) (int, error) {
	ct, err := s.DB.Exec(ctx, qDeleteStaleLines, now)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

// ExpireCarts retires open carts past expiry and drops their lines.
func (s *Store) ExpireCarts(ctx context.Context, now time.Time) ([]checkout.Cart, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	out, err := expireCarts(ctx, tx, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func expireCarts(ctx context.Context, tx pgx.Tx, now time.Time) ([]checkout.Cart, error) {
	rows, err := tx.Query(ctx, qExpireCarts, now)
	if err != nil {
		return nil, err
	}
	var (
		out []checkout.Cart
		ids []string
	)
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, c)
		ids = append(ids, c.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, qDeleteCartLines, ids); err != nil {
			return nil, err
		}
	}
	return out, nil
}
