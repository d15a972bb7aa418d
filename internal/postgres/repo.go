package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	qAccountByID    = `SELECT id, status, available_credit FROM accounts WHERE id=$1`
	qAccountExists  = `SELECT EXISTS(SELECT 1 FROM accounts WHERE id=$1)`
	qDebit          = `UPDATE accounts SET available_credit = available_credit - $2 WHERE id=$1 AND available_credit >= $2`
	qRefund         = `UPDATE accounts SET available_credit = available_credit + $2 WHERE id=$1`
	qItemByID       = `SELECT id, title, author, price, stock FROM items WHERE id=$1`
	qCurrentStock   = `SELECT stock FROM items WHERE id=$1`
	qDecrementStock = `UPDATE items SET stock = stock - $2 WHERE id=$1 AND stock >= $2 RETURNING stock`
	qIncrementStock = `UPDATE items SET stock = stock + $2 WHERE id=$1`
	qSaveItem       = `INSERT INTO items(id, title, author, price, stock) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, author=EXCLUDED.author, price=EXCLUDED.price, stock=EXCLUDED.stock`
	qAppendPurchase = `INSERT INTO user_books(id, user_id, item_id, price, purchased_at) VALUES ($1,$2,$3,$4,$5)`
	qRemovePurchase = `DELETE FROM user_books WHERE id=$1`
)

// Store implements every checkout collaborator on one Postgres database.
type Store struct{ DB DB }

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return checkout.ErrNotFound
	}
	return err
}

func (s *Store) AccountByID(ctx context.Context, userID string) (checkout.Account, error) {
	var a checkout.Account
	err := s.DB.QueryRow(ctx, qAccountByID, userID).Scan(&a.ID, &a.Status, &a.AvailableCredit)
	if err != nil {
		return checkout.Account{}, notFound(err)
	}
	return a, nil
}

// Debit only lands when the balance covers amount.
func (s *Store) Debit(ctx context.Context, userID string, amount decimal.Decimal) error {
	ct, err := s.DB.Exec(ctx, qDebit, userID, amount)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.DB.QueryRow(ctx, qAccountExists, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return checkout.ErrNotFound
	}
	return checkout.ErrInsufficientFunds
}

func (s *Store) Refund(ctx context.Context, userID string, amount decimal.Decimal) error {
	ct, err := s.DB.Exec(ctx, qRefund, userID, amount)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return checkout.ErrNotFound
	}
	return nil
}

func (s *Store) ItemByID(ctx context.Context, itemID string) (checkout.Item, error) {
	var it checkout.Item
	err := s.DB.QueryRow(ctx, qItemByID, itemID).Scan(&it.ID, &it.Title, &it.Author, &it.Price, &it.Stock)
	if err != nil {
		return checkout.Item{}, notFound(err)
	}
	return it, nil
}

func (s *Store) SaveItem(ctx context.Context, it checkout.Item) error {
	_, err := s.DB.Exec(ctx, qSaveItem, it.ID, it.Title, it.Author, it.Price, it.Stock)
	return err
}

func (s *Store) CurrentStock(ctx context.Context, itemID string) (int, error) {
	var stock int
	if err := s.DB.QueryRow(ctx, qCurrentStock, itemID).Scan(&stock); err != nil {
		return 0, notFound(err)
	}
	return stock, nil
}

// DecrementStock is a single conditional UPDATE, so concurrent writers can
// never drive the column below zero.
func (s *Store) DecrementStock(ctx context.Context, itemID string, qty int) (int, error) {
	var left int
	err := s.DB.QueryRow(ctx, qDecrementStock, itemID, qty).Scan(&left)
	if err == nil {
		return left, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	cur, err := s.CurrentStock(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return cur, fmt.Errorf("item %s has %d, want %d: %w", itemID, cur, qty, checkout.ErrInsufficientStock)
}

func (s *Store) IncrementStock(ctx context.Context, itemID string, qty int) error {
	ct, err := s.DB.Exec(ctx, qIncrementStock, itemID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return checkout.ErrNotFound
	}
	return nil
}

func (s *Store) AppendPurchase(ctx context.Context, p checkout.Purchase) error {
	_, err := s.DB.Exec(ctx, qAppendPurchase, p.ID, p.UserID, p.ItemID, p.Price, p.PurchasedAt)
	return err
}

func (s *Store) RemovePurchase(ctx context.Context, purchaseID string) error {
	_, err := s.DB.Exec(ctx, qRemovePurchase, purchaseID)
	return err
}
