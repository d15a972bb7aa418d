package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/redis/go-redis/v9"
)

// ReceiptCache keeps confirmed receipts so a repeated confirm is answered
// without touching stock again.
type ReceiptCache struct {
	Redis *redis.Client
}

func (c *ReceiptCache) PutReceipt(ctx context.Context, r checkout.Receipt) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, fmt.Sprintf(KeyReceipt, r.SessionID), b, TTLReceipt).Err()
}

func (c *ReceiptCache) GetReceipt(ctx context.Context, sessionID string) (checkout.Receipt, error) {
	var r checkout.Receipt
	b, err := c.Redis.Get(ctx, fmt.Sprintf(KeyReceipt, sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return r, checkout.ErrNotFound
	}
	if err != nil {
		return r, err
	}
	return r, json.Unmarshal(b, &r)
}
