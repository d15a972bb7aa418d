package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Dedup struct {
	Redis   *redis.Client
	Service string
}

// FirstSeen records id and reports whether this is its first delivery.
func (d *Dedup) FirstSeen(ctx context.Context, id string) (bool, error) {
	return d.Redis.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, id), "1", TTLDedup).Result()
}

// Forget drops the mark so a redelivery of id is processed again.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	return d.Redis.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, id)).Err()
}
