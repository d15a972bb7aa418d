package redisx

import "time"

const (
	// Distributed stock counter: stockguard:{item_id} -> int
	KeyStockGuard = "stockguard:{%s}"

	// Confirmed purchase receipt: receipt:{session_id} -> Receipt JSON
	KeyReceipt = "receipt:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLReceipt = 24 * time.Hour
	TTLDedup   = 48 * time.Hour
)
