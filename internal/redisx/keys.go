package redisx

import "time"

const (
	// Spent marker per state version: ledger:spent:{tx_id}:{index} -> consuming tx_id
	KeySpent = "ledger:spent:%s"

	// Committed tx: ledger:tx:{tx_id} -> position
	KeyCommitted = "ledger:tx:%s"

	// Global commit counter.
	KeyPosition = "ledger:position"

	// Dedup of transport frames: dedup:{party}:{message_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLDedup = 48 * time.Hour
)
