package redisx

import "time"

const (
	// Cache status order: marketplace:order_status:{order_id} -> CachedStatus JSON
	KeyOrderStatus = "marketplace:order_status:%s"

	// Dedup event processing: marketplace:dedup:{service}:{event_id}
	KeyDedup = "marketplace:dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
