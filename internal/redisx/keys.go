package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{id} (id = order_id:phase)
	KeyDedup = "dedup:%s:%s"

	// Cart per customer: hash cart:{customer_id}, field product_id -> quantity
	KeyCart = "cart:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLCart        = 7 * 24 * time.Hour
)
