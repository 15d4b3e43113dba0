package redisx

import "time"

const (
	// Sent confirmation emails: email:sent:{order_id}:{status} -> "1"
	KeyEmailSent = "email:sent:%s"

	// Cache status order: order_status:{order_id} -> {"orderId": "...", "status": "...", ...}
	KeyOrderStatus = "order_status:%s"
)

var (
	TTLEmailSent   = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
)
