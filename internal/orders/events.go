package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPending       = "OrderPending"
	EventOrderPersistFailed = "OrderPersistFailed"
	EventOrderPaid          = "OrderPaid"
	EventUserRegistered     = "UserRegistered"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id or user_id
	Payload       json.RawMessage `json:"payload"`
}

type OrderPendingPayload struct {
	OrderID         string `json:"order_id"`
	GatewayOrderRef string `json:"gateway_order_ref"`
	Total           int64  `json:"total"`
	Currency        string `json:"currency"`
	Items           int    `json:"items"`
}

// OrderPersistFailedPayload carries the full draft so the order can be
// recreated by hand once the gateway confirms payment.
type OrderPersistFailedPayload struct {
	Draft  Draft  `json:"draft"`
	Reason string `json:"reason"`
}

type EffectResult struct {
	Effect string `json:"effect"` // course_access | terrarium_stock | workshop_spots | email
	Target string `json:"target"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type OrderPaidPayload struct {
	OrderID       string         `json:"order_id"`
	Total         int64          `json:"total"`
	Currency      string         `json:"currency"`
	StatusChanged bool           `json:"status_changed"`
	Effects       []EffectResult `json:"effects"`
}

type UserRegisteredPayload struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}
