package flow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/selvaterra/checkout/internal/orders"
	"github.com/shopspring/decimal"
)

// gateway timestamps are local to Chile
var santiago = loadSantiago()

func loadSantiago() *time.Location {
	loc, err := time.LoadLocation("America/Santiago")
	if err != nil {
		return time.FixedZone("CLT", -4*60*60)
	}
	return loc
}

const gatewayTimeLayout = "2006-01-02 15:04:05"

// PaymentStatus is the authoritative payment state reported by the gateway.
type PaymentStatus struct {
	Status          orders.PaymentStatus
	Amount          decimal.Decimal
	Currency        string
	MerchantOrderID string
	GatewayOrderRef string
	PaymentDate     *time.Time
	Payer           string
}

type statusResp struct {
	FlowOrder     json.Number     `json:"flowOrder"`
	CommerceOrder string          `json:"commerceOrder"`
	RequestDate   string          `json:"requestDate"`
	Status        json.Number     `json:"status"`
	Subject       string          `json:"subject"`
	Currency      string          `json:"currency"`
	Amount        json.Number     `json:"amount"`
	Payer         string          `json:"payer"`
	PaymentData   *paymentDataRaw `json:"paymentData"`
	Code          int             `json:"code"`
	Message       string          `json:"message"`
}

type paymentDataRaw struct {
	Date  string `json:"date"`
	Media string `json:"media"`
}

func (r statusResp) toStatus() (*PaymentStatus, error) {
	code, err := r.Status.Int64()
	if err != nil {
		return nil, fmt.Errorf("status %q: %w", r.Status, err)
	}
	st := &PaymentStatus{
		Status:          orders.ParsePaymentStatus(int(code)),
		Currency:        r.Currency,
		MerchantOrderID: r.CommerceOrder,
		GatewayOrderRef: r.FlowOrder.String(),
		Payer:           r.Payer,
	}
	if r.Amount != "" {
		amt, err := decimal.NewFromString(r.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", r.Amount, err)
		}
		st.Amount = amt
	}
	if r.PaymentData != nil {
		st.PaymentDate = ParseGatewayTime(r.PaymentData.Date)
	}
	return st, nil
}

// ParseGatewayTime returns nil for empty or unparseable values.
func ParseGatewayTime(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if t, err := time.ParseInLocation(gatewayTimeLayout, v, santiago); err == nil {
		u := t.UTC()
		return &u
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		u := t.UTC()
		return &u
	}
	return nil
}
