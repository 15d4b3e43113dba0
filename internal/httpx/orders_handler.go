package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

type StatusCache interface {
	Get(ctx context.Context, orderID string) ([]byte, error)
	Set(ctx context.Context, orderID string, v []byte) error
}

type OrdersHandler struct {
	Orders OrderReader
	Cache  StatusCache
}

type orderStatusView struct {
	OrderID     string     `json:"orderId"`
	Status      string     `json:"status"`
	Total       int64      `json:"total"`
	Currency    string     `json:"currency"`
	Items       int        `json:"items"`
	PaymentDate *time.Time `json:"paymentDate,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/api/orders/{id}", h.getOrder)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		if b, err := h.Cache.Get(ctx, orderID); err == nil && len(b) > 0 {
			writeJSON(w, http.StatusOK, json.RawMessage(b))
			return
		} else if err != nil {
			log.Warn().Err(err).Msg("status cache read")
		}
	}

	// 2) database
	o, err := h.Orders.GetByOrderID(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("load order")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	b, _ := json.Marshal(orderStatusView{
		OrderID:     o.OrderID,
		Status:      statusName(o.PaymentStatus),
		Total:       o.Total,
		Currency:    o.Currency,
		Items:       len(o.Items),
		PaymentDate: o.PaymentDate,
		UpdatedAt:   o.UpdatedAt,
	})
	if h.Cache != nil {
		if err := h.Cache.Set(ctx, orderID, b); err != nil {
			log.Warn().Err(err).Msg("status cache write")
		}
	}
	writeJSON(w, http.StatusOK, json.RawMessage(b))
}
