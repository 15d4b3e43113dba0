package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/selvaterra/checkout/internal/checkout"
	"github.com/selvaterra/checkout/internal/flow"
	"github.com/selvaterra/checkout/internal/orders"
)

const maxCheckoutBody = 64 << 10

type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type CheckoutHandler struct {
	Service   Checkouter
	Limiter   *RateLimiter
	JWTSecret string
}

type checkoutReq struct {
	Items        []orders.CartItem `json:"items"`
	Email        string            `json:"email"`
	CustomerName string            `json:"customerName"`
	UserID       string            `json:"userId"`
}

type checkoutResp struct {
	Success         bool   `json:"success"`
	PaymentURL      string `json:"paymentUrl"`
	Token           string `json:"token"`
	GatewayOrderRef string `json:"gatewayOrderRef"`
	OrderID         string `json:"orderId"`
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.Limiter != nil {
			r.Use(h.Limiter.Middleware)
		}
		r.Post("/api/checkout", h.checkout)
	})
}

func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCheckoutBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large")
		return
	}
	if err := validateJSONSchema(checkoutSchemaLoader, body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req checkoutReq
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		uid, err := bearerUser(r, h.JWTSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		userID = uid
	}

	res, err := h.Service.Checkout(r.Context(), checkout.Request{
		Items:        req.Items,
		Email:        req.Email,
		CustomerName: req.CustomerName,
		UserID:       userID,
		Country:      country(r),
	})
	if err != nil {
		var (
			ve *checkout.ValidationError
			ae *checkout.AvailabilityError
			ge *flow.GatewayError
		)
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, ve.Error())
		case errors.As(err, &ae):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      ae.Error(),
				"outOfStock": true,
				"itemId":     ae.ItemID,
				"itemName":   ae.ItemName,
			})
		case errors.As(err, &ge):
			log.Error().Err(err).Msg("checkout gateway error")
			msg := "could not create payment order"
			if ge.Message != "" && ge.Err == nil {
				msg = ge.Message
			}
			writeError(w, http.StatusInternalServerError, msg)
		default:
			log.Error().Err(err).Msg("checkout failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, checkoutResp{
		Success:         true,
		PaymentURL:      res.PaymentURL,
		Token:           res.Token,
		GatewayOrderRef: res.GatewayOrderRef,
		OrderID:         res.OrderID,
	})
}

func country(r *http.Request) string {
	for _, h := range []string{"CF-IPCountry", "X-Vercel-IP-Country", "X-Country"} {
		if v := r.Header.Get(h); v != "" {
			return strings.ToUpper(v)
		}
	}
	return ""
}
