package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/selvaterra/checkout/internal/flow"
	"github.com/selvaterra/checkout/internal/orders"
	"github.com/selvaterra/checkout/internal/webhook"
)

type Reconciler interface {
	Reconcile(ctx context.Context, n webhook.Notification) (*webhook.Outcome, error)
}

type OrderReader interface {
	GetByOrderID(ctx context.Context, orderID string) (*orders.Order, error)
}

type StatusReader interface {
	GetStatus(ctx context.Context, token string) (*flow.PaymentStatus, error)
}

// PaymentsHandler serves the gateway's confirmation callback and the
// browser return after payment.
type PaymentsHandler struct {
	Reconciler Reconciler
	Orders     OrderReader
	Gateway    StatusReader
	SiteURL    string
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/api/payments/webhook", h.webhook)
	r.Get("/api/payments/return", h.paymentReturn)
	r.Post("/api/payments/return", h.paymentReturn)
}

func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	fields, err := parseFields(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "unreadable payload"})
		return
	}
	n := webhook.Notification{
		Token:         fields["token"],
		CommerceOrder: fields["commerceOrder"],
		Signature:     fields[flow.SignatureField],
		Fields:        fields,
	}

	out, err := h.Reconciler.Reconcile(r.Context(), n)
	switch {
	case errors.Is(err, webhook.ErrMissingReference):
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	case errors.Is(err, webhook.ErrInvalidSignature):
		log.Warn().Str("commerce_order", n.CommerceOrder).Msg("webhook rejected: bad signature")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Str("commerce_order", n.CommerceOrder).Msg("webhook processing failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": out.Message})
}

// parseFields accepts a form-encoded or JSON body and flattens it to strings.
// URL query parameters are ignored.
func parseFields(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	fields := map[string]string{}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var raw map[string]any
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			if v == nil {
				continue
			}
			fields[k] = flow.FormatValue(v)
		}
		return fields, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	// body fields only: query parameters on the confirmation URL are not signed
	for k := range r.PostForm {
		fields[k] = r.PostForm.Get(k)
	}
	return fields, nil
}

// paymentReturn sends the shopper back to the storefront result page. It
// only reads state; the webhook is what changes it.
func (h *PaymentsHandler) paymentReturn(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	_ = r.ParseForm()
	orderID := r.Form.Get("order")
	token := r.Form.Get("token")

	status := orders.StatusUnknown
	if orderID != "" {
		o, err := h.Orders.GetByOrderID(r.Context(), orderID)
		if err != nil {
			log.Error().Err(err).Str("order_id", orderID).Msg("return: load order")
		} else if o != nil {
			status = o.PaymentStatus
			if token == "" {
				token = o.GatewayToken
			}
		}
	}
	if (status == orders.StatusUnknown || status == orders.StatusPending) && token != "" && h.Gateway != nil {
		st, err := h.Gateway.GetStatus(r.Context(), token)
		if err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("return: query gateway status")
		} else {
			status = st.Status
			if orderID == "" {
				orderID = st.MerchantOrderID
			}
		}
	}

	q := url.Values{}
	q.Set("order", orderID)
	q.Set("status", statusName(status))
	http.Redirect(w, r, h.SiteURL+"/checkout/resultado?"+q.Encode(), http.StatusSeeOther)
}

func statusName(s orders.PaymentStatus) string {
	if s == orders.StatusUnknown {
		return "unknown"
	}
	return s.String()
}
