package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/selvaterra/checkout/internal/currency"
	"github.com/selvaterra/checkout/internal/flow"
	"github.com/selvaterra/checkout/internal/inventory"
	kafkax "github.com/selvaterra/checkout/internal/kafka"
	"github.com/selvaterra/checkout/internal/orders"
	"github.com/shopspring/decimal"
)

type Inventory interface {
	CheckTerrariumStock(ctx context.Context, id string, qty int) (inventory.Availability, error)
	CheckWorkshopSpots(ctx context.Context, id string, date time.Time, qty int) (inventory.Availability, error)
}

type Gateway interface {
	CreateOrder(ctx context.Context, req flow.CreateOrderRequest) (*flow.CreateOrderResult, error)
}

type OrderStore interface {
	Create(ctx context.Context, d orders.Draft) (*orders.Order, error)
}

type Request struct {
	Items        []orders.CartItem
	Email        string
	CustomerName string
	UserID       string
	// Country is the buyer's country as reported by the edge; logged only.
	Country string
}

type Result struct {
	PaymentURL      string
	Token           string
	GatewayOrderRef string
	OrderID         string
	// Persisted is false when the gateway order exists but storing it failed.
	Persisted bool
}

type Service struct {
	Inventory Inventory
	Gateway   Gateway
	Orders    OrderStore
	FX        currency.Converter
	Events    kafkax.Publisher
	SiteURL   string
	Log       zerolog.Logger

	NewID func() string
}

// Checkout validates the cart, creates a payment order at the gateway and
// records it as pending. The returned PaymentURL is where the shopper pays.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	email, err := validate(&req)
	if err != nil {
		return nil, err
	}
	if err := s.checkAvailability(ctx, req.Items); err != nil {
		return nil, err
	}

	total, lines, err := s.totals(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	amount := total.Round(0).IntPart()
	if amount <= 0 {
		return nil, invalid("items", "order total must be positive")
	}

	orderID := s.newID()
	log := s.Log.With().Str("order_id", orderID).Logger()
	log.Info().Int64("amount", amount).Int("items", len(req.Items)).Str("country", req.Country).Msg("creating gateway order")

	created, err := s.Gateway.CreateOrder(ctx, flow.CreateOrderRequest{
		MerchantOrderID: orderID,
		Subject:         subject(req.Items),
		Currency:        orders.CurrencyCLP,
		Amount:          amount,
		PayerEmail:      email,
		ReturnURL:       s.SiteURL + "/api/payments/return?order=" + orderID,
		ConfirmationURL: s.SiteURL + "/api/payments/webhook",
		LineItems:       lines,
	})
	if err != nil {
		log.Error().Err(err).Msg("gateway order creation failed")
		return nil, err
	}

	draft := orders.Draft{
		OrderID:         orderID,
		GatewayOrderRef: created.GatewayOrderRef,
		GatewayToken:    created.Token,
		CustomerEmail:   email,
		CustomerName:    strings.TrimSpace(req.CustomerName),
		UserID:          strings.TrimSpace(req.UserID),
		Total:           amount,
		Currency:        orders.CurrencyCLP,
	}
	for _, it := range req.Items {
		draft.Items = append(draft.Items, orders.Snapshot(it))
	}

	res := &Result{
		PaymentURL:      created.RedirectURL,
		Token:           created.Token,
		GatewayOrderRef: created.GatewayOrderRef,
		OrderID:         orderID,
	}

	if _, err := s.Orders.Create(ctx, draft); err != nil {
		perr := fmt.Errorf("%w: %v", ErrPersistence, err)
		// the shopper can still pay; the event carries what is needed to recreate the order
		log.Error().Err(err).Str("gateway_order_ref", created.GatewayOrderRef).Msg("order not persisted after gateway accepted it")
		s.publish(ctx, orders.TopicOrderPersistFailed, orders.EventOrderPersistFailed, orderID,
			orders.OrderPersistFailedPayload{Draft: draft, Reason: perr.Error()})
		return res, nil
	}
	res.Persisted = true

	s.publish(ctx, orders.TopicOrderPending, orders.EventOrderPending, orderID, orders.OrderPendingPayload{
		OrderID:         orderID,
		GatewayOrderRef: created.GatewayOrderRef,
		Total:           amount,
		Currency:        orders.CurrencyCLP,
		Items:           len(draft.Items),
	})
	log.Info().Str("gateway_order_ref", created.GatewayOrderRef).Msg("order pending payment")
	return res, nil
}

func (s *Service) publish(ctx context.Context, topic, eventType, key string, payload any) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishEvent(ctx, topic, eventType, key, payload); err != nil {
		s.Log.Warn().Err(err).Str("event", eventType).Str("order_id", key).Msg("publish failed")
	}
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// validate normalizes req and returns the bare customer email. Items are
// copied first so the caller's cart is left untouched.
func validate(req *Request) (string, error) {
	if len(req.Items) == 0 {
		return "", invalid("items", "cart is empty")
	}
	req.Items = append([]orders.CartItem(nil), req.Items...)
	email := strings.TrimSpace(req.Email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", invalid("email", "invalid email address")
	}

	for i := range req.Items {
		it := &req.Items[i]
		if strings.TrimSpace(it.ID) == "" {
			return "", invalid("items", "item %d has no id", i)
		}
		if !it.Type.Valid() {
			return "", invalid("items", "item %s has unknown type %q", it.ID, it.Type)
		}
		if it.Quantity <= 0 {
			return "", invalid("items", "item %s has invalid quantity %d", it.ID, it.Quantity)
		}
		if it.MaxQuantity > 0 && it.Quantity > it.MaxQuantity {
			return "", invalid("items", "item %s exceeds maximum quantity %d", it.ID, it.MaxQuantity)
		}
		if !it.Price.IsPositive() {
			return "", invalid("items", "item %s has invalid price", it.ID)
		}
		it.Currency = strings.ToUpper(strings.TrimSpace(it.Currency))
		if it.Currency == "" {
			it.Currency = orders.CurrencyCLP
		}
		if it.Currency != orders.CurrencyCLP && it.Currency != orders.CurrencyUSD {
			return "", invalid("items", "item %s has unsupported currency %q", it.ID, it.Currency)
		}
	}
	return email, nil
}

// checkAvailability stops at the first line that cannot be fulfilled.
func (s *Service) checkAvailability(ctx context.Context, items []orders.CartItem) error {
	for _, it := range items {
		var (
			av  inventory.Availability
			err error
		)
		switch {
		case it.Type == orders.TypeTerrarium:
			av, err = s.Inventory.CheckTerrariumStock(ctx, it.ID, it.Quantity)
		case it.Type == orders.TypeWorkshop && it.SelectedDate != nil:
			av, err = s.Inventory.CheckWorkshopSpots(ctx, it.ID, *it.SelectedDate, it.Quantity)
		default:
			continue
		}
		if errors.Is(err, inventory.ErrNotFound) {
			return &AvailabilityError{ItemID: it.ID, ItemName: it.Name, Current: 0}
		}
		if err != nil {
			return fmt.Errorf("check availability of %s: %w", it.ID, err)
		}
		if !av.Available {
			return &AvailabilityError{ItemID: it.ID, ItemName: it.Name, Current: av.Current}
		}
	}
	return nil
}

// totals sums the cart per currency and converts everything to CLP.
func (s *Service) totals(ctx context.Context, items []orders.CartItem) (decimal.Decimal, []flow.LineItem, error) {
	sub := map[string]decimal.Decimal{}
	lines := make([]flow.LineItem, 0, len(items))
	for _, it := range items {
		line := it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		sub[it.Currency] = sub[it.Currency].Add(line)

		clp, err := s.toCLP(ctx, line, it.Currency)
		if err != nil {
			return decimal.Zero, nil, err
		}
		lines = append(lines, flow.LineItem{Name: it.Name, Quantity: it.Quantity, Amount: clp.Round(0).IntPart()})
	}

	total := sub[orders.CurrencyCLP]
	if usd, ok := sub[orders.CurrencyUSD]; ok {
		clp, err := s.toCLP(ctx, usd, orders.CurrencyUSD)
		if err != nil {
			return decimal.Zero, nil, err
		}
		total = total.Add(clp)
	}
	return total, lines, nil
}

func (s *Service) toCLP(ctx context.Context, amount decimal.Decimal, cur string) (decimal.Decimal, error) {
	if cur == orders.CurrencyCLP {
		return amount, nil
	}
	out, err := s.FX.Convert(ctx, amount, cur, orders.CurrencyCLP)
	if err != nil {
		return decimal.Zero, fmt.Errorf("convert %s to CLP: %w", cur, err)
	}
	return out, nil
}

func subject(items []orders.CartItem) string {
	if len(items) == 1 && strings.TrimSpace(items[0].Name) != "" {
		return items[0].Name
	}
	return fmt.Sprintf("Pedido Terrarios (%d productos)", len(items))
}
