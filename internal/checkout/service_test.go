package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/selvaterra/checkout/internal/flow"
	"github.com/selvaterra/checkout/internal/inventory"
	"github.com/selvaterra/checkout/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInventory struct {
	stock map[string]int
	spots map[string]int // key: id@RFC3339
	err   error
	calls int
}

func spotKey(id string, d time.Time) string { return id + "@" + d.UTC().Format(time.RFC3339) }

func (f *fakeInventory) CheckTerrariumStock(_ context.Context, id string, qty int) (inventory.Availability, error) {
	f.calls++
	if f.err != nil {
		return inventory.Availability{}, f.err
	}
	n, ok := f.stock[id]
	if !ok {
		return inventory.Availability{}, inventory.ErrNotFound
	}
	return inventory.Availability{Available: n >= qty, Current: n}, nil
}

func (f *fakeInventory) CheckWorkshopSpots(_ context.Context, id string, d time.Time, qty int) (inventory.Availability, error) {
	f.calls++
	n, ok := f.spots[spotKey(id, d)]
	if !ok {
		return inventory.Availability{}, inventory.ErrNotFound
	}
	return inventory.Availability{Available: n >= qty, Current: n}, nil
}

type fakeGateway struct {
	reqs []flow.CreateOrderRequest
	err  error
}

func (f *fakeGateway) CreateOrder(_ context.Context, req flow.CreateOrderRequest) (*flow.CreateOrderResult, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &flow.CreateOrderResult{Token: "tok-1", RedirectURL: "https://pay.test/app?token=tok-1", GatewayOrderRef: "8765"}, nil
}

type fakeOrders struct {
	drafts []orders.Draft
	err    error
}

func (f *fakeOrders) Create(_ context.Context, d orders.Draft) (*orders.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.drafts = append(f.drafts, d)
	return &orders.Order{OrderID: d.OrderID, PaymentStatus: orders.StatusPending}, nil
}

type fixedFX struct{ rate decimal.Decimal }

func (f fixedFX) Convert(_ context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	return amount.Mul(f.rate), nil
}

type event struct {
	topic, eventType, key string
	payload               any
}

type fakePublisher struct{ events []event }

func (f *fakePublisher) PublishEvent(_ context.Context, topic, eventType, key string, payload any) error {
	f.events = append(f.events, event{topic, eventType, key, payload})
	return nil
}

type fixture struct {
	svc    *Service
	inv    *fakeInventory
	gw     *fakeGateway
	store  *fakeOrders
	events *fakePublisher
}

func newFixture() *fixture {
	f := &fixture{
		inv:    &fakeInventory{stock: map[string]int{"t1": 5}, spots: map[string]int{}},
		gw:     &fakeGateway{},
		store:  &fakeOrders{},
		events: &fakePublisher{},
	}
	f.svc = &Service{
		Inventory: f.inv,
		Gateway:   f.gw,
		Orders:    f.store,
		FX:        fixedFX{rate: decimal.NewFromInt(950)},
		Events:    f.events,
		SiteURL:   "https://shop.test",
		Log:       zerolog.Nop(),
		NewID:     func() string { return "order-1" },
	}
	return f
}

func terrarium(id string, qty int, price int64) orders.CartItem {
	return orders.CartItem{
		ProductRef: orders.ProductRef{ID: id, Type: orders.TypeTerrarium},
		Name:       "Terrario " + id,
		Price:      decimal.NewFromInt(price),
		Currency:   "CLP",
		Quantity:   qty,
	}
}

func TestCheckoutHappyPath(t *testing.T) {
	f := newFixture()
	res, err := f.svc.Checkout(context.Background(), Request{
		Items: []orders.CartItem{terrarium("t1", 2, 45000)},
		Email: "ana@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/app?token=tok-1", res.PaymentURL)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, "8765", res.GatewayOrderRef)
	assert.Equal(t, "order-1", res.OrderID)
	assert.True(t, res.Persisted)

	require.Len(t, f.gw.reqs, 1)
	req := f.gw.reqs[0]
	assert.Equal(t, int64(90000), req.Amount)
	assert.Equal(t, "CLP", req.Currency)
	assert.Equal(t, "Terrario t1", req.Subject)
	assert.Equal(t, "order-1", req.MerchantOrderID)
	assert.Equal(t, "https://shop.test/api/payments/return?order=order-1", req.ReturnURL)
	assert.Equal(t, "https://shop.test/api/payments/webhook", req.ConfirmationURL)

	require.Len(t, f.store.drafts, 1)
	d := f.store.drafts[0]
	assert.Equal(t, "tok-1", d.GatewayToken)
	assert.Equal(t, int64(90000), d.Total)
	require.Len(t, d.Items, 1)
	assert.Equal(t, "45000", d.Items[0].UnitPrice.String())

	require.Len(t, f.events.events, 1)
	assert.Equal(t, orders.EventOrderPending, f.events.events[0].eventType)
}

func TestCheckoutMultiItemSubjectAndUSDConversion(t *testing.T) {
	f := newFixture()
	course := orders.CartItem{
		ProductRef: orders.ProductRef{ID: "c1", Type: orders.TypeCourse},
		Name:       "Curso",
		Price:      decimal.RequireFromString("19.5"),
		Currency:   "usd",
		Quantity:   1,
	}
	cart := []orders.CartItem{terrarium("t1", 1, 45000), course}
	_, err := f.svc.Checkout(context.Background(), Request{
		Items: cart,
		Email: "ana@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "usd", cart[1].Currency, "caller's cart is not rewritten")
	req := f.gw.reqs[0]
	// 45000 + 19.5*950
	assert.Equal(t, int64(63525), req.Amount)
	assert.Equal(t, "Pedido Terrarios (2 productos)", req.Subject)
	require.Len(t, req.LineItems, 2)
	assert.Equal(t, int64(18525), req.LineItems[1].Amount)
	assert.Equal(t, "USD", f.store.drafts[0].Items[1].Currency)
}

func TestCheckoutRoundsHalfUp(t *testing.T) {
	f := newFixture()
	item := terrarium("t1", 1, 0)
	item.Price = decimal.RequireFromString("1000.5")
	_, err := f.svc.Checkout(context.Background(), Request{Items: []orders.CartItem{item}, Email: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(1001), f.gw.reqs[0].Amount)
}

func TestCheckoutValidation(t *testing.T) {
	cases := map[string]Request{
		"empty cart":     {Email: "ana@example.com"},
		"bad email":      {Items: []orders.CartItem{terrarium("t1", 1, 100)}, Email: "not-an-email"},
		"named email":    {Items: []orders.CartItem{terrarium("t1", 1, 100)}, Email: "Ana <ana@example.com>"},
		"no tld":         {Items: []orders.CartItem{terrarium("t1", 1, 100)}, Email: "ana@localhost"},
		"zero quantity":  {Items: []orders.CartItem{terrarium("t1", 0, 100)}, Email: "ana@example.com"},
		"zero price":     {Items: []orders.CartItem{terrarium("t1", 1, 0)}, Email: "ana@example.com"},
		"unknown type":   {Items: []orders.CartItem{{ProductRef: orders.ProductRef{ID: "x", Type: "plant"}, Price: decimal.NewFromInt(1), Quantity: 1}}, Email: "ana@example.com"},
		"bad currency":   {Items: []orders.CartItem{{ProductRef: orders.ProductRef{ID: "t1", Type: orders.TypeTerrarium}, Price: decimal.NewFromInt(1), Quantity: 1, Currency: "EUR"}}, Email: "ana@example.com"},
		"over max":       {Items: []orders.CartItem{{ProductRef: orders.ProductRef{ID: "t1", Type: orders.TypeTerrarium}, Price: decimal.NewFromInt(1), Quantity: 3, MaxQuantity: 2}}, Email: "ana@example.com"},
		"missing itemid": {Items: []orders.CartItem{{ProductRef: orders.ProductRef{Type: orders.TypeTerrarium}, Price: decimal.NewFromInt(1), Quantity: 1}}, Email: "ana@example.com"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Checkout(context.Background(), req)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Empty(t, f.gw.reqs, "gateway must not be called")
			assert.Zero(t, f.inv.calls, "inventory must not be queried")
			assert.Empty(t, f.store.drafts)
		})
	}
}

func TestCheckoutOutOfStockHasNoSideEffects(t *testing.T) {
	f := newFixture()
	f.inv.stock["t1"] = 1
	_, err := f.svc.Checkout(context.Background(), Request{
		Items: []orders.CartItem{terrarium("t1", 2, 45000)},
		Email: "ana@example.com",
	})
	var ae *AvailabilityError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "t1", ae.ItemID)
	assert.Equal(t, "Terrario t1", ae.ItemName)
	assert.Equal(t, 1, ae.Current)
	assert.Empty(t, f.gw.reqs)
	assert.Empty(t, f.store.drafts)
	assert.Empty(t, f.events.events)
}

func TestCheckoutFirstUnavailableLineAborts(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Checkout(context.Background(), Request{
		Items: []orders.CartItem{terrarium("missing", 1, 100), terrarium("t1", 1, 100)},
		Email: "ana@example.com",
	})
	var ae *AvailabilityError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "missing", ae.ItemID)
	assert.Equal(t, 0, ae.Current)
	assert.Equal(t, 1, f.inv.calls)
}

func TestCheckoutWorkshopSpots(t *testing.T) {
	date := time.Date(2026, 12, 5, 15, 0, 0, 0, time.UTC)
	workshop := orders.CartItem{
		ProductRef:   orders.ProductRef{ID: "w1", Type: orders.TypeWorkshop},
		Name:         "Taller",
		Price:        decimal.NewFromInt(30000),
		Currency:     "CLP",
		Quantity:     3,
		SelectedDate: &date,
	}

	f := newFixture()
	f.inv.spots[spotKey("w1", date)] = 2
	_, err := f.svc.Checkout(context.Background(), Request{Items: []orders.CartItem{workshop}, Email: "ana@example.com"})
	var ae *AvailabilityError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 2, ae.Current)

	f = newFixture()
	f.inv.spots[spotKey("w1", date)] = 3
	_, err = f.svc.Checkout(context.Background(), Request{Items: []orders.CartItem{workshop}, Email: "ana@example.com"})
	require.NoError(t, err)
}

func TestCheckoutInventoryFailureIsInternal(t *testing.T) {
	f := newFixture()
	f.inv.err = errors.New("connection reset")
	_, err := f.svc.Checkout(context.Background(), Request{Items: []orders.CartItem{terrarium("t1", 1, 100)}, Email: "ana@example.com"})
	require.Error(t, err)
	var ae *AvailabilityError
	assert.False(t, errors.As(err, &ae))
	assert.Empty(t, f.gw.reqs)
}

func TestCheckoutGatewayFailureNothingPersisted(t *testing.T) {
	f := newFixture()
	f.gw.err = &flow.GatewayError{Op: "payment/create", Message: "invalid amount"}
	_, err := f.svc.Checkout(context.Background(), Request{Items: []orders.CartItem{terrarium("t1", 1, 100)}, Email: "ana@example.com"})
	var ge *flow.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "invalid amount", ge.Message)
	assert.Empty(t, f.store.drafts)
	assert.Empty(t, f.events.events)
}

func TestCheckoutPersistFailureStillRedirects(t *testing.T) {
	f := newFixture()
	f.store.err = errors.New("db down")
	res, err := f.svc.Checkout(context.Background(), Request{Items: []orders.CartItem{terrarium("t1", 2, 45000)}, Email: "ana@example.com"})
	require.NoError(t, err)
	assert.False(t, res.Persisted)
	assert.Equal(t, "https://pay.test/app?token=tok-1", res.PaymentURL)

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, orders.TopicOrderPersistFailed, ev.topic)
	p, ok := ev.payload.(orders.OrderPersistFailedPayload)
	require.True(t, ok)
	assert.Equal(t, "order-1", p.Draft.OrderID)
	assert.Equal(t, "tok-1", p.Draft.GatewayToken)
	assert.Contains(t, p.Reason, ErrPersistence.Error())
}
