package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/selvaterra/checkout/internal/flow"
	"github.com/selvaterra/checkout/internal/inventory"
	"github.com/selvaterra/checkout/internal/notify"
	"github.com/selvaterra/checkout/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "secret-key"

type fakeGateway struct {
	status  orders.PaymentStatus
	date    *time.Time
	err     error
	byToken int
	byID    int
}

func (f *fakeGateway) result(id string) (*flow.PaymentStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &flow.PaymentStatus{Status: f.status, MerchantOrderID: id, GatewayOrderRef: "8765", PaymentDate: f.date}, nil
}

func (f *fakeGateway) GetStatus(_ context.Context, _ string) (*flow.PaymentStatus, error) {
	f.byToken++
	return f.result("order-1")
}

func (f *fakeGateway) GetStatusByCommerceID(_ context.Context, id string) (*flow.PaymentStatus, error) {
	f.byID++
	return f.result(id)
}

type fakeOrders struct {
	orders    map[string]*orders.Order
	updates   int
	updateErr error
	access    map[string]bool
	accessErr error
}

func (f *fakeOrders) GetByOrderID(_ context.Context, id string) (*orders.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) UpdatePaymentStatus(_ context.Context, id string, st orders.PaymentStatus, date *time.Time, ref string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates++
	f.orders[id].PaymentStatus = st
	f.orders[id].PaymentDate = date
	f.orders[id].GatewayOrderRef = ref
	return nil
}

func (f *fakeOrders) CreateCourseAccess(_ context.Context, userID, courseID, _ string) (bool, error) {
	if f.accessErr != nil {
		return false, f.accessErr
	}
	k := userID + "/" + courseID
	if f.access[k] {
		return false, nil
	}
	f.access[k] = true
	return true, nil
}

// fakeInventory clamps and remembers refs like the Postgres store.
type fakeInventory struct {
	stock    map[string]int
	spots    map[string]int
	refs     map[string]bool
	stockErr error
}

func (f *fakeInventory) apply(counter map[string]int, key string, qty int, ref string) inventory.Decrement {
	if f.refs[ref] {
		return inventory.Decrement{Requested: qty, Remaining: counter[key], Duplicate: true}
	}
	f.refs[ref] = true
	d := inventory.Decrement{Requested: qty}
	d.Deducted, d.Remaining = inventory.Clamp(counter[key], qty)
	d.Clamped = d.Deducted == 0
	counter[key] = d.Remaining
	return d
}

func (f *fakeInventory) DecreaseTerrariumStock(_ context.Context, id string, qty int, ref string) (inventory.Decrement, error) {
	if f.stockErr != nil {
		return inventory.Decrement{}, f.stockErr
	}
	return f.apply(f.stock, id, qty, ref), nil
}

func (f *fakeInventory) DecreaseWorkshopSpots(_ context.Context, id string, d time.Time, qty int, ref string) (inventory.Decrement, error) {
	return f.apply(f.spots, id+"@"+d.UTC().Format(time.RFC3339), qty, ref), nil
}

type fakeMailer struct {
	sent []notify.OrderConfirmation
	err  error
}

func (f *fakeMailer) Send(_ context.Context, c notify.OrderConfirmation) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, c)
	return nil
}

type fakePublisher struct{ types []string }

func (f *fakePublisher) PublishEvent(_ context.Context, _, eventType, _ string, _ any) error {
	f.types = append(f.types, eventType)
	return nil
}

type fakeCache struct{ invalidated []string }

func (f *fakeCache) Invalidate(_ context.Context, id string) error {
	f.invalidated = append(f.invalidated, id)
	return nil
}

var workshopDate = time.Date(2026, 12, 5, 15, 0, 0, 0, time.UTC)

type fixture struct {
	r      *Reconciler
	gw     *fakeGateway
	store  *fakeOrders
	inv    *fakeInventory
	mail   *fakeMailer
	events *fakePublisher
	cache  *fakeCache
}

func newFixture() *fixture {
	f := &fixture{
		gw: &fakeGateway{status: orders.StatusPaid},
		store: &fakeOrders{
			orders: map[string]*orders.Order{
				"order-1": {
					OrderID:       "order-1",
					CustomerEmail: "ana@example.com",
					UserID:        "user-1",
					Items: []orders.ItemSnapshot{
						{ProductID: "t1", Type: orders.TypeTerrarium, Name: "Terrario", UnitPrice: decimal.NewFromInt(45000), Currency: "CLP", Quantity: 2},
						{ProductID: "c1", Type: orders.TypeCourse, Name: "Curso", UnitPrice: decimal.NewFromInt(20000), Currency: "CLP", Quantity: 1},
						{ProductID: "w1", Type: orders.TypeWorkshop, Name: "Taller", UnitPrice: decimal.NewFromInt(30000), Currency: "CLP", Quantity: 1, SelectedDate: &workshopDate},
					},
					Total:         140000,
					Currency:      "CLP",
					PaymentStatus: orders.StatusPending,
				},
			},
			access: map[string]bool{},
		},
		inv: &fakeInventory{
			stock: map[string]int{"t1": 5},
			spots: map[string]int{"w1@" + workshopDate.Format(time.RFC3339): 4},
			refs:  map[string]bool{},
		},
		mail:   &fakeMailer{},
		events: &fakePublisher{},
		cache:  &fakeCache{},
	}
	f.r = &Reconciler{
		Gateway:   f.gw,
		Orders:    f.store,
		Inventory: f.inv,
		Mailer:    f.mail,
		Ledger:    NewMemoryLedger(128, 24*time.Hour),
		Events:    f.events,
		Cache:     f.cache,
		SecretKey: secret,
		Log:       zerolog.Nop(),
	}
	return f
}

func paid() Notification { return Notification{CommerceOrder: "order-1"} }

func TestReconcilePaidAppliesEverything(t *testing.T) {
	f := newFixture()
	out, err := f.r.Reconcile(context.Background(), paid())
	require.NoError(t, err)

	assert.True(t, out.OrderFound)
	assert.True(t, out.StatusChanged)
	assert.True(t, out.EmailSent)
	assert.Empty(t, out.Failed())
	assert.Len(t, out.Effects, 4)

	o := f.store.orders["order-1"]
	assert.Equal(t, orders.StatusPaid, o.PaymentStatus)
	require.NotNil(t, o.PaymentDate)
	assert.Equal(t, "8765", o.GatewayOrderRef)

	assert.Equal(t, 3, f.inv.stock["t1"])
	assert.Equal(t, 3, f.inv.spots["w1@"+workshopDate.Format(time.RFC3339)])
	assert.True(t, f.store.access["user-1/c1"])
	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, "ana@example.com", f.mail.sent[0].CustomerEmail)
	assert.Equal(t, []string{"order-1"}, f.cache.invalidated)
	assert.Equal(t, []string{orders.EventOrderPaid}, f.events.types)
	assert.Equal(t, 1, f.gw.byID)
}

func TestReconcileRedundantDeliveryIsNoOp(t *testing.T) {
	f := newFixture()
	_, err := f.r.Reconcile(context.Background(), paid())
	require.NoError(t, err)
	firstDate := *f.store.orders["order-1"].PaymentDate

	out, err := f.r.Reconcile(context.Background(), paid())
	require.NoError(t, err)
	assert.False(t, out.StatusChanged)
	assert.False(t, out.EmailSent)
	assert.Equal(t, 1, f.store.updates, "no second status write")
	assert.Equal(t, firstDate, *f.store.orders["order-1"].PaymentDate)
	assert.Len(t, f.mail.sent, 1, "exactly one email")
	assert.Equal(t, 3, f.inv.stock["t1"], "stock decremented once")
	for _, e := range out.Effects {
		if e.Effect == EffectTerrariumStock {
			assert.Equal(t, "already applied", e.Detail)
		}
	}
}

func TestReconcileNonPaidHasNoEffects(t *testing.T) {
	for _, st := range []orders.PaymentStatus{orders.StatusPending, orders.StatusRejected, orders.StatusVoided, orders.StatusUnknown} {
		t.Run(st.String(), func(t *testing.T) {
			f := newFixture()
			f.gw.status = st
			out, err := f.r.Reconcile(context.Background(), paid())
			require.NoError(t, err)
			assert.Equal(t, "payment not completed", out.Message)
			assert.Zero(t, f.store.updates)
			assert.Equal(t, 5, f.inv.stock["t1"])
			assert.Empty(t, f.store.access)
			assert.Empty(t, f.mail.sent)
			assert.Empty(t, f.events.types)
		})
	}
}

func TestReconcileSignature(t *testing.T) {
	fields := map[string]string{"token": "tok-1", "commerceOrder": "order-1", "empty": ""}
	sig := flow.Sign(flow.Params{"token": "tok-1", "commerceOrder": "order-1"}, secret, flow.ModeHMAC)

	t.Run("valid", func(t *testing.T) {
		f := newFixture()
		_, err := f.r.Reconcile(context.Background(), Notification{Token: "tok-1", CommerceOrder: "order-1", Signature: sig, Fields: fields})
		require.NoError(t, err)
	})

	t.Run("invalid", func(t *testing.T) {
		f := newFixture()
		_, err := f.r.Reconcile(context.Background(), Notification{Token: "tok-1", CommerceOrder: "order-1", Signature: "deadbeef", Fields: fields})
		require.ErrorIs(t, err, ErrInvalidSignature)
		assert.Zero(t, f.gw.byID+f.gw.byToken, "gateway must not be queried")
	})

	t.Run("absent is tolerated", func(t *testing.T) {
		f := newFixture()
		_, err := f.r.Reconcile(context.Background(), Notification{Token: "tok-1", Fields: map[string]string{"token": "tok-1"}})
		require.NoError(t, err)
		assert.Equal(t, 1, f.gw.byToken)
	})
}

func TestReconcileMissingReference(t *testing.T) {
	f := newFixture()
	_, err := f.r.Reconcile(context.Background(), Notification{})
	assert.ErrorIs(t, err, ErrMissingReference)
}

func TestReconcileGatewayFailureIsRetryable(t *testing.T) {
	f := newFixture()
	f.gw.err = &flow.GatewayError{Op: "payment/getStatusByCommerceId", Message: "timeout"}
	_, err := f.r.Reconcile(context.Background(), paid())
	var ge *flow.GatewayError
	require.ErrorAs(t, err, &ge)
}

func TestReconcileUnknownOrderAcks(t *testing.T) {
	f := newFixture()
	out, err := f.r.Reconcile(context.Background(), Notification{CommerceOrder: "nope"})
	require.NoError(t, err)
	assert.False(t, out.OrderFound)
	assert.Empty(t, f.mail.sent)
}

func TestReconcileStatusWriteFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.store.updateErr = errors.New("db down")
	_, err := f.r.Reconcile(context.Background(), paid())
	require.Error(t, err)
	assert.Empty(t, f.mail.sent)
	assert.Equal(t, 5, f.inv.stock["t1"])
}

func TestReconcileSideEffectFailuresAreIsolated(t *testing.T) {
	f := newFixture()
	f.inv.stockErr = errors.New("lock timeout")
	f.store.accessErr = errors.New("constraint")
	out, err := f.r.Reconcile(context.Background(), paid())
	require.NoError(t, err)

	failed := out.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, EffectTerrariumStock, failed[0].Effect)
	assert.Equal(t, EffectCourseAccess, failed[1].Effect)
	assert.Equal(t, 3, f.inv.spots["w1@"+workshopDate.Format(time.RFC3339)], "workshop still decremented")
	assert.Len(t, f.mail.sent, 1, "email still sent")
}

func TestReconcileEmailFailureReleasesClaim(t *testing.T) {
	f := newFixture()
	f.mail.err = errors.New("provider down")
	out, err := f.r.Reconcile(context.Background(), paid())
	require.NoError(t, err)
	assert.False(t, out.EmailSent)

	f.mail.err = nil
	out, err = f.r.Reconcile(context.Background(), paid())
	require.NoError(t, err)
	assert.True(t, out.EmailSent)
	assert.Len(t, f.mail.sent, 1)
}

func TestReconcileGuestOrderSkipsCourseAccess(t *testing.T) {
	f := newFixture()
	f.store.orders["order-1"].UserID = ""
	out, err := f.r.Reconcile(context.Background(), paid())
	require.NoError(t, err)
	assert.Empty(t, f.store.access)
	for _, e := range out.Effects {
		assert.NotEqual(t, EffectCourseAccess, e.Effect)
	}
}

func TestReconcileKeepsFinalState(t *testing.T) {
	f := newFixture()
	f.store.orders["order-1"].PaymentStatus = orders.StatusVoided
	out, err := f.r.Reconcile(context.Background(), paid())
	require.NoError(t, err)
	assert.False(t, out.StatusChanged)
	assert.Equal(t, orders.StatusVoided, f.store.orders["order-1"].PaymentStatus)
	assert.Zero(t, f.store.updates)
	assert.Empty(t, f.mail.sent)
}

func TestReconcileUsesGatewayPaymentDate(t *testing.T) {
	f := newFixture()
	d := time.Date(2026, 3, 1, 13, 15, 0, 0, time.UTC)
	f.gw.date = &d
	_, err := f.r.Reconcile(context.Background(), paid())
	require.NoError(t, err)
	assert.Equal(t, d, *f.store.orders["order-1"].PaymentDate)
}

func TestMemoryLedger(t *testing.T) {
	l := NewMemoryLedger(8, time.Hour)
	ctx := context.Background()
	ok, _ := l.Claim(ctx, "a")
	assert.True(t, ok)
	ok, _ = l.Claim(ctx, "a")
	assert.False(t, ok)
	require.NoError(t, l.Release(ctx, "a"))
	ok, _ = l.Claim(ctx, "a")
	assert.True(t, ok)
}
