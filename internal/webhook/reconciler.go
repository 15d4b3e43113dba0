package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/selvaterra/checkout/internal/flow"
	"github.com/selvaterra/checkout/internal/inventory"
	kafkax "github.com/selvaterra/checkout/internal/kafka"
	"github.com/selvaterra/checkout/internal/notify"
	"github.com/selvaterra/checkout/internal/orders"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMissingReference = errors.New("webhook has neither token nor commerce order")
)

const (
	EffectCourseAccess   = "course_access"
	EffectTerrariumStock = "terrarium_stock"
	EffectWorkshopSpots  = "workshop_spots"
	EffectEmail          = "email"
)

type Gateway interface {
	GetStatus(ctx context.Context, token string) (*flow.PaymentStatus, error)
	GetStatusByCommerceID(ctx context.Context, merchantOrderID string) (*flow.PaymentStatus, error)
}

type OrderStore interface {
	GetByOrderID(ctx context.Context, orderID string) (*orders.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID string, status orders.PaymentStatus, paymentDate *time.Time, gatewayRef string) error
	CreateCourseAccess(ctx context.Context, userID, courseID, orderRef string) (bool, error)
}

type Inventory interface {
	DecreaseTerrariumStock(ctx context.Context, id string, qty int, ref string) (inventory.Decrement, error)
	DecreaseWorkshopSpots(ctx context.Context, id string, date time.Time, qty int, ref string) (inventory.Decrement, error)
}

type StatusCache interface {
	Invalidate(ctx context.Context, orderID string) error
}

// Notification is a parsed gateway callback. Fields holds every received
// field and is what the signature covers.
type Notification struct {
	Token         string
	CommerceOrder string
	Signature     string
	Fields        map[string]string
}

type Outcome struct {
	OrderID       string
	Status        orders.PaymentStatus
	OrderFound    bool
	StatusChanged bool
	EmailSent     bool
	Effects       []orders.EffectResult
	Message       string
}

// Failed lists the effects that did not complete.
func (o *Outcome) Failed() []orders.EffectResult {
	var out []orders.EffectResult
	for _, e := range o.Effects {
		if !e.OK {
			out = append(out, e)
		}
	}
	return out
}

type Reconciler struct {
	Gateway   Gateway
	Orders    OrderStore
	Inventory Inventory
	Mailer    notify.Sender
	Ledger    Ledger
	Events    kafkax.Publisher
	Cache     StatusCache
	SecretKey string
	Log       zerolog.Logger

	Now func() time.Time
}

// Reconcile converges an order with the gateway's view of its payment.
// An error means the delivery should be retried; side-effect failures
// never produce one.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (*Outcome, error) {
	if n.Signature != "" && !flow.Verify(signedParams(n.Fields), r.SecretKey, flow.ModeHMAC, n.Signature) {
		return nil, ErrInvalidSignature
	}
	if n.Token == "" && n.CommerceOrder == "" {
		return nil, ErrMissingReference
	}

	st, err := r.queryStatus(ctx, n)
	if err != nil {
		return nil, err
	}
	orderID := st.MerchantOrderID
	if orderID == "" {
		orderID = n.CommerceOrder
	}
	log := r.Log.With().Str("order_id", orderID).Str("status", st.Status.String()).Logger()
	out := &Outcome{OrderID: orderID, Status: st.Status}

	if st.Status != orders.StatusPaid {
		log.Info().Msg("payment not confirmed, nothing to do")
		out.Message = "payment not completed"
		return out, nil
	}

	order, err := r.Orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order == nil {
		log.Warn().Msg("paid notification for unknown order")
		out.Message = "order not found"
		return out, nil
	}
	out.OrderFound = true

	switch {
	case order.PaymentStatus == st.Status:
		log.Info().Msg("status already recorded")
	case orders.CanTransition(order.PaymentStatus, st.Status):
		paidAt := st.PaymentDate
		if paidAt == nil {
			now := r.now().UTC()
			paidAt = &now
		}
		if err := r.Orders.UpdatePaymentStatus(ctx, orderID, st.Status, paidAt, st.GatewayOrderRef); err != nil {
			return nil, fmt.Errorf("update order %s: %w", orderID, err)
		}
		order.PaymentStatus, order.PaymentDate = st.Status, paidAt
		out.StatusChanged = true
		r.invalidate(ctx, orderID)
		log.Info().Time("payment_date", *paidAt).Msg("order marked paid")
	default:
		log.Warn().Str("stored", order.PaymentStatus.String()).Msg("ignoring transition out of a final state")
		out.Message = "order already in final state " + order.PaymentStatus.String()
		return out, nil
	}

	out.Effects = r.fanOut(ctx, log, order)
	email := r.sendConfirmation(ctx, log, order)
	if email != nil {
		out.Effects = append(out.Effects, *email)
		out.EmailSent = email.OK
	}

	if failed := out.Failed(); len(failed) > 0 {
		log.Error().Interface("failed", failed).Int("effects", len(out.Effects)).Msg("some side effects failed")
	} else {
		log.Info().Int("effects", len(out.Effects)).Msg("side effects applied")
	}
	r.publishPaid(ctx, order, out)
	out.Message = "payment confirmed"
	return out, nil
}

func (r *Reconciler) queryStatus(ctx context.Context, n Notification) (*flow.PaymentStatus, error) {
	var (
		st  *flow.PaymentStatus
		err error
	)
	if n.CommerceOrder != "" {
		st, err = r.Gateway.GetStatusByCommerceID(ctx, n.CommerceOrder)
	} else {
		st, err = r.Gateway.GetStatus(ctx, n.Token)
	}
	if err != nil {
		return nil, fmt.Errorf("query payment status: %w", err)
	}
	return st, nil
}

// fanOut applies every per-item effect; a failure is recorded and the next one runs.
func (r *Reconciler) fanOut(ctx context.Context, log zerolog.Logger, o *orders.Order) []orders.EffectResult {
	var results []orders.EffectResult
	for i, it := range o.Items {
		ref := o.OrderID + ":" + strconv.Itoa(i)
		var res orders.EffectResult
		switch it.Type {
		case orders.TypeCourse:
			if o.UserID == "" {
				continue
			}
			res = orders.EffectResult{Effect: EffectCourseAccess, Target: it.ProductID}
			created, err := r.Orders.CreateCourseAccess(ctx, o.UserID, it.ProductID, o.OrderID)
			msg := "already granted"
			if created {
				msg = "granted"
			}
			res.OK, res.Detail = err == nil, detail(err, msg)
		case orders.TypeTerrarium:
			res = orders.EffectResult{Effect: EffectTerrariumStock, Target: it.ProductID}
			d, err := r.Inventory.DecreaseTerrariumStock(ctx, it.ProductID, it.Quantity, ref)
			res.OK, res.Detail = err == nil, detail(err, describe(d))
		case orders.TypeWorkshop:
			if it.SelectedDate == nil {
				continue
			}
			res = orders.EffectResult{Effect: EffectWorkshopSpots, Target: it.ProductID}
			d, err := r.Inventory.DecreaseWorkshopSpots(ctx, it.ProductID, *it.SelectedDate, it.Quantity, ref)
			res.OK, res.Detail = err == nil, detail(err, describe(d))
		default:
			continue
		}
		if !res.OK {
			log.Error().Str("effect", res.Effect).Str("target", res.Target).Str("detail", res.Detail).Msg("side effect failed")
		}
		results = append(results, res)
	}
	return results
}

func (r *Reconciler) sendConfirmation(ctx context.Context, log zerolog.Logger, o *orders.Order) *orders.EffectResult {
	if r.Mailer == nil {
		return nil
	}
	res := &orders.EffectResult{Effect: EffectEmail, Target: o.CustomerEmail}
	key := o.OrderID + ":" + o.PaymentStatus.String()

	claimed, err := r.Ledger.Claim(ctx, key)
	if err != nil {
		log.Error().Err(err).Msg("email ledger unavailable, confirmation not sent")
		res.Detail = err.Error()
		return res
	}
	if !claimed {
		log.Info().Msg("confirmation already sent")
		return nil
	}

	paidAt := r.now()
	if o.PaymentDate != nil {
		paidAt = *o.PaymentDate
	}
	if err := r.Mailer.Send(ctx, notify.ConfirmationFromOrder(o, paidAt)); err != nil {
		if rerr := r.Ledger.Release(ctx, key); rerr != nil {
			log.Warn().Err(rerr).Msg("release email claim")
		}
		log.Error().Err(err).Msg("confirmation email failed")
		res.Detail = err.Error()
		return res
	}
	res.OK, res.Detail = true, "sent"
	return res
}

func (r *Reconciler) publishPaid(ctx context.Context, o *orders.Order, out *Outcome) {
	if r.Events == nil {
		return
	}
	err := r.Events.PublishEvent(ctx, orders.TopicOrderPaid, orders.EventOrderPaid, o.OrderID, orders.OrderPaidPayload{
		OrderID:       o.OrderID,
		Total:         o.Total,
		Currency:      o.Currency,
		StatusChanged: out.StatusChanged,
		Effects:       out.Effects,
	})
	if err != nil {
		r.Log.Warn().Err(err).Str("order_id", o.OrderID).Msg("publish order paid")
	}
}

func (r *Reconciler) invalidate(ctx context.Context, orderID string) {
	if r.Cache == nil {
		return
	}
	if err := r.Cache.Invalidate(ctx, orderID); err != nil {
		r.Log.Warn().Err(err).Str("order_id", orderID).Msg("invalidate status cache")
	}
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// signedParams drops empty values; the gateway signs only fields it sent.
func signedParams(fields map[string]string) flow.Params {
	p := flow.Params{}
	for k, v := range fields {
		if k == flow.SignatureField || v == "" {
			continue
		}
		p[k] = v
	}
	return p
}

func describe(d inventory.Decrement) string {
	switch {
	case d.Duplicate:
		return "already applied"
	case d.Clamped:
		return "nothing left to deduct"
	}
	return fmt.Sprintf("deducted %d, remaining %d", d.Deducted, d.Remaining)
}

func detail(err error, ok string) string {
	if err != nil {
		return err.Error()
	}
	return ok
}
