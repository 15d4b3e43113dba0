package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/selvaterra/checkout/internal/orders"
)

type OrderStore interface {
	GetOrdersByEmail(ctx context.Context, email string, includeLinked bool) ([]orders.Order, error)
	LinkUser(ctx context.Context, orderID, userID string) error
	CreateCourseAccess(ctx context.Context, userID, courseID, orderRef string) (bool, error)
}

type Summary struct {
	Linked  int
	Granted int
	Failed  []string
}

// Linker attaches guest orders to a newly registered account.
type Linker struct {
	Orders OrderStore
	Log    zerolog.Logger
}

// ErrIncomplete is returned when some orders could not be linked. Those
// orders stay unlinked so a later run picks them up again.
var ErrIncomplete = errors.New("guest orders partially linked")

// LinkGuestOrders links every unlinked order placed with email to userID.
// Course access for paid orders is granted first; an order is only linked
// once all its grants succeeded. A failing order does not stop the others.
func (l *Linker) LinkGuestOrders(ctx context.Context, userID, email string) (Summary, error) {
	var sum Summary
	userID, email = strings.TrimSpace(userID), strings.TrimSpace(email)
	if userID == "" || email == "" {
		return sum, fmt.Errorf("user id and email are required")
	}

	list, err := l.Orders.GetOrdersByEmail(ctx, email, false)
	if err != nil {
		return sum, fmt.Errorf("orders of %s: %w", email, err)
	}
	for _, o := range list {
		log := l.Log.With().Str("order_id", o.OrderID).Str("user_id", userID).Logger()
		granted, err := l.grant(ctx, userID, o)
		sum.Granted += granted
		if err != nil {
			log.Error().Err(err).Msg("grant course access, order left unlinked")
			sum.Failed = append(sum.Failed, o.OrderID)
			continue
		}
		if err := l.Orders.LinkUser(ctx, o.OrderID, userID); err != nil {
			log.Error().Err(err).Msg("link order")
			sum.Failed = append(sum.Failed, o.OrderID)
			continue
		}
		sum.Linked++
	}
	l.Log.Info().Str("user_id", userID).Int("linked", sum.Linked).Int("granted", sum.Granted).Int("failed", len(sum.Failed)).Msg("guest orders linked")
	if len(sum.Failed) > 0 {
		return sum, fmt.Errorf("%w: %d of %d failed", ErrIncomplete, len(sum.Failed), len(list))
	}
	return sum, nil
}

// grant creates course access for every course in a paid order. Existing
// grants count as done.
func (l *Linker) grant(ctx context.Context, userID string, o orders.Order) (int, error) {
	if o.PaymentStatus != orders.StatusPaid {
		return 0, nil
	}
	n := 0
	for _, it := range o.Items {
		if it.Type != orders.TypeCourse {
			continue
		}
		created, err := l.Orders.CreateCourseAccess(ctx, userID, it.ProductID, o.OrderID)
		if err != nil {
			return n, fmt.Errorf("course %s: %w", it.ProductID, err)
		}
		if created {
			n++
		}
	}
	return n, nil
}
