package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo persists orders. It performs targeted writes only; status
// monotonicity and deduplication are the reconciler's job.
type Repo struct{ DB *pgxpool.Pool }

var ErrAlreadyExists = errors.New("order already exists")

const orderColumns = `order_id, COALESCE(gateway_order_ref,''), COALESCE(gateway_token,''), customer_email,
	COALESCE(customer_name,''), COALESCE(user_id,''), items, total, currency, payment_status, payment_date,
	created_at, updated_at`

func (r *Repo) Create(ctx context.Context, d Draft) (*Order, error) {
	items, err := json.Marshal(d.Items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	now := time.Now().UTC()
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO orders(order_id, gateway_order_ref, gateway_token, customer_email, customer_name, user_id,
		                   items, total, currency, payment_status, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), $4, NULLIF($5,''), NULLIF($6,''), $7, $8, $9, $10, $11, $11)
		ON CONFLICT (order_id) DO NOTHING`,
		d.OrderID, d.GatewayOrderRef, d.GatewayToken, d.CustomerEmail, d.CustomerName, d.UserID,
		items, d.Total, d.Currency, int(StatusPending), now)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		return nil, ErrAlreadyExists
	}
	return &Order{
		OrderID:         d.OrderID,
		GatewayOrderRef: d.GatewayOrderRef,
		GatewayToken:    d.GatewayToken,
		CustomerEmail:   d.CustomerEmail,
		CustomerName:    d.CustomerName,
		UserID:          d.UserID,
		Items:           d.Items,
		Total:           d.Total,
		Currency:        d.Currency,
		PaymentStatus:   StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// GetByOrderID returns (nil, nil) when the order does not exist.
func (r *Repo) GetByOrderID(ctx context.Context, orderID string) (*Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id=$1`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func (r *Repo) UpdatePaymentStatus(ctx context.Context, orderID string, status PaymentStatus, paymentDate *time.Time, gatewayRef string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2,
		    payment_date = COALESCE($3, payment_date),
		    gateway_order_ref = COALESCE(NULLIF($4,''), gateway_order_ref),
		    updated_at = now()
		WHERE order_id = $1`, orderID, int(status), paymentDate, gatewayRef)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("order %s: %w", orderID, pgx.ErrNoRows)
	}
	return nil
}

// LinkUser backfills the user of a guest order. Orders already linked are left alone.
func (r *Repo) LinkUser(ctx context.Context, orderID, userID string) error {
	_, err := r.DB.Exec(ctx, `UPDATE orders SET user_id=$2, updated_at=now() WHERE order_id=$1 AND user_id IS NULL`, orderID, userID)
	return err
}

func (r *Repo) GetOrdersByUserID(ctx context.Context, userID string) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

// GetOrdersByEmail matches case-insensitively. Unless includeLinked is set,
// orders already attached to a user are skipped.
func (r *Repo) GetOrdersByEmail(ctx context.Context, email string, includeLinked bool) ([]Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE lower(customer_email)=$1`
	if !includeLinked {
		q += ` AND user_id IS NULL`
	}
	return r.list(ctx, q+` ORDER BY created_at DESC`, strings.ToLower(strings.TrimSpace(email)))
}

func (r *Repo) list(ctx context.Context, q string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o      Order
		items  []byte
		status int
	)
	err := row.Scan(&o.OrderID, &o.GatewayOrderRef, &o.GatewayToken, &o.CustomerEmail, &o.CustomerName,
		&o.UserID, &items, &o.Total, &o.Currency, &status, &o.PaymentDate, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of %s: %w", o.OrderID, err)
	}
	o.PaymentStatus = ParsePaymentStatus(status)
	return &o, nil
}
