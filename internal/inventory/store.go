package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("inventory entity not found")

const (
	DateAvailable = "available"
	DateSoldOut   = "sold_out"
)

const (
	kindTerrarium = "terrarium"
	kindWorkshop  = "workshop"
)

type Availability struct {
	Available bool
	Current   int
}

// Decrement describes what a decrease call did to a counter.
type Decrement struct {
	Requested int
	Deducted  int
	Remaining int
	// Clamped is set when nothing could be deducted (counter already at zero).
	Clamped bool
	// Duplicate is set when the movement ref was already applied.
	Duplicate bool
}

// Store owns terrarium stock and workshop spot counters.
type Store struct {
	DB  *pgxpool.Pool
	Log zerolog.Logger
}

func (s *Store) CheckTerrariumStock(ctx context.Context, id string, qty int) (Availability, error) {
	var (
		stock   int
		inStock bool
	)
	err := s.DB.QueryRow(ctx, `SELECT stock, in_stock FROM terrariums WHERE id=$1`, id).Scan(&stock, &inStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return Availability{}, fmt.Errorf("terrarium %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Availability{}, err
	}
	return Availability{Available: inStock && stock >= qty, Current: stock}, nil
}

// DecreaseTerrariumStock takes min(qty, stock) under a row lock. A non-empty
// ref makes the call idempotent: the same ref is applied at most once.
func (s *Store) DecreaseTerrariumStock(ctx context.Context, id string, qty int, ref string) (Decrement, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Decrement{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	d := Decrement{Requested: qty}
	var stock int
	if err := tx.QueryRow(ctx, `SELECT stock FROM terrariums WHERE id=$1 FOR UPDATE`, id).Scan(&stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return d, fmt.Errorf("terrarium %s: %w", id, ErrNotFound)
		}
		return d, err
	}

	d.Deducted, d.Remaining = Clamp(stock, qty)
	if ref != "" {
		fresh, err := claimMovement(ctx, tx, ref, kindTerrarium, id, qty, d.Deducted)
		if err != nil {
			return d, err
		}
		if !fresh {
			s.Log.Info().Str("terrarium", id).Str("ref", ref).Msg("stock movement already applied")
			return Decrement{Requested: qty, Remaining: stock, Duplicate: true}, nil
		}
	}
	if d.Deducted == 0 {
		s.Log.Warn().Str("terrarium", id).Int("requested", qty).Int("stock", stock).Msg("nothing to deduct, stock already at floor")
		d.Clamped = true
		return d, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `UPDATE terrariums SET stock=$2, in_stock=$3, updated_at=now() WHERE id=$1`,
		id, d.Remaining, d.Remaining > 0); err != nil {
		return d, err
	}
	if err := tx.Commit(ctx); err != nil {
		return d, err
	}
	s.Log.Info().Str("terrarium", id).Int("deducted", d.Deducted).Int("stock", d.Remaining).Msg("stock decreased")
	return d, nil
}

func (s *Store) CheckWorkshopSpots(ctx context.Context, id string, date time.Time, qty int) (Availability, error) {
	var (
		spots  int
		status string
	)
	err := s.DB.QueryRow(ctx, `
		SELECT spots_available, status FROM workshop_dates
		WHERE workshop_id=$1 AND starts_at=$2`, id, date.UTC()).Scan(&spots, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Availability{}, fmt.Errorf("workshop %s at %s: %w", id, date.UTC().Format(time.RFC3339), ErrNotFound)
	}
	if err != nil {
		return Availability{}, err
	}
	return Availability{Available: status == DateAvailable && spots >= qty, Current: spots}, nil
}

// DecreaseWorkshopSpots applies the same clamped decrement as
// DecreaseTerrariumStock to one date entry; the entry is sold out at zero.
func (s *Store) DecreaseWorkshopSpots(ctx context.Context, id string, date time.Time, qty int, ref string) (Decrement, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Decrement{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	d := Decrement{Requested: qty}
	var spots int
	err = tx.QueryRow(ctx, `
		SELECT spots_available FROM workshop_dates
		WHERE workshop_id=$1 AND starts_at=$2 FOR UPDATE`, id, date.UTC()).Scan(&spots)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, fmt.Errorf("workshop %s at %s: %w", id, date.UTC().Format(time.RFC3339), ErrNotFound)
	}
	if err != nil {
		return d, err
	}

	d.Deducted, d.Remaining = Clamp(spots, qty)
	if ref != "" {
		fresh, err := claimMovement(ctx, tx, ref, kindWorkshop, id, qty, d.Deducted)
		if err != nil {
			return d, err
		}
		if !fresh {
			s.Log.Info().Str("workshop", id).Str("ref", ref).Msg("spot movement already applied")
			return Decrement{Requested: qty, Remaining: spots, Duplicate: true}, nil
		}
	}
	if d.Deducted == 0 {
		s.Log.Warn().Str("workshop", id).Time("date", date).Int("requested", qty).Msg("no spots left to deduct")
		d.Clamped = true
		return d, tx.Commit(ctx)
	}

	status := DateAvailable
	if d.Remaining == 0 {
		status = DateSoldOut
	}
	if _, err := tx.Exec(ctx, `
		UPDATE workshop_dates SET spots_available=$3, status=$4, updated_at=now()
		WHERE workshop_id=$1 AND starts_at=$2`, id, date.UTC(), d.Remaining, status); err != nil {
		return d, err
	}
	if err := tx.Commit(ctx); err != nil {
		return d, err
	}
	s.Log.Info().Str("workshop", id).Time("date", date).Int("deducted", d.Deducted).Int("spots", d.Remaining).Msg("spots decreased")
	return d, nil
}

// GetTerrarium is used by operator tooling.
func (s *Store) GetTerrarium(ctx context.Context, id string) (name string, stock int, inStock bool, err error) {
	err = s.DB.QueryRow(ctx, `SELECT name, stock, in_stock FROM terrariums WHERE id=$1`, id).Scan(&name, &stock, &inStock)
	if errors.Is(err, pgx.ErrNoRows) {
		err = fmt.Errorf("terrarium %s: %w", id, ErrNotFound)
	}
	return
}

func claimMovement(ctx context.Context, tx pgx.Tx, ref, kind, entityID string, qty, deducted int) (bool, error) {
	ct, err := tx.Exec(ctx, `
		INSERT INTO inventory_movements(ref, kind, entity_id, qty, deducted)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (ref) DO NOTHING`, ref, kind, entityID, qty, deducted)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
