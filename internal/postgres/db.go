package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate creates the tables used by the order and inventory stores.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS terrariums (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	stock       INT  NOT NULL DEFAULT 0 CHECK (stock >= 0),
	in_stock    BOOLEAN NOT NULL DEFAULT FALSE,
	price       NUMERIC(12,2) NOT NULL DEFAULT 0,
	currency    TEXT NOT NULL DEFAULT 'CLP',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workshops (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workshop_dates (
	workshop_id      TEXT NOT NULL REFERENCES workshops(id),
	starts_at        TIMESTAMPTZ NOT NULL,
	spots_available  INT NOT NULL DEFAULT 0 CHECK (spots_available >= 0),
	status           TEXT NOT NULL DEFAULT 'available',
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (workshop_id, starts_at)
);

CREATE TABLE IF NOT EXISTS inventory_movements (
	ref         TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	qty         INT  NOT NULL,
	deducted    INT  NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
	order_id           TEXT PRIMARY KEY,
	gateway_order_ref  TEXT,
	gateway_token      TEXT,
	customer_email     TEXT NOT NULL,
	customer_name      TEXT,
	user_id            TEXT,
	items              JSONB NOT NULL,
	total              BIGINT NOT NULL,
	currency           TEXT NOT NULL,
	payment_status     INT NOT NULL DEFAULT 1,
	payment_date       TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_orders_email ON orders (lower(customer_email));
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id);

CREATE TABLE IF NOT EXISTS course_access (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	course_id   TEXT NOT NULL,
	order_ref   TEXT NOT NULL,
	progress    JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, course_id)
);
`
