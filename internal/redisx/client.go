package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Ledger remembers which confirmation emails went out. Entries are shared
// by every API instance and expire after TTL.
type Ledger struct {
	RDB *redis.Client
	TTL time.Duration
}

func NewLedger(rdb *redis.Client) *Ledger {
	return &Ledger{RDB: rdb, TTL: TTLEmailSent}
}

// Claim marks key as sent. It returns false when another delivery already
// holds the key.
func (l *Ledger) Claim(ctx context.Context, key string) (bool, error) {
	return l.RDB.SetNX(ctx, fmt.Sprintf(KeyEmailSent, key), "1", l.TTL).Result()
}

// Release drops a claim so a later retry can send again.
func (l *Ledger) Release(ctx context.Context, key string) error {
	return l.RDB.Del(ctx, fmt.Sprintf(KeyEmailSent, key)).Err()
}

// StatusCache holds the serialized status view of an order for GET /orders/{id}.
type StatusCache struct {
	RDB *redis.Client
	TTL time.Duration
}

func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{RDB: rdb, TTL: TTLStatusCache}
}

// Get returns (nil, nil) on a cache miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) ([]byte, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

func (c *StatusCache) Set(ctx context.Context, orderID string, v []byte) error {
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), v, c.TTL).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
