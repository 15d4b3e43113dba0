package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Ledger records which confirmation emails were already sent.
type Ledger interface {
	// Claim returns true when the caller owns key and may send.
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryLedger is a process-local Ledger. It is used when Redis is not
// configured and does not survive restarts.
type MemoryLedger struct {
	mu   sync.Mutex
	sent *expirable.LRU[string, struct{}]
}

func NewMemoryLedger(size int, ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{sent: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (l *MemoryLedger) Claim(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sent.Get(key); ok {
		return false, nil
	}
	l.sent.Add(key, struct{}{})
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.sent.Remove(key)
	return nil
}
