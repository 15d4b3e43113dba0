package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	CLP = "CLP"
	USD = "USD"
)

type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

// RateClient converts between USD and CLP using a public exchange-rate API
// (frankfurter-compatible). The rate is cached for TTL; when the API is down
// the last known rate is used, then the configured fallback.
type RateClient struct {
	BaseURL  string
	HTTP     *http.Client
	TTL      time.Duration
	Fallback decimal.Decimal
	Log      zerolog.Logger

	group   singleflight.Group
	mu      sync.Mutex
	rate    decimal.Decimal
	fetched time.Time
	now     func() time.Time
}

func NewRateClient(baseURL string, fallback decimal.Decimal, ttl time.Duration, log zerolog.Logger) *RateClient {
	return &RateClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     &http.Client{Timeout: 5 * time.Second},
		TTL:      ttl,
		Fallback: fallback,
		Log:      log,
		now:      time.Now,
	}
}

func (c *RateClient) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, nil
	}
	rate, err := c.USDToCLP(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	switch {
	case from == USD && to == CLP:
		return amount.Mul(rate), nil
	case from == CLP && to == USD:
		return amount.DivRound(rate, 2), nil
	}
	return decimal.Zero, fmt.Errorf("unsupported conversion %s -> %s", from, to)
}

// USDToCLP returns how many pesos one dollar buys. Concurrent refreshes
// share one request; the lock is never held across it.
func (c *RateClient) USDToCLP(ctx context.Context) (decimal.Decimal, error) {
	c.mu.Lock()
	rate, fresh := c.rate, c.rate.IsPositive() && c.now().Sub(c.fetched) < c.TTL
	c.mu.Unlock()
	if fresh {
		return rate, nil
	}

	v, err, _ := c.group.Do("USD"+CLP, func() (any, error) {
		// shared by every waiter, so one caller's cancellation must not fail the rest
		r, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.rate, c.fetched = r, c.now()
		c.mu.Unlock()
		return r, nil
	})
	if err == nil {
		return v.(decimal.Decimal), nil
	}

	c.mu.Lock()
	stale := c.rate
	c.mu.Unlock()
	if stale.IsPositive() {
		c.Log.Warn().Err(err).Str("rate", stale.String()).Msg("exchange rate refresh failed, using stale rate")
		return stale, nil
	}
	if c.Fallback.IsPositive() {
		c.Log.Warn().Err(err).Str("rate", c.Fallback.String()).Msg("exchange rate unavailable, using fallback")
		return c.Fallback, nil
	}
	return decimal.Zero, fmt.Errorf("exchange rate: %w", err)
}

type latestResp struct {
	Rates map[string]decimal.Decimal `json:"rates"`
}

func (c *RateClient) fetch(ctx context.Context) (decimal.Decimal, error) {
	if c.BaseURL == "" {
		return decimal.Zero, fmt.Errorf("no exchange rate api configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/latest?base=USD&symbols=CLP", nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("exchange rate api: http %d", resp.StatusCode)
	}
	var out latestResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("decode rates: %w", err)
	}
	rate, ok := out.Rates[CLP]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("exchange rate api: no CLP rate")
	}
	return rate, nil
}
