package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

// ErrNoRate is returned when a source has no rate for the request.
var ErrNoRate = errors.New("no rate available")

// Source converts one unit of currency into quote at a given date.
type Source interface {
	Rate(ctx context.Context, currency, quote string, at time.Time) (decimal.Decimal, error)
}

// Static serves rates from an in-memory table of latest known prices keyed
// by quote then currency. Dates are ignored.
type Static struct {
	mu    sync.RWMutex
	table map[string]map[string]decimal.Decimal
}

// NewStatic creates a Static source from a quote → currency → price table.
func NewStatic(table map[string]map[string]decimal.Decimal) *Static {
	s := &Static{table: make(map[string]map[string]decimal.Decimal)}
	for quote, prices := range table {
		for currency, price := range prices {
			s.Set(currency, quote, price)
		}
	}
	return s
}

// Set records a price.
func (s *Static) Set(currency, quote string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quote, currency = strings.ToUpper(quote), strings.ToUpper(currency)
	if s.table[quote] == nil {
		s.table[quote] = make(map[string]decimal.Decimal)
	}
	s.table[quote][currency] = price
}

// Rate implements Source.
func (s *Static) Rate(_ context.Context, currency, quote string, _ time.Time) (decimal.Decimal, error) {
	currency, quote = strings.ToUpper(currency), strings.ToUpper(quote)
	if currency == quote {
		return decimal.NewFromInt(1), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if price, ok := s.table[quote][currency]; ok {
		return price, nil
	}
	if inverse, ok := s.table[currency][quote]; ok && !inverse.IsZero() {
		return decimal.NewFromInt(1).DivRound(inverse, 16), nil
	}
	return decimal.Zero, fmt.Errorf("%s/%s: %w", currency, quote, ErrNoRate)
}

// Cached is a read-through cache over another Source. Misses are cached
// too so an unknown pair is not re-queried for every candidate.
type Cached struct {
	src   Source
	cache *cache.Cache
}

type cachedRate struct {
	rate decimal.Decimal
	err  error
}

// NewCached wraps src with entries that expire after ttl.
func NewCached(src Source, ttl time.Duration) *Cached {
	return &Cached{src: src, cache: cache.New(ttl, 2*ttl)}
}

// Rate implements Source.
func (c *Cached) Rate(ctx context.Context, currency, quote string, at time.Time) (decimal.Decimal, error) {
	key := fmt.Sprintf("rate-%s-%s-%s", strings.ToUpper(currency), strings.ToUpper(quote), at.UTC().Format("2006-01-02"))
	if v, found := c.cache.Get(key); found {
		r := v.(cachedRate)
		return r.rate, r.err
	}

	rate, err := c.src.Rate(ctx, currency, quote, at)
	if err != nil && !errors.Is(err, ErrNoRate) {
		return decimal.Zero, err
	}
	c.cache.Set(key, cachedRate{rate: rate, err: err}, cache.DefaultExpiration)
	return rate, err
}

// Convert returns amount of currency expressed in quote.
func Convert(ctx context.Context, src Source, amount decimal.Decimal, currency, quote string, at time.Time) (decimal.Decimal, error) {
	rate, err := src.Rate(ctx, currency, quote, at)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}
