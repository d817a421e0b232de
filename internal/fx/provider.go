// Package fx resolves currency-to-EUR exchange rates for invoice dates.
//
// A Provider memoizes lookups against an injected RateSource. Rates follow
// the convention amount_in_EUR = amount_in_foreign / rate. EUR always
// resolves to 1; for other currencies the source is consulted, falling back
// to the most recent known date at or before the requested one.
package fx

import (
	"sync"
	"time"

	"github.com/naseerahmed599/enprom-reconciler/internal/models"
	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"

	"github.com/shopspring/decimal"
)

// RateSource supplies raw exchange rates, e.g. from a central-bank table.
// Implementations are responsible for their own date fallback behavior.
type RateSource interface {
	// Rate returns the currency-to-EUR rate effective on the given day.
	// The second return value is false when no rate is obtainable.
	Rate(currency string, date time.Time) (decimal.Decimal, bool)
}

// Provider memoizes rate lookups per (currency, day)
type Provider struct {
	source RateSource

	mu    sync.RWMutex
	cache map[string]decimal.Decimal
}

// NewProvider creates a Provider backed by the given source.
// A nil source means only EUR can be resolved.
func NewProvider(source RateSource) *Provider {
	return &Provider{
		source: source,
		cache:  make(map[string]decimal.Decimal),
	}
}

// GetRate returns the positive rate for converting the currency into EUR on
// the given day. EUR returns 1 without consulting the source. Deterministic
// per (currency, day); results are cached for the lifetime of the provider.
func (p *Provider) GetRate(currency string, date time.Time) (decimal.Decimal, error) {
	currency = models.NormalizeCurrency(currency)
	if currency == "EUR" {
		return decimal.NewFromInt(1), nil
	}

	key := currency + "|" + date.Format("2006-01-02")

	p.mu.RLock()
	if rate, ok := p.cache[key]; ok {
		p.mu.RUnlock()
		return rate, nil
	}
	p.mu.RUnlock()

	if p.source == nil {
		return decimal.Zero, errors.FxError(currency, date.Format("2006-01-02"), nil)
	}

	rate, ok := p.source.Rate(currency, date)
	if !ok || !rate.IsPositive() {
		return decimal.Zero, errors.FxError(currency, date.Format("2006-01-02"), nil)
	}

	p.mu.Lock()
	p.cache[key] = rate
	p.mu.Unlock()

	return rate, nil
}

// ClearCache drops all memoized rates
func (p *Provider) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]decimal.Decimal)
}

// CacheSize returns the number of memoized entries, for stats reporting
func (p *Provider) CacheSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}
