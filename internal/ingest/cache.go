package ingest

import (
	"sync"

	"github.com/naseerahmed599/enprom-reconciler/internal/fx"
)

// DocCache is a concurrency-safe string cache keyed by document id.
// Entries are written once per key during a run; every producer computes the
// same value for the same key, so last-writer-wins is safe.
type DocCache struct {
	mu      sync.RWMutex
	entries map[int]string
}

// NewDocCache creates an empty cache
func NewDocCache() *DocCache {
	return &DocCache{entries: make(map[int]string)}
}

// Get returns the cached value for the document id
func (c *DocCache) Get(documentID int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.entries[documentID]
	return value, ok
}

// Set stores a value for the document id
func (c *DocCache) Set(documentID int, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[documentID] = value
}

// Len returns the number of cached entries
func (c *DocCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops all entries
func (c *DocCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int]string)
}

// RunContext carries the process-wide caches through a reconciliation run.
// It is owned by the embedder and passed in explicitly; caches are purely
// optimizations and never affect correctness.
type RunContext struct {
	// Currency caches currency codes hydrated via document detail lookups
	Currency *DocCache
	// InvoiceNumber caches invoice numbers hydrated via detail lookups.
	// Kept separate from Currency: one document may have a known currency
	// but an unknown invoice number, or vice versa.
	InvoiceNumber *DocCache
	// FX memoizes exchange-rate lookups
	FX *fx.Provider
}

// NewRunContext creates a RunContext with empty caches
func NewRunContext(rateSource fx.RateSource) *RunContext {
	return &RunContext{
		Currency:      NewDocCache(),
		InvoiceNumber: NewDocCache(),
		FX:            fx.NewProvider(rateSource),
	}
}

// ClearCaches empties all three caches
func (rc *RunContext) ClearCaches() {
	rc.Currency.Clear()
	rc.InvoiceNumber.Clear()
	if rc.FX != nil {
		rc.FX.ClearCache()
	}
}
