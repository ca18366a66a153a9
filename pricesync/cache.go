// Package pricesync keeps on-screen price figures fresh at a higher cadence
// than the full pattern refresh, publishing symbol-keyed updates to
// subscribed displays instead of re-rendering pattern records.
package pricesync

import (
	"math"
	"sync"

	"cryptopatterns-api/feed"
)

// Epsilon is the change threshold below which an update is treated as
// floating-point noise and suppressed.
const Epsilon = 1e-6

// Entry is the last-known good value for one symbol.
type Entry struct {
	Price       float64 `json:"price"`
	PriceChange float64 `json:"price_change"`
}

// Cache is the symbol-keyed quote cache shared by the sync loop and the
// aggregator's refresh output. Writes are last-write-wins per symbol; each
// entry is replaced whole, never partially.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

func (c *Cache) Get(symbol string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[symbol]
	return entry, ok
}

// Apply folds one fetched quote into the cache and reports whether the
// symbol's entry changed beyond Epsilon. A quote with no usable price never
// disturbs a known-good entry; a quote missing only the 24h change keeps
// the cached change.
func (c *Cache) Apply(q feed.Quote) (Entry, bool) {

	c.mu.Lock()
	defer c.mu.Unlock()

	old, known := c.entries[q.Symbol]
	if !q.Usable() {
		return old, false
	}

	entry := Entry{Price: *q.Price, PriceChange: old.PriceChange}
	if q.PriceChange != nil {
		entry.PriceChange = *q.PriceChange
	}

	dirty := !known ||
		math.Abs(entry.Price-old.Price) > Epsilon ||
		math.Abs(entry.PriceChange-old.PriceChange) > Epsilon
	if dirty {
		c.entries[q.Symbol] = entry
	}

	return entry, dirty
}

// Reset reseeds the cache, dropping symbols that are no longer displayed.
// Called when the aggregator publishes a new merged list.
func (c *Cache) Reset(entries map[string]Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry, len(entries))
	for symbol, entry := range entries {
		c.entries[symbol] = entry
	}
}
