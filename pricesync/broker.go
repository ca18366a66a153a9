package pricesync

import (
	"sync"

	"cryptopatterns-api/util"
)

// Update is one display-ready price change for a symbol.
type Update struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	PriceChange float64 `json:"price_change"`
	PriceText   string  `json:"price_text"`
	ChangeText  string  `json:"change_text"`
	Direction   string  `json:"direction"`
}

// NewUpdate formats a cache entry for display.
func NewUpdate(symbol string, entry Entry) Update {
	direction := "up"
	if entry.PriceChange < 0 {
		direction = "down"
	}
	return Update{
		Symbol:      symbol,
		Price:       entry.Price,
		PriceChange: entry.PriceChange,
		PriceText:   util.FormatUSD(entry.Price),
		ChangeText:  util.FormatChange(entry.PriceChange),
		Direction:   direction,
	}
}

type subscriber struct {
	ch      chan Update
	symbols map[string]bool // empty means every symbol
}

func (s *subscriber) wants(symbol string) bool {
	return len(s.symbols) == 0 || s.symbols[symbol]
}

// Broker fans price updates out on a symbol-keyed channel. A display
// subscribes to the symbols it currently renders; a symbol may be bound to
// zero, one or many displays at once. Sends never block: a subscriber that
// cannot keep up misses updates instead of stalling the loop.
type Broker struct {
	mu   sync.RWMutex
	subs map[*subscriber]bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*subscriber]bool)}
}

// Subscribe registers interest in the given symbols, or in all symbols when
// none are named. The returned cancel func releases the subscription.
func (b *Broker) Subscribe(symbols ...string) (<-chan Update, func()) {

	sub := &subscriber{
		ch:      make(chan Update, 64),
		symbols: make(map[string]bool, len(symbols)),
	}
	for _, symbol := range symbols {
		if symbol != "" {
			sub.symbols[symbol] = true
		}
	}

	b.mu.Lock()
	b.subs[sub] = true
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.subs[sub] {
			delete(b.subs, sub)
			close(sub.ch)
		}
		b.mu.Unlock()
	}

	return sub.ch, cancel
}

// Publish delivers the update to every subscriber bound to its symbol.
func (b *Broker) Publish(u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.wants(u.Symbol) {
			continue
		}
		select {
		case sub.ch <- u:
		default:
		}
	}
}

// Symbols returns the distinct symbols subscribers have asked for. The sync
// loop polls these in addition to the aggregator's list, so a display that
// appeared since the last full refresh is picked up opportunistically.
func (b *Broker) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := map[string]bool{}
	var symbols []string
	for sub := range b.subs {
		for symbol := range sub.symbols {
			if !seen[symbol] {
				seen[symbol] = true
				symbols = append(symbols, symbol)
			}
		}
	}
	return symbols
}
