package pricesync

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"cryptopatterns-api/feed"
)

// DefaultTickInterval is the period of the high-frequency price poll.
const DefaultTickInterval = 5 * time.Second

// SymbolSource reports the symbols currently on display.
type SymbolSource interface {
	Symbols() []string
}

// Loop re-polls only the price feed on a short interval and publishes dirty
// symbols to the broker, so prices tick in near real time without reloading
// pattern content.
type Loop struct {
	feed     feed.Client
	cache    *Cache
	broker   *Broker
	sources  []SymbolSource
	interval time.Duration
	onUpdate func(time.Time)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop wires a sync loop. onUpdate fires at most once per tick, only
// when at least one symbol changed; it backs the "last updated" indicator.
func NewLoop(client feed.Client, cache *Cache, broker *Broker, interval time.Duration, onUpdate func(time.Time), sources ...SymbolSource) *Loop {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Loop{
		feed:     client,
		cache:    cache,
		broker:   broker,
		sources:  sources,
		interval: interval,
		onUpdate: onUpdate,
	}
}

// Start begins ticking until the context is canceled or Stop is called.
func (l *Loop) Start(ctx context.Context) {

	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (l *Loop) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}

// tick polls the feed for every displayed symbol and publishes what
// changed. A whole-batch failure surfaces as all-nil quotes and is simply a
// quiet tick; the schedule is never interrupted.
func (l *Loop) tick(ctx context.Context) {

	symbols := l.displayedSymbols()
	if len(symbols) == 0 {
		return
	}

	prices := l.feed.GetPrices(ctx, symbols)
	changes := l.feed.Get24hChanges(ctx, symbols)

	changeBySymbol := make(map[string]*float64, len(changes))
	for _, c := range changes {
		changeBySymbol[c.Symbol] = c.PriceChange
	}

	updated := false
	for _, q := range prices {
		q.PriceChange = changeBySymbol[q.Symbol]
		if entry, dirty := l.cache.Apply(q); dirty {
			l.broker.Publish(NewUpdate(q.Symbol, entry))
			updated = true
		}
	}

	if updated && l.onUpdate != nil {
		l.onUpdate(time.Now())
	}
}

// Ingest folds a single externally sourced quote (e.g. from a websocket
// stream) through the same cache and publish path as a tick.
func (l *Loop) Ingest(q feed.Quote) {
	if entry, dirty := l.cache.Apply(q); dirty {
		l.broker.Publish(NewUpdate(q.Symbol, entry))
		if l.onUpdate != nil {
			l.onUpdate(time.Now())
		}
	}
}

func (l *Loop) displayedSymbols() []string {
	seen := map[string]bool{}
	var symbols []string
	for _, source := range l.sources {
		for _, symbol := range source.Symbols() {
			if symbol == "" || seen[symbol] {
				continue
			}
			seen[symbol] = true
			symbols = append(symbols, symbol)
		}
	}
	return symbols
}

// RunStream pipes websocket quotes into the loop until the context ends.
func (l *Loop) RunStream(ctx context.Context, stream *feed.Stream) {
	go func() {
		<-ctx.Done()
		_ = stream.Close()
	}()
	for {
		quote, err := stream.ReadQuote()
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("price stream closed")
			}
			return
		}
		l.Ingest(quote)
	}
}
