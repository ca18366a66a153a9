// Package feed provides price feed clients returning the current price and
// 24h percent change per exchange symbol. Batched lookups never abort on a
// single bad symbol; a failed entry carries a nil price instead.
package feed

import (
	"context"
	"strings"
)

// QuoteSuffix is the fixed quote asset appended to tickers when building
// exchange symbols.
const QuoteSuffix = "USDT"

// Quote is one symbol's volatile price data. Price and PriceChange are nil
// when the feed had no usable value; a nil field must never overwrite a
// known-good cached value downstream.
type Quote struct {
	Symbol      string   `json:"symbol"`
	Price       *float64 `json:"price"`
	PriceChange *float64 `json:"price_change"`
}

// Usable reports whether the quote carries a price fit for merging.
func (q Quote) Usable() bool {
	return q.Price != nil
}

// Symbol builds the exchange symbol for a ticker, e.g. "btc" -> "BTCUSDT".
// An empty ticker yields no symbol and opts out of the live price merge.
func Symbol(ticker string) string {
	t := strings.TrimSpace(ticker)
	if t == "" {
		return ""
	}
	return strings.ToUpper(t) + QuoteSuffix
}

// Client is the price feed contract consumed by the aggregator and the sync
// loop. GetPrices and Get24hChanges return exactly one entry per requested
// symbol, in order, with individual failures represented as nil values.
type Client interface {
	GetPrice(ctx context.Context, symbol string) (Quote, error)
	GetPrices(ctx context.Context, symbols []string) []Quote
	Get24hChange(ctx context.Context, symbol string) (Quote, error)
	Get24hChanges(ctx context.Context, symbols []string) []Quote
}

// Float is a convenience for building quote values in callers and tests.
func Float(f float64) *float64 {
	return &f
}
