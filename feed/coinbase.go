package feed

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	cb "github.com/preichenberger/go-coinbasepro/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Coinbase is an alternate Client over the Coinbase Pro SDK, for
// deployments that prefer it to the Binance REST feed. Symbols keep the
// ticker+USDT shape callers already build; they are mapped to Coinbase
// product ids here.
type Coinbase struct {
	client *cb.Client
}

func NewCoinbase() *Coinbase {
	return &Coinbase{client: cb.NewClient()}
}

// productID maps an exchange symbol to a Coinbase product, BTCUSDT -> BTC-USD.
func productID(symbol string) string {
	base := strings.TrimSuffix(strings.ToUpper(symbol), QuoteSuffix)
	if base == "" {
		return ""
	}
	return base + "-USD"
}

// percentChange computes the 24h percent move from the stat window's open
// and last trade prices.
func percentChange(open, last string) (*float64, error) {
	o, err := decimal.NewFromString(open)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing open %q", open)
	}
	l, err := decimal.NewFromString(last)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing last %q", last)
	}
	if o.IsZero() {
		return nil, errors.New("zero open price")
	}
	f := l.Sub(o).Div(o).Mul(decimal.NewFromInt(100)).InexactFloat64()
	return &f, nil
}

func (c *Coinbase) GetPrice(ctx context.Context, symbol string) (Quote, error) {
	id := productID(symbol)
	if id == "" {
		return Quote{Symbol: symbol}, errors.New("empty symbol")
	}
	ticker, err := c.client.GetTicker(id)
	if err != nil {
		return Quote{Symbol: symbol}, errors.Wrapf(err, "getting ticker for %s", id)
	}
	price, err := parseDecimal(ticker.Price)
	if err != nil {
		return Quote{Symbol: symbol}, err
	}
	return Quote{Symbol: symbol, Price: price}, nil
}

func (c *Coinbase) Get24hChange(ctx context.Context, symbol string) (Quote, error) {
	id := productID(symbol)
	if id == "" {
		return Quote{Symbol: symbol}, errors.New("empty symbol")
	}
	stats, err := c.client.GetStats(id)
	if err != nil {
		return Quote{Symbol: symbol}, errors.Wrapf(err, "getting stats for %s", id)
	}
	change, err := percentChange(stats.Open, stats.Last)
	if err != nil {
		return Quote{Symbol: symbol}, err
	}
	return Quote{Symbol: symbol, PriceChange: change}, nil
}

func (c *Coinbase) GetPrices(ctx context.Context, symbols []string) []Quote {
	return c.batch(ctx, symbols, c.GetPrice)
}

func (c *Coinbase) Get24hChanges(ctx context.Context, symbols []string) []Quote {
	return c.batch(ctx, symbols, c.Get24hChange)
}

func (c *Coinbase) batch(ctx context.Context, symbols []string, get func(context.Context, string) (Quote, error)) []Quote {

	quotes := make([]Quote, len(symbols))

	var wg sync.WaitGroup
	for i, symbol := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			quote, err := get(ctx, symbol)
			if err != nil {
				log.Debug().Err(err).Str("symbol", symbol).Msg("feed lookup failed")
				quotes[i] = Quote{Symbol: symbol}
				return
			}
			quotes[i] = quote
		}(i, symbol)
	}
	wg.Wait()

	return quotes
}
