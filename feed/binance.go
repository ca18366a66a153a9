package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const defaultBinanceURL = "https://api.binance.com/api/v3"

// Binance is a Client backed by the public Binance REST API. The API has no
// bulk quote endpoint, so the batched variants fan out one request per
// symbol and collect the results.
type Binance struct {
	BaseURL string
	HTTP    *http.Client
}

func NewBinance(baseURL string) *Binance {
	if baseURL == "" {
		baseURL = defaultBinanceURL
	}
	return &Binance{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type binanceTicker struct {
	Symbol             string `json:"symbol"`
	Price              string `json:"price"`
	PriceChangePercent string `json:"priceChangePercent"`
}

func (b *Binance) get(ctx context.Context, path, symbol string) (binanceTicker, error) {

	var ticker binanceTicker

	u := b.BaseURL + path + "?symbol=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ticker, errors.Wrap(err, "building feed request")
	}

	res, err := b.HTTP.Do(req)
	if err != nil {
		return ticker, errors.Wrap(err, "requesting feed")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return ticker, errors.Errorf("feed returned %s for %s", res.Status, symbol)
	}

	if err := json.NewDecoder(res.Body).Decode(&ticker); err != nil {
		return ticker, errors.Wrap(err, "decoding feed response")
	}

	return ticker, nil
}

// parseDecimal parses exchange string numbers without a float round trip;
// crypto prices carry sub-cent precision.
func parseDecimal(s string) (*float64, error) {
	if s == "" {
		return nil, errors.New("empty decimal")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %q", s)
	}
	f := d.InexactFloat64()
	return &f, nil
}

func (b *Binance) GetPrice(ctx context.Context, symbol string) (Quote, error) {
	ticker, err := b.get(ctx, "/ticker/price", symbol)
	if err != nil {
		return Quote{Symbol: symbol}, err
	}
	price, err := parseDecimal(ticker.Price)
	if err != nil {
		return Quote{Symbol: symbol}, err
	}
	return Quote{Symbol: symbol, Price: price}, nil
}

func (b *Binance) Get24hChange(ctx context.Context, symbol string) (Quote, error) {
	ticker, err := b.get(ctx, "/ticker/24hr", symbol)
	if err != nil {
		return Quote{Symbol: symbol}, err
	}
	change, err := parseDecimal(ticker.PriceChangePercent)
	if err != nil {
		return Quote{Symbol: symbol}, err
	}
	return Quote{Symbol: symbol, PriceChange: change}, nil
}

func (b *Binance) GetPrices(ctx context.Context, symbols []string) []Quote {
	return b.batch(ctx, symbols, b.GetPrice)
}

func (b *Binance) Get24hChanges(ctx context.Context, symbols []string) []Quote {
	return b.batch(ctx, symbols, b.Get24hChange)
}

func (b *Binance) batch(ctx context.Context, symbols []string, get func(context.Context, string) (Quote, error)) []Quote {

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
