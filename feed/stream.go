package feed

import (
	"encoding/json"
	"strings"

	ws "github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultStreamURL = "wss://stream.binance.com:9443/stream"

// Stream reads live mini-ticker quotes for a fixed symbol set over a
// websocket, as a lower-latency supplement to the polled REST feed.
type Stream struct {
	conn *ws.Conn
}

// DialStream subscribes to the mini-ticker stream for the given symbols.
func DialStream(streamURL string, symbols []string) (*Stream, error) {

	if len(symbols) == 0 {
		return nil, errors.New("no symbols to stream")
	}
	if streamURL == "" {
		streamURL = defaultStreamURL
	}

	names := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if symbol == "" {
			continue
		}
		names = append(names, strings.ToLower(symbol)+"@miniTicker")
	}

	conn, _, err := ws.DefaultDialer.Dial(streamURL+"?streams="+strings.Join(names, "/"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "dialing price stream")
	}

	return &Stream{conn: conn}, nil
}

type miniTickerEnvelope struct {
	Stream string `json:"stream"`
	Data   struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Close  string `json:"c"`
		Open   string `json:"o"`
	} `json:"data"`
}

// parseMiniTicker turns one stream frame into a Quote, deriving the 24h
// percent change from the frame's open and close.
func parseMiniTicker(raw []byte) (Quote, error) {

	var envelope miniTickerEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Quote{}, errors.Wrap(err, "decoding stream frame")
	}

	if envelope.Data.Event != "24hrMiniTicker" {
		return Quote{}, errors.Errorf("unexpected stream event %q", envelope.Data.Event)
	}

	price, err := parseDecimal(envelope.Data.Close)
	if err != nil {
		return Quote{Symbol: envelope.Data.Symbol}, err
	}

	quote := Quote{Symbol: envelope.Data.Symbol, Price: price}
	if change, err := percentChange(envelope.Data.Open, envelope.Data.Close); err == nil {
		quote.PriceChange = change
	}

	return quote, nil
}

// ReadQuote blocks until the next quote arrives.
func (s *Stream) ReadQuote() (Quote, error) {

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			log.Error().
				Err(err).
				Stack().
				Msg("error reading from websocket")
			return Quote{}, err
		}

		quote, err := parseMiniTicker(raw)
		if err != nil {
			// Subscription acks and unknown events are skipped.
			continue
		}
		return quote, nil
	}
}

func (s *Stream) Close() error {
	return s.conn.Close()
}
