package view

import (
	"time"

	"cryptopatterns-api/aggregator"
	"cryptopatterns-api/feed"
	"cryptopatterns-api/model"
	"cryptopatterns-api/util"
)

// Card is a display-ready pattern with formatted price figures and the
// viewer's favorite flag resolved.
type Card struct {
	model.Pattern
	Symbol     string `json:"symbol"`
	PriceText  string `json:"price_text"`
	ChangeText string `json:"change_text"`
	Direction  string `json:"direction"`
	IsFavorite bool   `json:"is_favorite"`
}

// Page is the public listing response.
type Page struct {
	Cards       []Card   `json:"cards"`
	FavoriteIDs []string `json:"favorite_ids"`
	LastUpdate  string   `json:"last_update"`
}

func NewCard(p model.Pattern, favorite bool) Card {
	symbol := feed.Symbol(p.Ticker)
	if p.Ticker == "" {
		p.Ticker = "???"
	}
	direction := "up"
	if p.PriceChange < 0 {
		direction = "down"
	}
	return Card{
		Pattern:    p,
		Symbol:     symbol,
		PriceText:  util.FormatUSD(p.Price),
		ChangeText: util.FormatChange(p.PriceChange),
		Direction:  direction,
		IsFavorite: favorite,
	}
}

// NewPage builds the listing view from an aggregator snapshot.
func NewPage(snap aggregator.Snapshot) Page {

	cards := make([]Card, 0, len(snap.Patterns))
	for _, p := range snap.Patterns {
		cards = append(cards, NewCard(p, snap.IsFavorite(p.ID)))
	}

	var lastUpdate string
	if !snap.RefreshedAt.IsZero() {
		lastUpdate = snap.RefreshedAt.Format(time.RFC3339)
	}

	return Page{
		Cards:       cards,
		FavoriteIDs: snap.FavoriteIDs,
		LastUpdate:  lastUpdate,
	}
}
