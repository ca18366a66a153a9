package model

import (
	"math"
	"testing"
)

func TestSanitizeDefaults(t *testing.T) {

	p := Pattern{
		Name:        "",
		Ticker:      "",
		Price:       math.NaN(),
		PriceChange: math.Inf(1),
		PatternType: "sideways",
		Status:      "archived",
	}

	p.Sanitize()

	if p.Name != "Unknown" {
		t.Errorf("Name = %q, want Unknown", p.Name)
	}
	if p.Price != 0 {
		t.Errorf("Price = %v, want 0", p.Price)
	}
	if p.PriceChange != 0 {
		t.Errorf("PriceChange = %v, want 0", p.PriceChange)
	}
	if p.PatternType != Neutral {
		t.Errorf("PatternType = %q, want neutral", p.PatternType)
	}
	if p.Status != Draft {
		t.Errorf("Status = %q, want draft", p.Status)
	}
	// The ticker stays empty; the display default lives in the view and an
	// empty ticker opts the pattern out of symbol construction.
	if p.Ticker != "" {
		t.Errorf("Ticker = %q, want empty", p.Ticker)
	}
}

func TestSanitizeKeepsGoodValues(t *testing.T) {

	p := Pattern{
		Name:        "Bitcoin",
		Ticker:      "BTC",
		Price:       50000,
		PriceChange: -1.2,
		PatternType: Bearish,
		Status:      Published,
	}

	p.Sanitize()

	if p.Name != "Bitcoin" || p.Ticker != "BTC" || p.Price != 50000 || p.PriceChange != -1.2 {
		t.Errorf("Sanitize mutated valid fields: %+v", p)
	}
	if p.PatternType != Bearish || p.Status != Published {
		t.Errorf("Sanitize mutated valid enums: %+v", p)
	}
}

func TestOrderClause(t *testing.T) {

	cases := []struct {
		field, direction string
		want             string
	}{
		{"updated_at", "desc", "updated_at desc"},
		{"price", "asc", "price asc"},
		{"title", "", "title desc"},
		{"drop table", "asc", "updated_at asc"},
		{"", "", "updated_at desc"},
	}

	for _, c := range cases {
		if got := orderClause(c.field, c.direction); got != c.want {
			t.Errorf("orderClause(%q, %q) = %q, want %q", c.field, c.direction, got, c.want)
		}
	}
}
