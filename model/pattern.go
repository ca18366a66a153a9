package model

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"cryptopatterns-api/db"
)

var ErrNotFound = errors.New("not found")

type PatternType string

const (
	Bullish PatternType = "bullish"
	Bearish PatternType = "bearish"
	Neutral PatternType = "neutral"
)

type Status string

const (
	Draft     Status = "draft"
	Published Status = "published"
)

// Levels are the optional annotated price levels of a pattern. All of them
// are independently nullable.
type Levels struct {
	Resistance *float64 `json:"resistance"`
	Support    *float64 `json:"support"`
	Potential  *float64 `json:"potential"`
	Timeframe  string   `json:"timeframe"`
}

// Pattern is a technical-analysis annotation on a tradable asset.
type Pattern struct {

	// StrModel
	StrModel

	// Title is the display title of the annotation, e.g. "BTC breaking out".
	Title string `json:"title"`

	// Name is the asset name, e.g. "Bitcoin".
	Name string `json:"name"`

	// Ticker is the short asset symbol, e.g. "BTC".
	Ticker string `json:"ticker"`

	// Price is the stored market snapshot price. Live feed values overlay it
	// at display time but are never written back here.
	Price float64 `json:"price"`

	// PriceChange is the stored 24h percent change snapshot.
	PriceChange float64 `json:"price_change"`

	PatternType  PatternType `json:"pattern_type"`
	PatternName  string      `json:"pattern_name"`
	PatternLabel string      `json:"pattern_label"`
	Description  string      `json:"description"`

	Levels Levels `json:"levels" gorm:"embedded;embeddedPrefix:level_"`

	ChartImageURL string `json:"chart_image_url"`

	// Status is the publication state. Only published patterns are visible
	// to the public aggregator.
	Status Status `json:"status"`
}

func init() {
	db.Migrate(&Pattern{})
}

func (p Pattern) Logger() *zerolog.Logger {
	logger := log.
		With().
		Str("patternID", p.ID).
		Str("ticker", p.Ticker).
		Logger()
	return &logger
}

// Sanitize substitutes documented defaults for malformed fields so that one
// bad record never hides the rest of the list. The ticker is left as stored;
// an empty ticker simply opts the pattern out of the live price merge.
func (p *Pattern) Sanitize() {
	if strings.TrimSpace(p.Name) == "" {
		p.Name = "Unknown"
	}
	switch p.PatternType {
	case Bullish, Bearish, Neutral:
	default:
		p.PatternType = Neutral
	}
	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		p.Price = 0
	}
	if math.IsNaN(p.PriceChange) || math.IsInf(p.PriceChange, 0) {
		p.PriceChange = 0
	}
	if p.Status != Published {
		p.Status = Draft
	}
}

func (p *Pattern) Save() error {
	if p.ID == "" {
		p.ID = uuid.New().String()
		if tx := db.Resolve().Create(p); tx.Error != nil {
			return errors.Wrap(tx.Error, "creating pattern")
		}
		return nil
	}
	var existing Pattern
	tx := db.Resolve().Where("id = ?", p.ID).Limit(1).Find(&existing)
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "finding pattern")
	}
	if tx.RowsAffected == 0 {
		if tx := db.Resolve().Create(p); tx.Error != nil {
			return errors.Wrap(tx.Error, "creating pattern")
		}
		return nil
	}
	if tx := db.Resolve().Save(p); tx.Error != nil {
		return errors.Wrap(tx.Error, "saving pattern")
	}
	return nil
}

func DeletePattern(patternID string) error {
	tx := db.Resolve().Delete(&Pattern{}, "id = ?", patternID)
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "deleting pattern")
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func FindPatternByID(patternID string) (Pattern, error) {
	var pattern Pattern
	tx := db.Resolve().
		Where("id = ?", patternID).
		Limit(1).
		Find(&pattern)
	if tx.Error != nil {
		return pattern, errors.Wrap(tx.Error, "finding pattern")
	}
	if tx.RowsAffected == 0 {
		return pattern, ErrNotFound
	}
	return pattern, nil
}

// sortable whitelists the fields callers may order by. Anything else falls
// back to updated_at.
var sortable = map[string]bool{
	"updated_at": true,
	"created_at": true,
	"title":      true,
	"price":      true,
	"ticker":     true,
}

func orderClause(field, direction string) string {
	if !sortable[field] {
		field = "updated_at"
	}
	if direction != "asc" {
		direction = "desc"
	}
	return fmt.Sprintf("%s %s", field, direction)
}

// GetPatterns lists patterns, optionally filtered by publication status.
// The default order is updated_at descending, newest first.
func GetPatterns(status Status, sortField, direction string) ([]Pattern, error) {

	var patterns []Pattern

	tx := db.Resolve().Order(orderClause(sortField, direction))
	if status != "" {
		tx = tx.Where("status = ?", status)
	}

	if tx = tx.Find(&patterns); tx.Error != nil {
		return nil, errors.Wrap(tx.Error, "listing patterns")
	}

	return patterns, nil
}

// GetPublishedPatterns is the public listing, newest first.
func GetPublishedPatterns() ([]Pattern, error) {
	return GetPatterns(Published, "updated_at", "desc")
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}
