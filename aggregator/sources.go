package aggregator

import (
	"context"

	"cryptopatterns-api/model"
)

// DBPatterns adapts the gorm-backed pattern store to PatternSource.
type DBPatterns struct{}

func (DBPatterns) Published(ctx context.Context) ([]model.Pattern, error) {
	return model.GetPublishedPatterns()
}

// DBFavorites adapts the gorm-backed favorite store to FavoriteSource.
type DBFavorites struct{}

func (DBFavorites) IDs(ctx context.Context, userID string) ([]string, error) {
	return model.FavoritePatternIDs(userID)
}

func (DBFavorites) Add(ctx context.Context, userID, patternID string) error {
	_, err := model.AddFavorite(userID, patternID)
	return err
}

func (DBFavorites) Remove(ctx context.Context, userID, patternID string) error {
	return model.RemoveFavorite(userID, patternID)
}
