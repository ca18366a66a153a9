package model

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"cryptopatterns-api/db"
)

// ErrAlreadyFavorite reports a duplicate (user, pattern) pair. Callers treat
// it as "already favorited", not as a write failure.
var ErrAlreadyFavorite = errors.New("pattern already favorited")

// Favorite joins a user to a bookmarked pattern. The (UserID, PatternID)
// pair is unique.
type Favorite struct {
	gorm.Model
	UserID    string `json:"user_id" gorm:"uniqueIndex:idx_favorite_user_pattern"`
	PatternID string `json:"pattern_id" gorm:"uniqueIndex:idx_favorite_user_pattern"`
}

func init() {
	db.Migrate(&Favorite{})
}

func GetFavorites(userID string) ([]Favorite, error) {
	var favorites []Favorite
	tx := db.Resolve().Where("user_id = ?", userID).Find(&favorites)
	if tx.Error != nil {
		return nil, errors.Wrap(tx.Error, "listing favorites")
	}
	return favorites, nil
}

// FavoritePatternIDs returns the pattern ids the user has bookmarked.
func FavoritePatternIDs(userID string) ([]string, error) {
	favorites, err := GetFavorites(userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(favorites))
	for _, f := range favorites {
		ids = append(ids, f.PatternID)
	}
	return ids, nil
}

func AddFavorite(userID, patternID string) (Favorite, error) {

	var existing Favorite
	tx := db.Resolve().
		Where("user_id = ? AND pattern_id = ?", userID, patternID).
		Limit(1).
		Find(&existing)
	if tx.Error != nil {
		return existing, errors.Wrap(tx.Error, "checking favorite")
	}
	if tx.RowsAffected > 0 {
		return existing, ErrAlreadyFavorite
	}

	favorite := Favorite{UserID: userID, PatternID: patternID}
	if tx := db.Resolve().Create(&favorite); tx.Error != nil {
		// The unique index closes the check-then-create race.
		if errors.Is(tx.Error, gorm.ErrDuplicatedKey) {
			return favorite, ErrAlreadyFavorite
		}
		return favorite, errors.Wrap(tx.Error, "creating favorite")
	}

	return favorite, nil
}

func RemoveFavoriteByID(id uint) error {
	tx := db.Resolve().Delete(&Favorite{}, id)
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "removing favorite")
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func RemoveFavorite(userID, patternID string) error {
	tx := db.Resolve().
		Where("user_id = ? AND pattern_id = ?", userID, patternID).
		Delete(&Favorite{})
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "removing favorite")
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
