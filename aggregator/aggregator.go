// Package aggregator produces the list of patterns a viewer sees, with
// best-effort live pricing merged in, plus the viewer's current favorite
// set.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"cryptopatterns-api/feed"
	"cryptopatterns-api/model"
)

// DefaultRefreshInterval is the period of the full background refresh.
const DefaultRefreshInterval = 5 * time.Minute

// ErrRefresh wraps a fatal pattern-store failure. The previous snapshot is
// retained and the caller owns the retry affordance.
var ErrRefresh = errors.New("refresh failed")

// PatternSource lists the published patterns, newest first.
type PatternSource interface {
	Published(ctx context.Context) ([]model.Pattern, error)
}

// FavoriteSource persists (user, pattern) bookmarks. Add returns
// model.ErrAlreadyFavorite on a duplicate pair; Remove returns
// model.ErrNotFound when the pair does not exist.
type FavoriteSource interface {
	IDs(ctx context.Context, userID string) ([]string, error)
	Add(ctx context.Context, userID, patternID string) error
	Remove(ctx context.Context, userID, patternID string) error
}

// Snapshot is one published view: the merged pattern list, the favorite id
// set of the user it was refreshed for and the time the view was produced.
type Snapshot struct {
	Patterns    []model.Pattern `json:"patterns"`
	FavoriteIDs []string        `json:"favorite_ids"`
	UserID      string          `json:"user_id"`
	RefreshedAt time.Time       `json:"refreshed_at"`
}

func (s Snapshot) IsFavorite(patternID string) bool {
	for _, id := range s.FavoriteIDs {
		if id == patternID {
			return true
		}
	}
	return false
}

// Symbols returns the unique exchange symbols of the snapshot's patterns,
// in listing order. Patterns without a ticker contribute nothing.
func (s Snapshot) Symbols() []string {
	seen := map[string]bool{}
	var symbols []string
	for _, p := range s.Patterns {
		symbol := feed.Symbol(p.Ticker)
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		symbols = append(symbols, symbol)
	}
	return symbols
}

type Aggregator struct {
	patterns  PatternSource
	favorites FavoriteSource
	feed      feed.Client

	flight singleflight.Group

	mu        sync.RWMutex
	snap      Snapshot
	onPublish func(Snapshot)
}

func New(patterns PatternSource, favorites FavoriteSource, client feed.Client) *Aggregator {
	return &Aggregator{
		patterns:  patterns,
		favorites: favorites,
		feed:      client,
	}
}

// Snapshot returns the last published view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// Symbols implements the sync loop's symbol source from the current view.
func (a *Aggregator) Symbols() []string {
	return a.Snapshot().Symbols()
}

// Refresh rebuilds and publishes the snapshot for the user. Concurrent
// calls are coalesced onto one in-flight refresh; the last completed
// publish wins. A price-feed failure degrades to stored prices, a pattern
// store failure is fatal to the cycle and leaves the previous snapshot in
// place.
func (a *Aggregator) Refresh(ctx context.Context, userID string) (Snapshot, error) {

	// The flight is shared by every coalesced caller; a canceled request
	// context must not fail the followers riding the same refresh.
	flightCtx := context.WithoutCancel(ctx)

	v, err, _ := a.flight.Do("refresh:"+userID, func() (interface{}, error) {
		return a.refresh(flightCtx, userID)
	})
	if err != nil {
		return a.Snapshot(), err
	}

	return v.(Snapshot), nil
}

func (a *Aggregator) refresh(ctx context.Context, userID string) (Snapshot, error) {

	patterns, err := a.patterns.Published(ctx)
	if err != nil {
		log.Error().Err(err).Stack().Msg("pattern fetch failed")
		return Snapshot{}, errors.Wrap(ErrRefresh, err.Error())
	}

	// The store query already filters by status; drafts are dropped again
	// here so a permissive source can never leak one into the public view.
	published := make([]model.Pattern, 0, len(patterns))
	for _, p := range patterns {
		p.Sanitize()
		if p.Status != model.Published {
			p.Logger().Debug().Msg("dropping unpublished pattern")
			continue
		}
		published = append(published, p)
	}

	snap := Snapshot{Patterns: published, UserID: userID, RefreshedAt: time.Now()}

	if symbols := snap.Symbols(); len(symbols) > 0 {
		a.merge(ctx, snap.Patterns, symbols)
	}

	ids, err := a.favorites.IDs(ctx, userID)
	if err != nil {
		// Non-fatal; the previous favorite set stays on display, but only
		// when it belongs to the same user.
		log.Error().Err(err).Str("userID", userID).Msg("favorite fetch failed")
		if prev := a.Snapshot(); prev.UserID == userID {
			ids = prev.FavoriteIDs
		}
	}
	snap.FavoriteIDs = ids

	a.publish(snap)

	return snap, nil
}

// merge overlays live feed values onto the in-memory pattern list. It is
// purely presentational and never writes back to the pattern store. A
// symbol the feed had no usable price for keeps its stored snapshot values.
func (a *Aggregator) merge(ctx context.Context, patterns []model.Pattern, symbols []string) {

	prices := a.feed.GetPrices(ctx, symbols)
	changes := a.feed.Get24hChanges(ctx, symbols)

	quotes := make(map[string]feed.Quote, len(symbols))
	for _, q := range prices {
		if q.Usable() {
			quotes[q.Symbol] = q
		}
	}
	for _, c := range changes {
		if c.PriceChange == nil {
			continue
		}
		q, ok := quotes[c.Symbol]
		if !ok {
			continue
		}
		q.PriceChange = c.PriceChange
		quotes[c.Symbol] = q
	}

	for i := range patterns {
		symbol := feed.Symbol(patterns[i].Ticker)
		if symbol == "" {
			continue
		}
		q, ok := quotes[symbol]
		if !ok {
			continue
		}
		patterns[i].Price = *q.Price
		if q.PriceChange != nil {
			patterns[i].PriceChange = *q.PriceChange
		}
	}
}

// OnPublish registers a hook fired after every snapshot publish, e.g. to
// reseed the price sync cache with the freshly merged symbol set.
func (a *Aggregator) OnPublish(fn func(Snapshot)) {
	a.mu.Lock()
	a.onPublish = fn
	a.mu.Unlock()
}

func (a *Aggregator) publish(snap Snapshot) {
	a.mu.Lock()
	a.snap = snap
	fn := a.onPublish
	a.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// ToggleFavorite flips the (user, pattern) bookmark. Membership is decided
// by the user's own store state, never by whichever user the published
// snapshot was refreshed for: a remove is attempted first, and a missing
// pair falls through to an add. A concurrent duplicate add is treated as
// already favorited. It returns whether the pattern is a favorite
// afterwards.
func (a *Aggregator) ToggleFavorite(ctx context.Context, userID, patternID string) (bool, error) {

	err := a.favorites.Remove(ctx, userID, patternID)
	if err == nil {
		a.setFavorite(userID, patternID, false)
		return false, nil
	}
	if !model.IsNotFound(err) {
		return true, err
	}

	if err := a.favorites.Add(ctx, userID, patternID); err != nil && !errors.Is(err, model.ErrAlreadyFavorite) {
		return false, err
	}
	a.setFavorite(userID, patternID, true)
	return true, nil
}

// setFavorite updates the published favorite set, but only when the
// snapshot belongs to the toggling user; another user's bookmark never
// leaks into it.
func (a *Aggregator) setFavorite(userID, patternID string, favorite bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.snap.UserID != userID {
		return
	}

	ids := make([]string, 0, len(a.snap.FavoriteIDs)+1)
	for _, id := range a.snap.FavoriteIDs {
		if id != patternID {
			ids = append(ids, id)
		}
	}
	if favorite {
		ids = append(ids, patternID)
	}
	a.snap.FavoriteIDs = ids
}

// Run drives the periodic full refresh until the context is canceled.
func (a *Aggregator) Run(ctx context.Context, userID string, interval time.Duration) {

	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	if _, err := a.Refresh(ctx, userID); err != nil {
		log.Error().Err(err).Msg("initial refresh failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := a.Refresh(ctx, userID); err != nil {
				log.Error().Err(err).Msg("scheduled refresh failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
