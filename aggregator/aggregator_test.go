package aggregator

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"cryptopatterns-api/feed"
	"cryptopatterns-api/model"
)

type fakePatterns struct {
	mu       sync.Mutex
	patterns []model.Pattern
	err      error
}

func (f *fakePatterns) Published(ctx context.Context) ([]model.Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Pattern, len(f.patterns))
	copy(out, f.patterns)
	return out, nil
}

func (f *fakePatterns) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeFavorites struct {
	mu    sync.Mutex
	pairs map[string]bool // userID|patternID
	err   error
}

func newFakeFavorites() *fakeFavorites {
	return &fakeFavorites{pairs: make(map[string]bool)}
}

func (f *fakeFavorites) key(userID, patternID string) string {
	return userID + "|" + patternID
}

func (f *fakeFavorites) IDs(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var ids []string
	for pair := range f.pairs {
		if len(pair) > len(userID) && pair[:len(userID)+1] == userID+"|" {
			ids = append(ids, pair[len(userID)+1:])
		}
	}
	return ids, nil
}

func (f *fakeFavorites) Add(ctx context.Context, userID, patternID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.pairs[f.key(userID, patternID)] {
		return model.ErrAlreadyFavorite
	}
	f.pairs[f.key(userID, patternID)] = true
	return nil
}

func (f *fakeFavorites) Remove(ctx context.Context, userID, patternID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if !f.pairs[f.key(userID, patternID)] {
		return model.ErrNotFound
	}
	delete(f.pairs, f.key(userID, patternID))
	return nil
}

type fakeFeed struct {
	mu        sync.Mutex
	prices    map[string]float64
	changes   map[string]float64
	requested []string
}

func (f *fakeFeed) GetPrice(ctx context.Context, symbol string) (feed.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[symbol]
	if !ok {
		return feed.Quote{Symbol: symbol}, errors.New("no such symbol")
	}
	return feed.Quote{Symbol: symbol, Price: feed.Float(price)}, nil
}

func (f *fakeFeed) Get24hChange(ctx context.Context, symbol string) (feed.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	change, ok := f.changes[symbol]
	if !ok {
		return feed.Quote{Symbol: symbol}, errors.New("no such symbol")
	}
	return feed.Quote{Symbol: symbol, PriceChange: feed.Float(change)}, nil
}

func (f *fakeFeed) GetPrices(ctx context.Context, symbols []string) []feed.Quote {
	f.mu.Lock()
	f.requested = append(f.requested, symbols...)
	f.mu.Unlock()

	quotes := make([]feed.Quote, len(symbols))
	for i, symbol := range symbols {
		quote, err := f.GetPrice(ctx, symbol)
		if err != nil {
			quote = feed.Quote{Symbol: symbol}
		}
		quotes[i] = quote
	}
	return quotes
}

func (f *fakeFeed) Get24hChanges(ctx context.Context, symbols []string) []feed.Quote {
	quotes := make([]feed.Quote, len(symbols))
	for i, symbol := range symbols {
		quote, err := f.Get24hChange(ctx, symbol)
		if err != nil {
			quote = feed.Quote{Symbol: symbol}
		}
		quotes[i] = quote
	}
	return quotes
}

func published(id, ticker string, price, change float64) model.Pattern {
	return model.Pattern{
		StrModel:    model.StrModel{ID: id},
		Title:       id,
		Name:        id,
		Ticker:      ticker,
		Price:       price,
		PriceChange: change,
		PatternType: model.Bullish,
		Status:      model.Published,
	}
}

func TestRefreshMergesFeedAndExcludesDrafts(t *testing.T) {

	eth := published("eth", "eth", 3000, 0)
	eth.Status = model.Draft

	patterns := &fakePatterns{patterns: []model.Pattern{
		published("btc", "btc", 50000, 1.0),
		eth,
	}}
	feedClient := &fakeFeed{
		prices:  map[string]float64{"BTCUSDT": 51000},
		changes: map[string]float64{"BTCUSDT": 2.0},
	}

	a := New(patterns, newFakeFavorites(), feedClient)

	snap, err := a.Refresh(context.Background(), "1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if len(snap.Patterns) != 1 {
		t.Fatalf("got %d patterns, want 1 (draft excluded)", len(snap.Patterns))
	}
	got := snap.Patterns[0]
	if got.ID != "btc" {
		t.Fatalf("visible pattern = %q, want btc", got.ID)
	}
	if got.Price != 51000 {
		t.Errorf("merged price = %v, want feed price 51000", got.Price)
	}
	if got.PriceChange != 2.0 {
		t.Errorf("merged change = %v, want feed change 2.0", got.PriceChange)
	}
	if snap.RefreshedAt.IsZero() {
		t.Error("RefreshedAt not set")
	}
}

func TestRefreshKeepsStoredValuesOnFeedMiss(t *testing.T) {

	patterns := &fakePatterns{patterns: []model.Pattern{
		published("btc", "btc", 50000, 1.0),
		published("xrp", "xrp", 0.5, -0.3),
	}}
	feedClient := &fakeFeed{
		prices:  map[string]float64{"BTCUSDT": 51000},
		changes: map[string]float64{"BTCUSDT": 2.0},
	}

	a := New(patterns, newFakeFavorites(), feedClient)

	snap, err := a.Refresh(context.Background(), "1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	for _, p := range snap.Patterns {
		if p.ID == "xrp" {
			if p.Price != 0.5 || p.PriceChange != -0.3 {
				t.Errorf("xrp = %v/%v, want stored 0.5/-0.3", p.Price, p.PriceChange)
			}
		}
	}
}

func TestRefreshEmptyTickerStillListed(t *testing.T) {

	patterns := &fakePatterns{patterns: []model.Pattern{
		published("mystery", "", 42, 0),
		published("btc", "btc", 50000, 1.0),
	}}
	feedClient := &fakeFeed{
		prices:  map[string]float64{"BTCUSDT": 51000},
		changes: map[string]float64{"BTCUSDT": 2.0},
	}

	a := New(patterns, newFakeFavorites(), feedClient)

	snap, err := a.Refresh(context.Background(), "1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if len(snap.Patterns) != 2 {
		t.Fatalf("got %d patterns, want 2", len(snap.Patterns))
	}
	for _, p := range snap.Patterns {
		if p.ID == "mystery" && p.Price != 42 {
			t.Errorf("tickerless pattern price = %v, want stored 42", p.Price)
		}
	}

	for _, symbol := range feedClient.requested {
		if symbol == "" || symbol == "USDT" {
			t.Errorf("empty ticker leaked into symbol construction: %q", symbol)
		}
	}
}

func TestRefreshSanitizesMalformedRecords(t *testing.T) {

	bad := model.Pattern{
		StrModel:    model.StrModel{ID: "bad"},
		Price:       math.NaN(),
		PatternType: "wedge?",
		Status:      model.Published,
	}

	a := New(&fakePatterns{patterns: []model.Pattern{bad}}, newFakeFavorites(), &fakeFeed{})

	snap, err := a.Refresh(context.Background(), "1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(snap.Patterns) != 1 {
		t.Fatalf("malformed record dropped from list")
	}

	got := snap.Patterns[0]
	if got.Name != "Unknown" || got.Price != 0 || got.PatternType != model.Neutral {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestRefreshStoreFailureKeepsPreviousSnapshot(t *testing.T) {

	patterns := &fakePatterns{patterns: []model.Pattern{published("btc", "btc", 50000, 1.0)}}
	a := New(patterns, newFakeFavorites(), &fakeFeed{})

	if _, err := a.Refresh(context.Background(), "1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	before := a.Snapshot()

	patterns.fail(errors.New("store unreachable"))

	_, err := a.Refresh(context.Background(), "1")
	if !errors.Is(err, ErrRefresh) {
		t.Fatalf("err = %v, want ErrRefresh", err)
	}

	after := a.Snapshot()
	if len(after.Patterns) != len(before.Patterns) || !after.RefreshedAt.Equal(before.RefreshedAt) {
		t.Error("failed refresh disturbed the published snapshot")
	}
}

func TestRefreshFavoritesFailureKeepsPreviousSet(t *testing.T) {

	favorites := newFakeFavorites()
	favorites.pairs["1|btc"] = true

	patterns := &fakePatterns{patterns: []model.Pattern{published("btc", "btc", 50000, 1.0)}}
	a := New(patterns, favorites, &fakeFeed{})

	if _, err := a.Refresh(context.Background(), "1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !a.Snapshot().IsFavorite("btc") {
		t.Fatal("favorite not loaded")
	}

	favorites.err = errors.New("favorites unreachable")

	snap, err := a.Refresh(context.Background(), "1")
	if err != nil {
		t.Fatalf("Refresh after favorite outage: %v", err)
	}
	if !snap.IsFavorite("btc") {
		t.Error("favorite set lost on transient favorites failure")
	}
}

func TestToggleFavoriteIdempotence(t *testing.T) {

	favorites := newFakeFavorites()
	patterns := &fakePatterns{patterns: []model.Pattern{published("btc", "btc", 50000, 1.0)}}
	a := New(patterns, favorites, &fakeFeed{})

	if _, err := a.Refresh(context.Background(), "1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	favorited, err := a.ToggleFavorite(context.Background(), "1", "btc")
	if err != nil || !favorited {
		t.Fatalf("first toggle = (%v, %v), want (true, nil)", favorited, err)
	}
	if !favorites.pairs["1|btc"] {
		t.Fatal("store missing favorite after confirmed add")
	}

	favorited, err = a.ToggleFavorite(context.Background(), "1", "btc")
	if err != nil || favorited {
		t.Fatalf("second toggle = (%v, %v), want (false, nil)", favorited, err)
	}
	if favorites.pairs["1|btc"] {
		t.Fatal("store still has favorite after confirmed remove")
	}
	if a.Snapshot().IsFavorite("btc") {
		t.Error("snapshot favorite set not restored to pre-call state")
	}
}

func TestToggleFavoriteScenario(t *testing.T) {

	favorites := newFakeFavorites()
	favorites.pairs["1|btc"] = true

	patterns := &fakePatterns{patterns: []model.Pattern{
		published("btc", "btc", 50000, 1.0),
		published("eth", "eth", 3000, 0.5),
	}}
	a := New(patterns, favorites, &fakeFeed{})

	if _, err := a.Refresh(context.Background(), "1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if _, err := a.ToggleFavorite(context.Background(), "1", "eth"); err != nil {
		t.Fatalf("toggle eth: %v", err)
	}
	if _, err := a.ToggleFavorite(context.Background(), "1", "btc"); err != nil {
		t.Fatalf("toggle btc: %v", err)
	}

	if favorites.pairs["1|btc"] {
		t.Error("btc still favorited")
	}
	if !favorites.pairs["1|eth"] {
		t.Error("eth not favorited")
	}
	snap := a.Snapshot()
	if snap.IsFavorite("btc") || !snap.IsFavorite("eth") {
		t.Errorf("snapshot favorites = %v, want only eth", snap.FavoriteIDs)
	}
}

// Membership comes from the store, not the snapshot: a pair the snapshot
// never saw is still removed by a toggle.
func TestToggleFavoriteUsesStoreState(t *testing.T) {

	favorites := newFakeFavorites()
	favorites.pairs["1|btc"] = true // present in store, unknown to the snapshot

	patterns := &fakePatterns{patterns: []model.Pattern{published("btc", "btc", 50000, 1.0)}}
	a := New(patterns, favorites, &fakeFeed{})

	favorited, err := a.ToggleFavorite(context.Background(), "1", "btc")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if favorited {
		t.Error("toggle of a stored favorite settled on favorited")
	}
	if favorites.pairs["1|btc"] {
		t.Error("store still holds the pair after toggle")
	}
}

// The snapshot is refreshed for one user at a time. Another user's toggle
// works against their own store rows and never edits the published set.
func TestToggleFavoriteIsolatedPerUser(t *testing.T) {

	favorites := newFakeFavorites()
	favorites.pairs["2|btc"] = true

	patterns := &fakePatterns{patterns: []model.Pattern{
		published("btc", "btc", 50000, 1.0),
		published("eth", "eth", 3000, 0.5),
	}}
	a := New(patterns, favorites, &fakeFeed{})

	if _, err := a.Refresh(context.Background(), "1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	favorited, err := a.ToggleFavorite(context.Background(), "2", "btc")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if favorited {
		t.Error("user 2's stored favorite not removed")
	}
	if favorites.pairs["2|btc"] {
		t.Error("store still holds (2, btc) after toggle")
	}

	if _, err := a.ToggleFavorite(context.Background(), "2", "eth"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	snap := a.Snapshot()
	if snap.UserID != "1" {
		t.Fatalf("snapshot user = %q, want 1", snap.UserID)
	}
	if snap.IsFavorite("btc") || snap.IsFavorite("eth") {
		t.Errorf("user 2's toggles leaked into user 1's set: %v", snap.FavoriteIDs)
	}
}

type racyFavorites struct {
	*fakeFavorites
}

func (racyFavorites) Remove(ctx context.Context, userID, patternID string) error {
	return model.ErrNotFound
}

func (racyFavorites) Add(ctx context.Context, userID, patternID string) error {
	return model.ErrAlreadyFavorite
}

// A duplicate add from a concurrent writer is "already favorited", not a
// failure: the toggle settles on the favorited state without an error.
func TestToggleFavoriteDuplicateAddSettlesFavorited(t *testing.T) {

	patterns := &fakePatterns{patterns: []model.Pattern{published("btc", "btc", 50000, 1.0)}}
	a := New(patterns, racyFavorites{newFakeFavorites()}, &fakeFeed{})

	favorited, err := a.ToggleFavorite(context.Background(), "1", "btc")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !favorited {
		t.Error("duplicate add did not settle on favorited")
	}
}

// A caller abandoning its request must not fail the shared refresh other
// callers are riding on.
func TestRefreshDetachedFromCallerContext(t *testing.T) {

	patterns := &fakePatterns{patterns: []model.Pattern{published("btc", "btc", 50000, 1.0)}}
	a := New(patterns, newFakeFavorites(), &fakeFeed{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := a.Refresh(ctx, "1")
	if err != nil {
		t.Fatalf("Refresh with canceled caller context: %v", err)
	}
	if len(snap.Patterns) != 1 {
		t.Errorf("got %d patterns, want 1", len(snap.Patterns))
	}
}

func TestOnPublishHookFires(t *testing.T) {

	patterns := &fakePatterns{patterns: []model.Pattern{published("btc", "btc", 50000, 1.0)}}
	a := New(patterns, newFakeFavorites(), &fakeFeed{})

	var got []Snapshot
	a.OnPublish(func(snap Snapshot) { got = append(got, snap) })

	if _, err := a.Refresh(context.Background(), "1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if len(got) != 1 || len(got[0].Patterns) != 1 {
		t.Fatalf("hook calls = %d, want 1 with the published snapshot", len(got))
	}

	patterns.fail(errors.New("down"))
	_, _ = a.Refresh(context.Background(), "1")

	if len(got) != 1 {
		t.Error("hook fired for a failed refresh")
	}
}

func TestSnapshotSymbols(t *testing.T) {

	snap := Snapshot{Patterns: []model.Pattern{
		published("btc", "btc", 1, 0),
		published("btc2", "BTC", 1, 0),
		published("none", "", 1, 0),
		published("eth", "eth", 1, 0),
	}}

	symbols := snap.Symbols()
	want := []string{"BTCUSDT", "ETHUSDT"}
	if len(symbols) != len(want) {
		t.Fatalf("symbols = %v, want %v", symbols, want)
	}
	for i := range want {
		if symbols[i] != want[i] {
			t.Errorf("symbols[%d] = %q, want %q", i, symbols[i], want[i])
		}
	}
}
