package quotes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"leggedarb/internal/clob"
	"leggedarb/internal/models"
)

func testCycle() *models.MarketCycle {
	return &models.MarketCycle{
		Slug:       "btc-up-or-down-test",
		Asset:      "BTC",
		YesTokenID: "yes-token",
		NoTokenID:  "no-token",
		Expiry:     time.Now().UTC().Add(15 * time.Minute),
	}
}

func level(price, size string) clob.Level {
	return clob.Level{
		Price: decimal.RequireFromString(price),
		Size:  decimal.RequireFromString(size),
	}
}

type fakeBooks struct {
	books map[string]*clob.OrderBook
	err   error
}

func (f *fakeBooks) GetBook(_ context.Context, tokenID string) (*clob.OrderBook, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.books[tokenID], nil
}

func TestRESTSourceSnapshot(t *testing.T) {
	cycle := testCycle()
	src := NewRESTSource(&fakeBooks{books: map[string]*clob.OrderBook{
		"yes-token": {Bids: []clob.Level{level("0.48", "100")}, Asks: []clob.Level{level("0.52", "80")}},
		"no-token":  {Bids: []clob.Level{level("0.45", "50")}},
	}}, cycle)

	pair, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if pair.Yes.BestBid == nil || !pair.Yes.BestBid.Equal(decimal.RequireFromString("0.48")) {
		t.Fatalf("yes bid = %v", pair.Yes.BestBid)
	}
	if pair.No.BestAsk != nil {
		t.Fatalf("no ask should be nil on a one-sided book, got %v", pair.No.BestAsk)
	}
	if pair.YesBook == nil || len(pair.YesBook.Asks) != 1 {
		t.Fatal("expected depth view on the yes book")
	}
}

func TestStreamCacheStaleness(t *testing.T) {
	cycle := testCycle()
	cache := NewStreamCache(cycle, 2*time.Second)
	now := time.Unix(1000, 0).UTC()
	cache.now = func() time.Time { return now }

	if _, err := cache.Snapshot(context.Background()); !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("cold cache should be stale, got %v", err)
	}

	cache.Apply(clob.BookEvent{
		EventType: "book",
		AssetID:   "yes-token",
		Bids:      []clob.Level{level("0.40", "10")},
		Asks:      []clob.Level{level("0.44", "10")},
	})
	cache.Apply(clob.BookEvent{
		EventType: "book",
		AssetID:   "no-token",
		Bids:      []clob.Level{level("0.52", "10")},
		Asks:      []clob.Level{level("0.56", "10")},
	})
	// Events for other markets must not disturb the cycle's books.
	cache.Apply(clob.BookEvent{EventType: "book", AssetID: "other-token"})

	pair, err := cache.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if pair.Yes.BestAsk == nil || !pair.Yes.BestAsk.Equal(decimal.RequireFromString("0.44")) {
		t.Fatalf("yes ask = %v", pair.Yes.BestAsk)
	}

	now = now.Add(3 * time.Second)
	if _, err := cache.Snapshot(context.Background()); !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("aged cache should be stale, got %v", err)
	}
}

func TestFallbackSkipsStaleSource(t *testing.T) {
	cycle := testCycle()
	stale := NewStreamCache(cycle, time.Second)
	rest := NewRESTSource(&fakeBooks{books: map[string]*clob.OrderBook{
		"yes-token": {Bids: []clob.Level{level("0.30", "5")}},
		"no-token":  {Bids: []clob.Level{level("0.60", "5")}},
	}}, cycle)

	fb := &Fallback{Sources: []Source{stale, rest}}
	pair, err := fb.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if pair.Yes.BestBid == nil || !pair.Yes.BestBid.Equal(decimal.RequireFromString("0.30")) {
		t.Fatal("fallback should have served the REST snapshot")
	}
}
