package quotes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leggedarb/internal/clob"
	"leggedarb/internal/models"
)

// StreamCache holds the latest book snapshot per leg, fed by the websocket
// stream. Snapshot rejects anything older than maxAge so a dead socket can
// never feed the engine frozen prices.
type StreamCache struct {
	mu     sync.RWMutex
	cycle  *models.MarketCycle
	maxAge time.Duration
	now    func() time.Time

	yesBook *clob.OrderBook
	noBook  *clob.OrderBook
	yesSeen time.Time
	noSeen  time.Time
}

func NewStreamCache(cycle *models.MarketCycle, maxAge time.Duration) *StreamCache {
	if maxAge <= 0 {
		maxAge = 3 * time.Second
	}
	return &StreamCache{cycle: cycle, maxAge: maxAge, now: func() time.Time { return time.Now().UTC() }}
}

// Apply ingests one stream event. Events for tokens outside the cycle are
// dropped silently.
func (c *StreamCache) Apply(ev clob.BookEvent) {
	if ev.EventType != "book" && ev.EventType != "price_change" {
		return
	}
	book := &clob.OrderBook{Bids: ev.Bids, Asks: ev.Asks}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.AssetID {
	case c.cycle.YesTokenID:
		c.yesBook = book
		c.yesSeen = c.now()
	case c.cycle.NoTokenID:
		c.noBook = book
		c.noSeen = c.now()
	}
}

func (c *StreamCache) Snapshot(ctx context.Context) (Pair, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	if c.yesBook == nil || c.noBook == nil {
		return Pair{}, fmt.Errorf("stream cache not warmed up: %w", ErrStaleQuote)
	}
	if now.Sub(c.yesSeen) > c.maxAge || now.Sub(c.noSeen) > c.maxAge {
		return Pair{}, ErrStaleQuote
	}
	return Pair{
		Yes:     quoteFromBook(c.cycle.YesTokenID, c.yesBook, c.yesSeen),
		No:      quoteFromBook(c.cycle.NoTokenID, c.noBook, c.noSeen),
		YesBook: bookView(c.yesBook),
		NoBook:  bookView(c.noBook),
	}, nil
}
