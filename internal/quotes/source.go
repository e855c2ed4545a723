package quotes

import (
	"context"
	"errors"
	"time"

	"leggedarb/internal/clob"
	"leggedarb/internal/models"
)

// ErrStaleQuote marks a snapshot older than the configured max age. The
// decision loop treats it as "skip new entries this tick", never as fatal.
var ErrStaleQuote = errors.New("quote snapshot is stale")

// Pair is one tick's view of both legs. Books carry full depth when the
// source has it; nil otherwise.
type Pair struct {
	Yes     models.Quote
	No      models.Quote
	YesBook *OrderBookView
	NoBook  *OrderBookView
}

// OrderBookView is a depth snapshot usable by the paper matcher.
type OrderBookView struct {
	Bids []clob.Level
	Asks []clob.Level
}

// Source delivers quote pairs for the current cycle.
type Source interface {
	Snapshot(ctx context.Context) (Pair, error)
}

// Fallback tries each source in order, moving on when one reports a stale
// snapshot or an error. Used to back a websocket cache with REST polling.
type Fallback struct {
	Sources []Source
}

func (f *Fallback) Snapshot(ctx context.Context) (Pair, error) {
	var lastErr error = ErrStaleQuote
	for _, s := range f.Sources {
		pair, err := s.Snapshot(ctx)
		if err == nil {
			return pair, nil
		}
		lastErr = err
	}
	return Pair{}, lastErr
}

func quoteFromBook(tokenID string, book *clob.OrderBook, now time.Time) models.Quote {
	q := models.Quote{TokenID: tokenID, Timestamp: now}
	if book == nil {
		return q
	}
	if bid, ok := book.BestBid(); ok {
		q.BestBid = &bid
	}
	if ask, ok := book.BestAsk(); ok {
		q.BestAsk = &ask
	}
	return q
}
