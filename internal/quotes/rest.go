package quotes

import (
	"context"
	"fmt"
	"time"

	"leggedarb/internal/clob"
	"leggedarb/internal/models"
)

type bookFetcher interface {
	GetBook(ctx context.Context, tokenID string) (*clob.OrderBook, error)
}

// RESTSource fetches both books on every snapshot. Slower than the stream
// cache but always fresh, so it never returns ErrStaleQuote on its own.
type RESTSource struct {
	client bookFetcher
	cycle  *models.MarketCycle
}

func NewRESTSource(client bookFetcher, cycle *models.MarketCycle) *RESTSource {
	return &RESTSource{client: client, cycle: cycle}
}

func (s *RESTSource) Snapshot(ctx context.Context) (Pair, error) {
	yesBook, err := s.client.GetBook(ctx, s.cycle.YesTokenID)
	if err != nil {
		return Pair{}, fmt.Errorf("yes book: %w", err)
	}
	noBook, err := s.client.GetBook(ctx, s.cycle.NoTokenID)
	if err != nil {
		return Pair{}, fmt.Errorf("no book: %w", err)
	}
	now := time.Now().UTC()
	return Pair{
		Yes:     quoteFromBook(s.cycle.YesTokenID, yesBook, now),
		No:      quoteFromBook(s.cycle.NoTokenID, noBook, now),
		YesBook: bookView(yesBook),
		NoBook:  bookView(noBook),
	}, nil
}

func bookView(book *clob.OrderBook) *OrderBookView {
	if book == nil {
		return nil
	}
	return &OrderBookView{Bids: book.Bids, Asks: book.Asks}
}
