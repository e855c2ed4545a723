package execution

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"leggedarb/internal/models"
	"leggedarb/internal/quotes"
)

// PaperPort simulates execution against the real books the quote source saw.
// Resting buys fill when the ask crosses them; with realistic fills enabled
// they may also fill passively with a small per-tick probability, standing in
// for sellers hitting the bid.
type PaperPort struct {
	mu sync.Mutex

	log             *zap.Logger
	realisticFills  bool
	fillProbability float64
	rng             *rand.Rand

	books  map[string]*quotes.OrderBookView
	orders map[string]*paperOrder
}

type paperOrder struct {
	id      string
	tokenID string
	price   decimal.Decimal
	size    decimal.Decimal
	status  OrderStatus
	matched models.Fill
}

func NewPaperPort(log *zap.Logger, realisticFills bool, fillProbability float64, seed int64) *PaperPort {
	if fillProbability < 0 {
		fillProbability = 0
	}
	if fillProbability > 1 {
		fillProbability = 1
	}
	return &PaperPort{
		log:             log,
		realisticFills:  realisticFills,
		fillProbability: fillProbability,
		rng:             rand.New(rand.NewSource(seed)),
		books:           make(map[string]*quotes.OrderBookView),
		orders:          make(map[string]*paperOrder),
	}
}

// SetBooks refreshes the simulated venue with this tick's depth and runs the
// matching pass over resting orders.
func (p *PaperPort) SetBooks(pair quotes.Pair) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pair.YesBook != nil {
		p.books[pair.Yes.TokenID] = pair.YesBook
	}
	if pair.NoBook != nil {
		p.books[pair.No.TokenID] = pair.NoBook
	}
	for _, o := range p.orders {
		p.match(o)
	}
}

func (p *PaperPort) match(o *paperOrder) {
	if o.status != StatusOpen {
		return
	}
	book := p.books[o.tokenID]
	if book == nil {
		return
	}
	if ask, ok := bestAsk(book); ok && ask.LessThanOrEqual(o.price) {
		// Marketable against the ask: pay the better of the two prices.
		o.matched = models.Fill{Size: o.size, AvgPrice: decimal.Min(o.price, ask)}
		o.status = StatusMatched
		return
	}
	if p.realisticFills && p.fillProbability > 0 {
		if bid, ok := bestBid(book); ok && o.price.GreaterThanOrEqual(bid) && p.rng.Float64() < p.fillProbability {
			o.matched = models.Fill{Size: o.size, AvgPrice: o.price}
			o.status = StatusMatched
		}
	}
}

func (p *PaperPort) PlaceResting(_ context.Context, tokenID string, price, size decimal.Decimal) (string, error) {
	if err := validateOrder(price, size); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o := &paperOrder{
		id:      uuid.NewString(),
		tokenID: tokenID,
		price:   price,
		size:    size,
		status:  StatusOpen,
	}
	p.orders[o.id] = o
	p.match(o)
	return o.id, nil
}

// PlaceAggressive walks the book up to limit, fill-and-kill.
func (p *PaperPort) PlaceAggressive(_ context.Context, tokenID string, dir Direction, limit, size decimal.Decimal) (models.Fill, error) {
	if err := validateOrder(limit, size); err != nil {
		return models.Fill{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	book := p.books[tokenID]
	if book == nil {
		return models.Fill{}, fmt.Errorf("%w: no book for token %s", ErrVenueUnavailable, tokenID)
	}
	fill := walkBook(book, dir, limit, size)
	if p.log != nil && !fill.IsZero() {
		p.log.Debug("paper aggressive fill",
			zap.String("token_id", tokenID),
			zap.String("direction", string(dir)),
			zap.String("size", fill.Size.String()),
			zap.String("avg_price", fill.AvgPrice.String()))
	}
	return fill, nil
}

// walkBook consumes depth levels inside the limit, worst case partially.
func walkBook(book *quotes.OrderBookView, dir Direction, limit, size decimal.Decimal) models.Fill {
	levels := book.Asks
	inLimit := func(px decimal.Decimal) bool { return px.LessThanOrEqual(limit) }
	better := func(a, b decimal.Decimal) bool { return a.LessThan(b) }
	if dir == DirectionSell {
		levels = book.Bids
		inLimit = func(px decimal.Decimal) bool { return px.GreaterThanOrEqual(limit) }
		better = func(a, b decimal.Decimal) bool { return a.GreaterThan(b) }
	}

	sorted := make([]struct{ px, sz decimal.Decimal }, 0, len(levels))
	for _, lvl := range levels {
		if inLimit(lvl.Price) {
			sorted = append(sorted, struct{ px, sz decimal.Decimal }{lvl.Price, lvl.Size})
		}
	}
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && better(sorted[j].px, sorted[j-1].px); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	remaining := size
	notional := decimal.Zero
	filled := decimal.Zero
	for _, lvl := range sorted {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(remaining, lvl.sz)
		filled = filled.Add(take)
		notional = notional.Add(take.Mul(lvl.px))
		remaining = remaining.Sub(take)
	}
	if filled.IsZero() {
		return models.Fill{}
	}
	return models.Fill{Size: filled, AvgPrice: notional.Div(filled)}
}

func (p *PaperPort) Cancel(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if o.status == StatusOpen {
		o.status = StatusCanceled
	}
	return nil
}

func (p *PaperPort) Poll(_ context.Context, orderID string) (OrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return OrderState{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return OrderState{ID: o.id, TokenID: o.tokenID, Status: o.status, Matched: o.matched}, nil
}

func (p *PaperPort) CancelAll(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.orders {
		if o.status == StatusOpen {
			o.status = StatusCanceled
		}
	}
	return nil
}

func bestAsk(book *quotes.OrderBookView) (decimal.Decimal, bool) {
	if len(book.Asks) == 0 {
		return decimal.Zero, false
	}
	best := book.Asks[0].Price
	for _, lvl := range book.Asks[1:] {
		if lvl.Price.LessThan(best) {
			best = lvl.Price
		}
	}
	return best, true
}

func bestBid(book *quotes.OrderBookView) (decimal.Decimal, bool) {
	if len(book.Bids) == 0 {
		return decimal.Zero, false
	}
	best := book.Bids[0].Price
	for _, lvl := range book.Bids[1:] {
		if lvl.Price.GreaterThan(best) {
			best = lvl.Price
		}
	}
	return best, true
}
