package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the best bid/ask of one instrument at one tick. Replaced every
// tick, never persisted.
type Quote struct {
	TokenID   string
	BestBid   *decimal.Decimal
	BestAsk   *decimal.Decimal
	Timestamp time.Time
}

// Mid returns the midpoint of bid and ask. With a one-sided book it falls
// back to the side that exists.
func (q Quote) Mid() (decimal.Decimal, bool) {
	switch {
	case q.BestBid != nil && q.BestAsk != nil:
		return q.BestBid.Add(*q.BestAsk).Div(decimal.NewFromInt(2)), true
	case q.BestAsk != nil:
		return *q.BestAsk, true
	case q.BestBid != nil:
		return *q.BestBid, true
	default:
		return decimal.Zero, false
	}
}
