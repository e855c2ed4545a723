package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"leggedarb/internal/models"
)

// Error taxonomy of the execution boundary. VenueUnavailable is transient
// and may be retried (cancel and poll only); RejectedOrder is permanent for
// that order and the next tick re-decides from scratch.
var (
	ErrVenueUnavailable = errors.New("venue unavailable")
	ErrRejectedOrder    = errors.New("order rejected by venue")
	ErrUnknownOrder     = errors.New("unknown order")
)

// Direction is the trade direction against the token, independent of which
// leg of the position it serves.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

type OrderStatus string

const (
	StatusOpen     OrderStatus = "OPEN"
	StatusMatched  OrderStatus = "MATCHED"
	StatusCanceled OrderStatus = "CANCELED"
)

// OrderState is a point-in-time view of one order. Matched is cumulative;
// callers diff against their last observation to get fill deltas.
type OrderState struct {
	ID      string
	TokenID string
	Status  OrderStatus
	Matched models.Fill
}

// Port is the order-execution contract both the paper and the live back end
// satisfy. All calls take a context with a per-call timeout so one slow
// venue call cannot stall the tick loop.
type Port interface {
	// PlaceResting submits a passive GTC buy at price for size shares.
	PlaceResting(ctx context.Context, tokenID string, price, size decimal.Decimal) (string, error)
	// PlaceAggressive submits a marketable fill-and-kill order bounded by
	// limit. The returned fill may be zero or partial; the remainder is
	// killed, never rested.
	PlaceAggressive(ctx context.Context, tokenID string, dir Direction, limit, size decimal.Decimal) (models.Fill, error)
	Cancel(ctx context.Context, orderID string) error
	Poll(ctx context.Context, orderID string) (OrderState, error)
	// CancelAll best-effort cancels every order this port still tracks as
	// open. Used on forced flats and shutdown.
	CancelAll(ctx context.Context) error
}

var (
	minTick  = decimal.RequireFromString("0.01")
	maxPrice = decimal.RequireFromString("0.99")
)

// validateOrder enforces the venue's price grid: prices on a 0.01 tick
// inside (0, 1), positive size.
func validateOrder(price, size decimal.Decimal) error {
	if size.IsZero() || size.IsNegative() {
		return fmt.Errorf("%w: size %s must be positive", ErrRejectedOrder, size)
	}
	if price.LessThan(minTick) || price.GreaterThan(maxPrice) {
		return fmt.Errorf("%w: price %s outside [0.01, 0.99]", ErrRejectedOrder, price)
	}
	if !price.Mod(minTick).IsZero() {
		return fmt.Errorf("%w: price %s not on 0.01 tick", ErrRejectedOrder, price)
	}
	return nil
}

// ClampPrice snaps a price onto the venue grid, rounding toward the passive
// side of the given direction and clamping into [0.01, 0.99].
func ClampPrice(price decimal.Decimal, dir Direction) decimal.Decimal {
	var snapped decimal.Decimal
	if dir == DirectionBuy {
		snapped = price.Div(minTick).Floor().Mul(minTick)
	} else {
		snapped = price.Div(minTick).Ceil().Mul(minTick)
	}
	if snapped.LessThan(minTick) {
		return minTick
	}
	if snapped.GreaterThan(maxPrice) {
		return maxPrice
	}
	return snapped
}
