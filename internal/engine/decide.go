package engine

import (
	"github.com/shopspring/decimal"

	"leggedarb/internal/execution"
	"leggedarb/internal/ledger"
	"leggedarb/internal/models"
	"leggedarb/internal/quotes"
	"leggedarb/internal/safety"
)

type CommandType string

const (
	CmdPlaceResting    CommandType = "place_resting"
	CmdCancelOrder     CommandType = "cancel_order"
	CmdPlaceAggressive CommandType = "place_aggressive"
	CmdCancelAll       CommandType = "cancel_all"
)

// Command is one order action the tick wants executed. Decide emits at most
// one net set of commands per tick; execution order follows slice order.
type Command struct {
	Type      CommandType
	Side      models.Side
	TokenID   string
	Direction execution.Direction
	Price     decimal.Decimal
	Size      decimal.Decimal
	OrderID   string
	Reason    string
}

// RestingOrder is the tick's view of one of its own open passive orders.
type RestingOrder struct {
	ID    string
	Side  models.Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Params are the per-run thresholds the decision step needs, already in
// decimal form.
type Params struct {
	TargetMargin     decimal.Decimal
	MinProfit        decimal.Decimal
	PositionSize     decimal.Decimal
	RequoteTolerance decimal.Decimal
}

// TickInput is everything one decision step may look at. Pos is read-only
// here; fills were applied and the state resolved before Decide runs.
type TickInput struct {
	Params   Params
	Cycle    *models.MarketCycle
	Pos      *ledger.Position
	Pair     quotes.Pair
	QuotesOK bool
	Safety   safety.Decision
	Open     []RestingOrder
}

var (
	one    = decimal.NewFromInt(1)
	tick   = decimal.RequireFromString("0.01")
	nickel = decimal.RequireFromString("0.05")
)

// Decide is the pure decision step: no I/O, no clock, no mutation. Given the
// same input it always emits the same commands.
func Decide(in TickInput) []Command {
	if in.Safety.ForceFlat {
		return flattenCommands(in)
	}

	switch in.Pos.State {
	case ledger.StateLocked, ledger.StateFlat:
		if len(in.Open) > 0 {
			return []Command{{Type: CmdCancelAll, Reason: "terminal state"}}
		}
		return nil
	case ledger.StateNeutral:
		return neutralCommands(in)
	default:
		return leggedCommands(in)
	}
}

func flattenCommands(in TickInput) []Command {
	cmds := []Command{{Type: CmdCancelAll, Reason: in.Safety.Trigger}}
	if !in.Pos.State.Legged() {
		return cmds
	}
	side := in.Pos.FilledSide()
	leg := in.Pos.Leg(side)
	exposure := leg.Filled.Sub(in.Pos.Leg(side.Opposite()).Filled)
	if !exposure.IsPositive() {
		return cmds
	}
	// Sell the exposed leg at market, giving up a nickel below the bid to
	// make sure it goes.
	limit := execution.ClampPrice(tick, execution.DirectionSell)
	if in.QuotesOK {
		if bid := sideQuote(in, side).BestBid; bid != nil {
			limit = execution.ClampPrice(bid.Sub(nickel), execution.DirectionSell)
		}
	}
	cmds = append(cmds, Command{
		Type:      CmdPlaceAggressive,
		Side:      side,
		TokenID:   in.Cycle.TokenID(side),
		Direction: execution.DirectionSell,
		Price:     limit,
		Size:      exposure,
		Reason:    in.Safety.Trigger,
	})
	return cmds
}

// neutralCommands rests one discounted bid per side, re-quoting only when
// the desired price drifts outside tolerance.
func neutralCommands(in TickInput) []Command {
	if !in.Safety.AllowQuoting {
		// No new quotes inside the gamma window; orders already resting
		// keep working until filled or expiry.
		return nil
	}
	if !in.QuotesOK {
		return nil
	}
	var cmds []Command
	for _, side := range []models.Side{models.SideYes, models.SideNo} {
		cmds = append(cmds, restSide(in, side, in.Params.TargetMargin)...)
	}
	return cmds
}

func restSide(in TickInput, side models.Side, margin decimal.Decimal) []Command {
	q := sideQuote(in, side)
	fair, ok := q.Mid()
	if !ok {
		return nil
	}
	desired := execution.ClampPrice(fair.Mul(one.Sub(margin)), execution.DirectionBuy)
	if q.BestAsk != nil && desired.GreaterThanOrEqual(*q.BestAsk) {
		// Stay passive: never rest through the ask.
		desired = execution.ClampPrice(q.BestAsk.Sub(tick), execution.DirectionBuy)
	}
	if desired.LessThan(tick) {
		return nil
	}
	size := in.Params.PositionSize.Div(desired).RoundFloor(2)
	if !size.IsPositive() {
		return nil
	}

	existing := findOrder(in.Open, side)
	if existing != nil {
		if existing.Price.Sub(desired).Abs().LessThanOrEqual(in.Params.RequoteTolerance) {
			return nil
		}
		return []Command{
			{Type: CmdCancelOrder, Side: side, OrderID: existing.ID, Reason: "requote"},
			{Type: CmdPlaceResting, Side: side, TokenID: in.Cycle.TokenID(side), Direction: execution.DirectionBuy, Price: desired, Size: size, Reason: "requote"},
		}
	}
	return []Command{
		{Type: CmdPlaceResting, Side: side, TokenID: in.Cycle.TokenID(side), Direction: execution.DirectionBuy, Price: desired, Size: size, Reason: "entry"},
	}
}

// leggedCommands drops the filled side's resting order and works the hedge:
// aggressive when the counter ask locks profit, passive otherwise.
func leggedCommands(in TickInput) []Command {
	var cmds []Command
	filledSide := in.Pos.FilledSide()
	hedgeSide := filledSide.Opposite()
	filled := in.Pos.Leg(filledSide)
	hedgeTarget := filled.Filled.Sub(in.Pos.Leg(hedgeSide).Filled)

	if stale := findOrder(in.Open, filledSide); stale != nil {
		cmds = append(cmds, Command{Type: CmdCancelOrder, Side: filledSide, OrderID: stale.ID, Reason: "legged"})
	}
	if !hedgeTarget.IsPositive() {
		return cmds
	}
	if !in.QuotesOK {
		return cmds
	}

	q := sideQuote(in, hedgeSide)
	aggLimit := execution.ClampPrice(one.Sub(in.Params.MinProfit).Sub(filled.AvgPrice), execution.DirectionBuy)
	if q.BestAsk != nil && q.BestAsk.LessThanOrEqual(aggLimit) {
		if resting := findOrder(in.Open, hedgeSide); resting != nil {
			cmds = append(cmds, Command{Type: CmdCancelOrder, Side: hedgeSide, OrderID: resting.ID, Reason: "hedge aggressive"})
		}
		cmds = append(cmds, Command{
			Type:      CmdPlaceAggressive,
			Side:      hedgeSide,
			TokenID:   in.Cycle.TokenID(hedgeSide),
			Direction: execution.DirectionBuy,
			Price:     aggLimit,
			Size:      hedgeTarget,
			Reason:    "hedge",
		})
		return cmds
	}

	if !in.Safety.AllowQuoting {
		if resting := findOrder(in.Open, hedgeSide); resting != nil {
			cmds = append(cmds, Command{Type: CmdCancelOrder, Side: hedgeSide, OrderID: resting.ID, Reason: in.Safety.Trigger})
		}
		return cmds
	}

	// Passive hedge bid at the relaxed margin.
	desired := execution.ClampPrice(one.Sub(in.Safety.HedgeMargin).Sub(filled.AvgPrice), execution.DirectionBuy)
	if q.BestAsk != nil && desired.GreaterThanOrEqual(*q.BestAsk) {
		desired = execution.ClampPrice(q.BestAsk.Sub(tick), execution.DirectionBuy)
	}
	if desired.LessThan(tick) {
		return cmds
	}
	existing := findOrder(in.Open, hedgeSide)
	if existing != nil {
		if existing.Price.Sub(desired).Abs().LessThanOrEqual(in.Params.RequoteTolerance) && existing.Size.Equal(hedgeTarget) {
			return cmds
		}
		cmds = append(cmds, Command{Type: CmdCancelOrder, Side: hedgeSide, OrderID: existing.ID, Reason: "requote"})
	}
	cmds = append(cmds, Command{
		Type:      CmdPlaceResting,
		Side:      hedgeSide,
		TokenID:   in.Cycle.TokenID(hedgeSide),
		Direction: execution.DirectionBuy,
		Price:     desired,
		Size:      hedgeTarget,
		Reason:    "hedge passive",
	})
	return cmds
}

func sideQuote(in TickInput, side models.Side) models.Quote {
	if side == models.SideYes {
		return in.Pair.Yes
	}
	return in.Pair.No
}

func findOrder(open []RestingOrder, side models.Side) *RestingOrder {
	for i := range open {
		if open[i].Side == side {
			return &open[i]
		}
	}
	return nil
}
