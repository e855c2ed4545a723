package ledger

import (
	"github.com/shopspring/decimal"

	"leggedarb/internal/models"
)

// State is where the cycle's position sits in its lifecycle. FLAT is
// terminal for trading; a flattened cycle never re-enters NEUTRAL.
type State string

const (
	StateNeutral   State = "NEUTRAL"
	StateLeggedYes State = "LEGGED_YES"
	StateLeggedNo  State = "LEGGED_NO"
	StateLocked    State = "LOCKED"
	StateFlat      State = "FLAT"
)

func (s State) Terminal() bool {
	return s == StateLocked || s == StateFlat
}

func (s State) Legged() bool {
	return s == StateLeggedYes || s == StateLeggedNo
}

// Leg accumulates fills for one side. AvgPrice is size-weighted across all
// fills of the leg.
type Leg struct {
	Side     models.Side
	Filled   decimal.Decimal
	AvgPrice decimal.Decimal
}

func (l *Leg) HasFill() bool {
	return l.Filled.IsPositive()
}

// ApplyFill folds one fill into the leg's weighted average.
func (l *Leg) ApplyFill(f models.Fill) {
	if f.Size.IsZero() || f.Size.IsNegative() {
		return
	}
	total := l.Filled.Add(f.Size)
	l.AvgPrice = l.AvgPrice.Mul(l.Filled).Add(f.AvgPrice.Mul(f.Size)).Div(total)
	l.Filled = total
}

// Cost is the leg's total premium paid.
func (l *Leg) Cost() decimal.Decimal {
	return l.AvgPrice.Mul(l.Filled)
}

// Position is the single live position of one market cycle. Mutated only by
// the tick currently running; no internal locking.
type Position struct {
	State State
	Yes   Leg
	No    Leg
}

func NewPosition() *Position {
	return &Position{
		State: StateNeutral,
		Yes:   Leg{Side: models.SideYes},
		No:    Leg{Side: models.SideNo},
	}
}

func (p *Position) Leg(side models.Side) *Leg {
	if side == models.SideYes {
		return &p.Yes
	}
	return &p.No
}

// FilledSide returns the legged side. Only meaningful in LEGGED_* states.
func (p *Position) FilledSide() models.Side {
	if p.State == StateLeggedNo {
		return models.SideNo
	}
	return models.SideYes
}

func (p *Position) ApplyFill(side models.Side, f models.Fill) {
	p.Leg(side).ApplyFill(f)
}

// CombinedCost is yes.avg + no.avg, the per-share cost of the hedged pair.
// Undefined until both legs have nonzero fills.
func (p *Position) CombinedCost() (decimal.Decimal, bool) {
	if !p.Yes.HasFill() || !p.No.HasFill() {
		return decimal.Zero, false
	}
	return p.Yes.AvgPrice.Add(p.No.AvgPrice), true
}

// Resolve recomputes the state from fills. It moves the position forward
// only; FLAT and LOCKED are sticky, and forcing FLAT is the caller's job.
func (p *Position) Resolve(minProfit decimal.Decimal) State {
	if p.State.Terminal() {
		return p.State
	}
	if cost, ok := p.CombinedCost(); ok {
		if cost.LessThan(decimal.NewFromInt(1).Sub(minProfit)) {
			p.State = StateLocked
		} else if p.State == StateNeutral {
			// Both legs filled in the same tick at a combined cost that
			// does not lock; stay legged on the larger side and let the
			// next tick's hedge evaluation decide.
			if p.Yes.Filled.GreaterThanOrEqual(p.No.Filled) {
				p.State = StateLeggedYes
			} else {
				p.State = StateLeggedNo
			}
		}
		return p.State
	}
	switch {
	case p.Yes.HasFill():
		p.State = StateLeggedYes
	case p.No.HasFill():
		p.State = StateLeggedNo
	}
	return p.State
}

// ForceFlat marks the cycle closed for trading. No re-entry afterwards.
func (p *Position) ForceFlat() {
	p.State = StateFlat
}

// LockedProfit is the guaranteed per-share profit of a LOCKED position,
// 1 - combined_cost. Zero when not locked.
func (p *Position) LockedProfit() decimal.Decimal {
	if p.State != StateLocked {
		return decimal.Zero
	}
	cost, ok := p.CombinedCost()
	if !ok {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).Sub(cost)
}

// Snapshot captures the position for the session recorder.
func (p *Position) Snapshot(openOrders int) models.PositionSnapshot {
	snap := models.PositionSnapshot{
		State:       string(p.State),
		YesFilled:   p.Yes.Filled,
		YesAvgPrice: p.Yes.AvgPrice,
		NoFilled:    p.No.Filled,
		NoAvgPrice:  p.No.AvgPrice,
		OpenOrders:  openOrders,
	}
	if cost, ok := p.CombinedCost(); ok {
		snap.CombinedCost = &cost
	}
	return snap
}
