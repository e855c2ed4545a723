package safety

import (
	"time"

	"github.com/shopspring/decimal"

	"leggedarb/internal/ledger"
)

// Trigger names are stable identifiers written to the session recorder.
const (
	TriggerGammaStop = "gamma_stop"
	TriggerStopLoss  = "stop_loss"
	TriggerExpiry    = "expiry_hard_stop"
)

// Decision is what the controller allows this tick. ForceFlat overrides
// everything downstream; the state machine never re-enters after it.
type Decision struct {
	AllowQuoting bool
	ForceFlat    bool
	Trigger      string
	// HedgeMargin is the effective margin the passive hedge must clear. It
	// relaxes toward min_profit as expiry approaches so a legged position
	// still gets hedged rather than carried into the gamma window.
	HedgeMargin decimal.Decimal
}

type Controller struct {
	targetMargin decimal.Decimal
	minProfit    decimal.Decimal
	stopLoss     decimal.Decimal
	gammaStop    time.Duration
}

func NewController(targetMargin, minProfit, stopLoss decimal.Decimal, gammaStop time.Duration) *Controller {
	return &Controller{
		targetMargin: targetMargin,
		minProfit:    minProfit,
		stopLoss:     stopLoss,
		gammaStop:    gammaStop,
	}
}

// Evaluate runs the three safety checks in precedence order. counterAsk is
// the best ask of the unfilled side, nil when the book is empty or the quote
// was stale; the stop loss cannot fire without it.
func (c *Controller) Evaluate(pos *ledger.Position, counterAsk *decimal.Decimal, timeToExpiry time.Duration) Decision {
	dec := Decision{
		AllowQuoting: true,
		HedgeMargin:  c.hedgeMargin(timeToExpiry),
	}

	// A locked position is structurally safe; never touch it.
	if pos.State == ledger.StateLocked || pos.State == ledger.StateFlat {
		dec.AllowQuoting = false
		return dec
	}

	if timeToExpiry <= c.gammaStop {
		dec.AllowQuoting = false
		dec.Trigger = TriggerGammaStop
	}

	if pos.State.Legged() && counterAsk != nil {
		filled := pos.Leg(pos.FilledSide())
		loss := filled.AvgPrice.Add(*counterAsk).Sub(decimal.NewFromInt(1))
		if loss.GreaterThan(c.stopLoss) {
			dec.ForceFlat = true
			dec.AllowQuoting = false
			dec.Trigger = TriggerStopLoss
			return dec
		}
	}

	if timeToExpiry <= 0 {
		dec.ForceFlat = true
		dec.AllowQuoting = false
		dec.Trigger = TriggerExpiry
	}
	return dec
}

// hedgeMargin interpolates linearly from target_margin at twice the gamma
// window down to min_profit at the window edge and inside it.
func (c *Controller) hedgeMargin(timeToExpiry time.Duration) decimal.Decimal {
	if c.gammaStop <= 0 || timeToExpiry >= 2*c.gammaStop {
		return c.targetMargin
	}
	if timeToExpiry <= c.gammaStop {
		return c.minProfit
	}
	// Fraction of the way from the window edge back to 2x the window.
	frac := decimal.NewFromFloat(float64(timeToExpiry-c.gammaStop) / float64(c.gammaStop))
	return c.minProfit.Add(c.targetMargin.Sub(c.minProfit).Mul(frac))
}
