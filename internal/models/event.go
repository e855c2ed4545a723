package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session recorder event types. Every state transition, fill and order action
// in a run produces exactly one of these; the recorder is append-only and the
// core never reads it back.
const (
	EventStateTransition = "state_transition"
	EventFillObserved    = "fill_observed"
	EventOrderPlaced     = "order_placed"
	EventOrderCanceled   = "order_canceled"
	EventSafetyTriggered = "safety_triggered"
)

type RecorderEvent struct {
	Timestamp time.Time        `json:"timestamp"`
	Type      string           `json:"type"`
	CycleSlug string           `json:"cycle_slug"`
	FromState string           `json:"from_state,omitempty"`
	ToState   string           `json:"to_state,omitempty"`
	Trigger   string           `json:"trigger,omitempty"`
	Side      Side             `json:"side,omitempty"`
	OrderID   string           `json:"order_id,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Size      *decimal.Decimal `json:"size,omitempty"`
	Snapshot  PositionSnapshot `json:"snapshot"`
}

// PositionSnapshot is the full relevant position state at event time.
type PositionSnapshot struct {
	State        string           `json:"state"`
	YesFilled    decimal.Decimal  `json:"yes_filled"`
	YesAvgPrice  decimal.Decimal  `json:"yes_avg_price"`
	NoFilled     decimal.Decimal  `json:"no_filled"`
	NoAvgPrice   decimal.Decimal  `json:"no_avg_price"`
	CombinedCost *decimal.Decimal `json:"combined_cost,omitempty"`
	OpenOrders   int              `json:"open_orders"`
}
