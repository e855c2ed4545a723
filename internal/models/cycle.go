package models

import "time"

// MarketCycle identifies one 15-minute binary contract pair. It is created by
// market discovery and immutable afterwards; a new cycle replaces the old one
// entirely.
type MarketCycle struct {
	Slug        string
	Asset       string
	ConditionID string
	YesTokenID  string
	NoTokenID   string
	Expiry      time.Time
}

func (c MarketCycle) TimeToExpiry(now time.Time) time.Duration {
	return c.Expiry.Sub(now)
}

// TokenID maps a position side onto the instrument it trades.
func (c MarketCycle) TokenID(side Side) string {
	if side == SideYes {
		return c.YesTokenID
	}
	return c.NoTokenID
}
