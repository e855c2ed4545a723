package models

import "github.com/shopspring/decimal"

// Side is the outcome leg an order trades: YES or NO.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Fill is the executed portion of an order as reported by the execution port.
type Fill struct {
	Size     decimal.Decimal
	AvgPrice decimal.Decimal
}

func (f Fill) IsZero() bool {
	return f.Size.IsZero()
}
