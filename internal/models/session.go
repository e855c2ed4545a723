package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TradingSession is one bot run; keyed by the run start time.
type TradingSession struct {
	ID        uint64     `gorm:"primaryKey;autoIncrement"`
	SessionID string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	Asset     string     `gorm:"type:varchar(10);not null"`
	Mode      string     `gorm:"type:varchar(10);not null"`
	StartedAt time.Time  `gorm:"type:timestamptz;not null"`
	EndedAt   *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (TradingSession) TableName() string {
	return "trading_sessions"
}

// SessionEvent is one recorder event row. Snapshot carries the position
// snapshot as JSON so offline reporting can replay a run without schema churn.
type SessionEvent struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"type:varchar(64);not null;index"`
	CycleSlug string `gorm:"type:varchar(120);index"`

	EventType string `gorm:"type:varchar(30);not null;index"`
	FromState string `gorm:"type:varchar(20)"`
	ToState   string `gorm:"type:varchar(20)"`
	Trigger   string `gorm:"type:varchar(60)"`

	Side    string           `gorm:"type:varchar(5)"`
	OrderID string           `gorm:"type:varchar(100)"`
	Price   *decimal.Decimal `gorm:"type:numeric(20,10)"`
	Size    *decimal.Decimal `gorm:"type:numeric(30,10)"`

	Snapshot datatypes.JSON `gorm:"type:jsonb"`

	OccurredAt time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (SessionEvent) TableName() string {
	return "session_events"
}

// Terminal statuses of a CycleRecord.
const (
	CycleStatusOpen    = "OPEN"
	CycleStatusLocked  = "LOCKED"
	CycleStatusStopped = "STOPPED"
	CycleStatusExpired = "EXPIRED"
)

// CycleRecord summarizes one market cycle: entry legs, combined cost and how
// the cycle ended (LOCKED, STOPPED, EXPIRED).
type CycleRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"type:varchar(64);not null;index"`
	CycleSlug string `gorm:"type:varchar(120);not null;index"`
	Asset     string `gorm:"type:varchar(10);not null"`

	YesEntryPrice *decimal.Decimal `gorm:"type:numeric(20,10)"`
	YesEntryQty   *decimal.Decimal `gorm:"type:numeric(30,10)"`
	NoEntryPrice  *decimal.Decimal `gorm:"type:numeric(20,10)"`
	NoEntryQty    *decimal.Decimal `gorm:"type:numeric(30,10)"`

	TotalCost    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	LockedProfit decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	// Pnl is the cycle's realized result: locked profit for LOCKED cycles,
	// unwind proceeds minus cost otherwise.
	Pnl decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	Status    string     `gorm:"type:varchar(20);not null;default:'OPEN';index"`
	StartedAt time.Time  `gorm:"type:timestamptz;not null"`
	EndedAt   *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (CycleRecord) TableName() string {
	return "cycle_records"
}
