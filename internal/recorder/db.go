package recorder

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"leggedarb/internal/models"
)

// DB persists events and cycle summaries through gorm. Optional; the bot
// runs fine on the JSONL sink alone.
type DB struct {
	db        *gorm.DB
	sessionID string
	sessionPK uint64
}

func NewDB(db *gorm.DB, session *Session) (*DB, error) {
	row := models.TradingSession{
		SessionID: session.ID,
		Asset:     session.Asset,
		Mode:      session.Mode,
		StartedAt: session.StartedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create trading session: %w", err)
	}
	return &DB{db: db, sessionID: session.ID, sessionPK: row.ID}, nil
}

func (d *DB) Record(ev models.RecorderEvent) error {
	snap, err := json.Marshal(ev.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	row := models.SessionEvent{
		SessionID:  d.sessionID,
		CycleSlug:  ev.CycleSlug,
		EventType:  ev.Type,
		FromState:  ev.FromState,
		ToState:    ev.ToState,
		Trigger:    ev.Trigger,
		Side:       string(ev.Side),
		OrderID:    ev.OrderID,
		Price:      ev.Price,
		Size:       ev.Size,
		Snapshot:   datatypes.JSON(snap),
		OccurredAt: ev.Timestamp,
	}
	if err := d.db.Create(&row).Error; err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}

func (d *DB) RecordCycle(rec *models.CycleRecord) error {
	rec.SessionID = d.sessionID
	if err := d.db.Create(rec).Error; err != nil {
		return fmt.Errorf("insert cycle record: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	now := time.Now().UTC()
	return d.db.Model(&models.TradingSession{}).
		Where("id = ?", d.sessionPK).
		Update("ended_at", now).Error
}
