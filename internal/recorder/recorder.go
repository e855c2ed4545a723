package recorder

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"leggedarb/internal/models"
)

// Recorder is an append-only sink for session events and cycle summaries.
// The decision core never reads anything back from it.
type Recorder interface {
	Record(ev models.RecorderEvent) error
	RecordCycle(rec *models.CycleRecord) error
	Close() error
}

// Multi fans every event out to all sinks, returning the first error but
// still feeding the rest. One broken sink must not starve the others.
type Multi struct {
	Sinks []Recorder
}

func (m *Multi) Record(ev models.RecorderEvent) error {
	var firstErr error
	for _, s := range m.Sinks {
		if err := s.Record(ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Multi) RecordCycle(rec *models.CycleRecord) error {
	var firstErr error
	for _, s := range m.Sinks {
		if err := s.RecordCycle(rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Multi) Close() error {
	var firstErr error
	for _, s := range m.Sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Session aggregates run-level statistics for the periodic summary log. It
// is a sink of its own so it can sit inside a Multi.
type Session struct {
	ID        string
	Asset     string
	Mode      string
	StartedAt time.Time

	mu           sync.Mutex
	eventCounts  map[string]int
	cycles       int
	locked       int
	stopped      int
	expired      int
	lockedProfit decimal.Decimal
	netPnl       decimal.Decimal
}

func NewSession(asset, mode string) *Session {
	return &Session{
		ID:          uuid.NewString(),
		Asset:       asset,
		Mode:        mode,
		StartedAt:   time.Now().UTC(),
		eventCounts: make(map[string]int),
	}
}

func (s *Session) Record(ev models.RecorderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventCounts[ev.Type]++
	return nil
}

func (s *Session) RecordCycle(rec *models.CycleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	s.netPnl = s.netPnl.Add(rec.Pnl)
	switch rec.Status {
	case models.CycleStatusLocked:
		s.locked++
		s.lockedProfit = s.lockedProfit.Add(rec.LockedProfit)
	case models.CycleStatusStopped:
		s.stopped++
	default:
		s.expired++
	}
	return nil
}

func (s *Session) Close() error { return nil }

// Stats is a point-in-time copy of the session counters.
type Stats struct {
	SessionID    string
	Uptime       time.Duration
	Cycles       int
	Locked       int
	Stopped      int
	Expired      int
	LockedProfit decimal.Decimal
	NetPnl       decimal.Decimal
	EventCounts  map[string]int
}

// WinRate is the fraction of finished cycles that locked profit.
func (st Stats) WinRate() float64 {
	if st.Cycles == 0 {
		return 0
	}
	return float64(st.Locked) / float64(st.Cycles)
}

// Summary is the one-line form logged by the cron job and on shutdown.
func (st Stats) Summary() string {
	return fmt.Sprintf("cycles=%d locked=%d stopped=%d expired=%d win_rate=%.2f locked_profit=%s net_pnl=%s uptime=%s",
		st.Cycles, st.Locked, st.Stopped, st.Expired, st.WinRate(),
		st.LockedProfit.String(), st.NetPnl.String(), st.Uptime.Round(time.Second))
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(s.eventCounts))
	for k, v := range s.eventCounts {
		counts[k] = v
	}
	return Stats{
		SessionID:    s.ID,
		Uptime:       time.Since(s.StartedAt),
		Cycles:       s.cycles,
		Locked:       s.locked,
		Stopped:      s.stopped,
		Expired:      s.expired,
		LockedProfit: s.lockedProfit,
		NetPnl:       s.netPnl,
		EventCounts:  counts,
	}
}
