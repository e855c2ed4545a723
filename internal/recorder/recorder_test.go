package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"leggedarb/internal/models"
)

func TestJSONLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJSONL(dir, "abc123")
	if err != nil {
		t.Fatalf("NewJSONL: %v", err)
	}

	price := decimal.RequireFromString("0.45")
	ev := models.RecorderEvent{
		Timestamp: time.Now().UTC(),
		Type:      models.EventOrderPlaced,
		CycleSlug: "btc-up-or-down-test",
		Side:      models.SideYes,
		OrderID:   "o1",
		Price:     &price,
		Snapshot:  models.PositionSnapshot{State: "NEUTRAL"},
	}
	if err := j.Record(ev); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := j.RecordCycle(&models.CycleRecord{CycleSlug: "btc-up-or-down-test", Status: models.CycleStatusLocked}); err != nil {
		t.Fatalf("RecordCycle: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("session files: %v err=%v", entries, err)
	}
	if !strings.HasSuffix(entries[0].Name(), "_abc123.jsonl") {
		t.Fatalf("file name: %s", entries[0].Name())
	}

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	if lines[0]["type"] != models.EventOrderPlaced || lines[1]["type"] != "cycle_summary" {
		t.Fatalf("line types: %v %v", lines[0]["type"], lines[1]["type"])
	}
}

func TestSessionStats(t *testing.T) {
	s := NewSession("BTC", "paper")
	_ = s.Record(models.RecorderEvent{Type: models.EventFillObserved})
	_ = s.Record(models.RecorderEvent{Type: models.EventFillObserved})
	_ = s.RecordCycle(&models.CycleRecord{Status: models.CycleStatusLocked, LockedProfit: decimal.RequireFromString("0.70"), Pnl: decimal.RequireFromString("0.70")})
	_ = s.RecordCycle(&models.CycleRecord{Status: models.CycleStatusStopped, Pnl: decimal.RequireFromString("-0.30")})
	_ = s.RecordCycle(&models.CycleRecord{Status: models.CycleStatusExpired})

	st := s.Stats()
	if st.Cycles != 3 || st.Locked != 1 || st.Stopped != 1 || st.Expired != 1 {
		t.Fatalf("stats: %+v", st)
	}
	if !st.LockedProfit.Equal(decimal.RequireFromString("0.70")) {
		t.Fatalf("locked profit: %s", st.LockedProfit)
	}
	if !st.NetPnl.Equal(decimal.RequireFromString("0.40")) {
		t.Fatalf("net pnl: %s", st.NetPnl)
	}
	if st.WinRate() < 0.33 || st.WinRate() > 0.34 {
		t.Fatalf("win rate: %f", st.WinRate())
	}
	if st.EventCounts[models.EventFillObserved] != 2 {
		t.Fatalf("event counts: %v", st.EventCounts)
	}
}

type failingSink struct{ calls int }

func (f *failingSink) Record(models.RecorderEvent) error     { f.calls++; return errors.New("boom") }
func (f *failingSink) RecordCycle(*models.CycleRecord) error { f.calls++; return errors.New("boom") }
func (f *failingSink) Close() error                          { return nil }

func TestMultiKeepsFeedingAfterFailure(t *testing.T) {
	bad := &failingSink{}
	s := NewSession("BTC", "paper")
	m := &Multi{Sinks: []Recorder{bad, s}}

	if err := m.Record(models.RecorderEvent{Type: models.EventOrderPlaced}); err == nil {
		t.Fatal("expected the sink error to surface")
	}
	if s.Stats().EventCounts[models.EventOrderPlaced] != 1 {
		t.Fatal("healthy sink was starved")
	}
}
