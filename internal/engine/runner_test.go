package engine

import (
	"context"
	"testing"
	"time"

	"leggedarb/internal/clob"
	"leggedarb/internal/execution"
	"leggedarb/internal/ledger"
	"leggedarb/internal/models"
	"leggedarb/internal/quotes"
	"leggedarb/internal/recorder"
	"leggedarb/internal/safety"
)

// scriptSource replays one pair per tick, holding the last one afterwards.
type scriptSource struct {
	pairs []quotes.Pair
	i     int
}

func (s *scriptSource) Snapshot(context.Context) (quotes.Pair, error) {
	if s.i < len(s.pairs) {
		p := s.pairs[s.i]
		s.i++
		return p, nil
	}
	return s.pairs[len(s.pairs)-1], nil
}

func level(price, size string) clob.Level {
	return clob.Level{Price: d(price), Size: d(size)}
}

func bookPair(yesBids, yesAsks, noBids, noAsks []clob.Level) quotes.Pair {
	pair := quotes.Pair{
		Yes:     models.Quote{TokenID: "yes-token", Timestamp: time.Now().UTC()},
		No:      models.Quote{TokenID: "no-token", Timestamp: time.Now().UTC()},
		YesBook: &quotes.OrderBookView{Bids: yesBids, Asks: yesAsks},
		NoBook:  &quotes.OrderBookView{Bids: noBids, Asks: noAsks},
	}
	if len(yesBids) > 0 {
		pair.Yes.BestBid = &yesBids[0].Price
	}
	if len(yesAsks) > 0 {
		pair.Yes.BestAsk = &yesAsks[0].Price
	}
	if len(noBids) > 0 {
		pair.No.BestBid = &noBids[0].Price
	}
	if len(noAsks) > 0 {
		pair.No.BestAsk = &noAsks[0].Price
	}
	return pair
}

func newTestRunner(t *testing.T, src quotes.Source, expiry time.Duration) (*Runner, *recorder.Session) {
	t.Helper()
	session := recorder.NewSession("BTC", "paper")
	cycle := &models.MarketCycle{
		Slug:       "btc-up-or-down-test",
		Asset:      "BTC",
		YesTokenID: "yes-token",
		NoTokenID:  "no-token",
		Expiry:     time.Now().UTC().Add(expiry),
	}
	r := NewRunner(RunnerOptions{
		Params:       testParams(),
		TickInterval: time.Millisecond,
		Port:         execution.NewPaperPort(nil, false, 0, 7),
		Source:       src,
		Recorder:     session,
		Safety:       safety.NewController(d("0.05"), d("0.03"), d("0.05"), 2*time.Minute),
		Cycle:        cycle,
	})
	return r, session
}

func TestRunnerLocksProfitEndToEnd(t *testing.T) {
	// Tick 1: wide books, both entries rest. Tick 2: the YES ask collapses
	// through the resting bid; the leg fills and the NO ask still locks.
	src := &scriptSource{pairs: []quotes.Pair{
		bookPair(
			[]clob.Level{level("0.45", "100")}, []clob.Level{level("0.51", "100")},
			[]clob.Level{level("0.47", "100")}, []clob.Level{level("0.53", "100")},
		),
		bookPair(
			[]clob.Level{level("0.35", "100")}, []clob.Level{level("0.41", "100")},
			[]clob.Level{level("0.47", "100")}, []clob.Level{level("0.53", "100")},
		),
	}}
	r, session := newTestRunner(t, src, 10*time.Minute)
	ctx := context.Background()

	r.tick(ctx)
	if r.pos.State != ledger.StateNeutral {
		t.Fatalf("after tick 1: %s", r.pos.State)
	}
	if len(r.open) != 2 {
		t.Fatalf("open orders = %d", len(r.open))
	}

	r.tick(ctx)
	if r.pos.State != ledger.StateLocked {
		t.Fatalf("after tick 2: %s", r.pos.State)
	}
	// YES filled at the improved 0.41 ask, NO hedged at 0.53.
	cost, ok := r.pos.CombinedCost()
	if !ok || !cost.Equal(d("0.94")) {
		t.Fatalf("combined cost = %s ok=%v", cost, ok)
	}

	res := r.finalize()
	if res.Record.Status != models.CycleStatusLocked {
		t.Fatalf("status = %s", res.Record.Status)
	}
	if !res.Record.LockedProfit.IsPositive() {
		t.Fatalf("locked profit = %s", res.Record.LockedProfit)
	}
	if session.Stats().EventCounts[models.EventFillObserved] < 2 {
		t.Fatal("expected fill events for both legs")
	}
}

func TestRunnerStopLossForcesFlat(t *testing.T) {
	// Tick 2 fills the YES leg while the NO ask is already ruinous:
	// 0.41 + 0.70 - 1 = 0.11 > 0.05 stop loss.
	src := &scriptSource{pairs: []quotes.Pair{
		bookPair(
			[]clob.Level{level("0.45", "100")}, []clob.Level{level("0.51", "100")},
			[]clob.Level{level("0.47", "100")}, []clob.Level{level("0.53", "100")},
		),
		bookPair(
			[]clob.Level{level("0.40", "100")}, []clob.Level{level("0.41", "100")},
			[]clob.Level{level("0.62", "100")}, []clob.Level{level("0.70", "100")},
		),
	}}
	r, _ := newTestRunner(t, src, 10*time.Minute)
	ctx := context.Background()

	r.tick(ctx)
	r.tick(ctx)

	if r.pos.State != ledger.StateFlat {
		t.Fatalf("state = %s", r.pos.State)
	}
	if r.lastTrigger != safety.TriggerStopLoss {
		t.Fatalf("trigger = %s", r.lastTrigger)
	}
	if len(r.open) != 0 {
		t.Fatalf("open orders = %d", len(r.open))
	}
	res := r.finalize()
	if res.Record.Status != models.CycleStatusStopped {
		t.Fatalf("status = %s", res.Record.Status)
	}
	if !res.Record.Pnl.IsNegative() {
		t.Fatalf("stop loss pnl = %s", res.Record.Pnl)
	}
}

// errorSource yields one good pair and then fails every snapshot.
type errorSource struct {
	pair  quotes.Pair
	calls int
}

func (s *errorSource) Snapshot(context.Context) (quotes.Pair, error) {
	s.calls++
	if s.calls == 1 {
		return s.pair, nil
	}
	return quotes.Pair{}, quotes.ErrStaleQuote
}

func TestRunnerStopLossUsesLastKnownQuotes(t *testing.T) {
	// The only fresh snapshot carries a ruinous NO ask. The position legs
	// afterwards, while every later snapshot is stale; the stop loss must
	// still fire off the last-known ask instead of going blind.
	src := &errorSource{pair: bookPair(
		[]clob.Level{level("0.40", "100")}, []clob.Level{level("0.46", "100")},
		[]clob.Level{level("0.62", "100")}, []clob.Level{level("0.70", "100")},
	)}
	r, _ := newTestRunner(t, src, 10*time.Minute)
	ctx := context.Background()

	r.tick(ctx)
	if r.pos.State != ledger.StateNeutral {
		t.Fatalf("after tick 1: %s", r.pos.State)
	}

	// 0.41 + 0.70 - 1 = 0.11 breaches the 0.05 stop loss.
	r.pos.ApplyFill(models.SideYes, models.Fill{Size: d("20"), AvgPrice: d("0.41")})
	r.pos.Resolve(d("0.03"))

	r.tick(ctx)
	if r.pos.State != ledger.StateFlat {
		t.Fatalf("state = %s", r.pos.State)
	}
	if r.lastTrigger != safety.TriggerStopLoss {
		t.Fatalf("trigger = %s", r.lastTrigger)
	}
}

func TestRunnerExpiryCancelsNeutralQuotes(t *testing.T) {
	src := &scriptSource{pairs: []quotes.Pair{
		bookPair(
			[]clob.Level{level("0.45", "100")}, []clob.Level{level("0.51", "100")},
			[]clob.Level{level("0.47", "100")}, []clob.Level{level("0.53", "100")},
		),
	}}
	// Expiry already in the past: the first tick must refuse to quote and
	// force flat with nothing to unwind.
	r, _ := newTestRunner(t, src, -time.Second)
	r.tick(context.Background())

	if r.pos.State != ledger.StateFlat {
		t.Fatalf("state = %s", r.pos.State)
	}
	if len(r.open) != 0 {
		t.Fatalf("open orders = %d", len(r.open))
	}
	res := r.finalize()
	if res.Record.Status != models.CycleStatusExpired {
		t.Fatalf("status = %s", res.Record.Status)
	}
}

func TestRunnerRunReturnsOnLock(t *testing.T) {
	src := &scriptSource{pairs: []quotes.Pair{
		bookPair(
			[]clob.Level{level("0.45", "100")}, []clob.Level{level("0.51", "100")},
			[]clob.Level{level("0.47", "100")}, []clob.Level{level("0.53", "100")},
		),
		bookPair(
			[]clob.Level{level("0.35", "100")}, []clob.Level{level("0.41", "100")},
			[]clob.Level{level("0.47", "100")}, []clob.Level{level("0.53", "100")},
		),
	}}
	r, _ := newTestRunner(t, src, 10*time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalState != ledger.StateLocked {
		t.Fatalf("final state = %s", res.FinalState)
	}
}
