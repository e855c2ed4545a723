package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"leggedarb/internal/execution"
	"leggedarb/internal/ledger"
	"leggedarb/internal/models"
	"leggedarb/internal/quotes"
	"leggedarb/internal/recorder"
	"leggedarb/internal/safety"
)

// BookSink is implemented by the paper port, which needs each tick's depth
// to match resting orders against.
type BookSink interface {
	SetBooks(pair quotes.Pair)
}

type RunnerOptions struct {
	Log          *zap.Logger
	Params       Params
	TickInterval time.Duration
	CallTimeout  time.Duration
	Port         execution.Port
	Source       quotes.Source
	Recorder     recorder.Recorder
	Safety       *safety.Controller
	Cycle        *models.MarketCycle
	Now          func() time.Time
}

// CycleResult is what one finished cycle reports back to the session loop.
type CycleResult struct {
	FinalState ledger.State
	Trigger    string
	Record     *models.CycleRecord
}

// Runner drives one market cycle: a single evaluation loop in which each
// tick polls fills, applies them, runs the safety controller, decides and
// executes order commands. No two ticks run concurrently.
type Runner struct {
	opts RunnerOptions
	log  *zap.Logger

	pos            *ledger.Position
	open           map[string]*openOrder
	startedAt      time.Time
	lastTrigger    string
	unwindProceeds decimal.Decimal
	lastPair       quotes.Pair
	haveLastPair   bool
	status         atomic.Value
}

// StatusView is a read-only copy of the cycle state for the HTTP surface.
type StatusView struct {
	CycleSlug    string                  `json:"cycle_slug"`
	Expiry       time.Time               `json:"expiry"`
	LastTickAt   time.Time               `json:"last_tick_at"`
	SafetyActive string                  `json:"safety_trigger,omitempty"`
	Position     models.PositionSnapshot `json:"position"`
}

// Status returns the view published by the latest tick; ok is false before
// the first tick completes.
func (r *Runner) Status() (StatusView, bool) {
	v, ok := r.status.Load().(StatusView)
	return v, ok
}

func (r *Runner) publishStatus(now time.Time) {
	r.status.Store(StatusView{
		CycleSlug:    r.opts.Cycle.Slug,
		Expiry:       r.opts.Cycle.Expiry,
		LastTickAt:   now,
		SafetyActive: r.lastTrigger,
		Position:     r.pos.Snapshot(len(r.open)),
	})
}

type openOrder struct {
	id    string
	side  models.Side
	price decimal.Decimal
	size  decimal.Decimal
	seen  decimal.Decimal
}

func NewRunner(opts RunnerOptions) *Runner {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 3 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		opts:      opts,
		log:       log.With(zap.String("cycle", opts.Cycle.Slug)),
		pos:       ledger.NewPosition(),
		open:      make(map[string]*openOrder),
		startedAt: opts.Now().UTC(),
	}
}

// Run ticks until the position reaches a terminal state or the cycle
// expires. On the way out, including context cancellation, it best-effort
// cancels everything still resting.
func (r *Runner) Run(ctx context.Context) (*CycleResult, error) {
	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()
	defer r.shutdownCancel()

	r.log.Info("cycle started",
		zap.String("asset", r.opts.Cycle.Asset),
		zap.Time("expiry", r.opts.Cycle.Expiry))

	for {
		select {
		case <-ctx.Done():
			r.log.Warn("cycle interrupted", zap.Error(ctx.Err()))
			return r.finalize(), ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
			if r.pos.State == ledger.StateFlat || r.pos.State == ledger.StateLocked {
				return r.finalize(), nil
			}
			if r.opts.Cycle.TimeToExpiry(r.opts.Now()) <= 0 {
				return r.finalize(), nil
			}
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	now := r.opts.Now()

	pair, quotesOK := r.fetchQuotes(ctx)
	if quotesOK {
		r.lastPair = pair
		r.haveLastPair = true
		if sink, ok := r.opts.Port.(BookSink); ok {
			sink.SetBooks(pair)
		}
	}

	r.pollFills(ctx)
	r.resolveState("fill")

	// Safety stops run on last-known quotes when this tick's snapshot is
	// stale; only new quoting is skipped.
	var counterAsk *decimal.Decimal
	if r.pos.State.Legged() && r.haveLastPair {
		q := r.sideQuote(r.lastPair, r.pos.FilledSide().Opposite())
		counterAsk = q.BestAsk
	}

	dec := r.opts.Safety.Evaluate(r.pos, counterAsk, r.opts.Cycle.TimeToExpiry(now))
	if dec.Trigger != "" && dec.Trigger != r.lastTrigger {
		r.lastTrigger = dec.Trigger
		r.record(models.RecorderEvent{
			Timestamp: now,
			Type:      models.EventSafetyTriggered,
			Trigger:   dec.Trigger,
		})
		r.log.Warn("safety triggered",
			zap.String("trigger", dec.Trigger),
			zap.Bool("force_flat", dec.ForceFlat))
	}

	cmds := Decide(TickInput{
		Params:   r.opts.Params,
		Cycle:    r.opts.Cycle,
		Pos:      r.pos,
		Pair:     pair,
		QuotesOK: quotesOK,
		Safety:   dec,
		Open:     r.openList(),
	})
	r.execute(ctx, cmds)

	if dec.ForceFlat && r.pos.State != ledger.StateFlat {
		from := r.pos.State
		r.pos.ForceFlat()
		r.recordTransition(from, ledger.StateFlat, dec.Trigger)
	}

	r.publishStatus(now)
}

func (r *Runner) fetchQuotes(ctx context.Context) (quotes.Pair, bool) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()
	pair, err := r.opts.Source.Snapshot(callCtx)
	if err != nil {
		if errors.Is(err, quotes.ErrStaleQuote) {
			r.log.Debug("stale quotes, safety-only tick")
		} else {
			r.log.Warn("quote snapshot failed", zap.Error(err))
		}
		return quotes.Pair{}, false
	}
	return pair, true
}

// pollFills diffs each open order's cumulative matched size against the last
// observation and applies the delta to the position.
func (r *Runner) pollFills(ctx context.Context) {
	for id, o := range r.open {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
		state, err := r.opts.Port.Poll(callCtx, id)
		cancel()
		if err != nil {
			if errors.Is(err, execution.ErrUnknownOrder) {
				delete(r.open, id)
			}
			r.log.Warn("order poll failed", zap.String("order_id", id), zap.Error(err))
			continue
		}
		delta := state.Matched.Size.Sub(o.seen)
		if delta.IsPositive() {
			o.seen = state.Matched.Size
			fill := models.Fill{Size: delta, AvgPrice: state.Matched.AvgPrice}
			r.pos.ApplyFill(o.side, fill)
			r.recordFill(o.side, id, fill)
		}
		if state.Status != execution.StatusOpen {
			delete(r.open, id)
		}
	}
}

func (r *Runner) resolveState(trigger string) {
	from := r.pos.State
	to := r.pos.Resolve(r.opts.Params.MinProfit)
	if to != from {
		r.recordTransition(from, to, trigger)
		if to == ledger.StateLocked {
			r.log.Info("profit locked",
				zap.String("locked_profit", r.pos.LockedProfit().String()))
		}
	}
}

func (r *Runner) execute(ctx context.Context, cmds []Command) {
	for _, cmd := range cmds {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
		r.executeOne(callCtx, cmd)
		cancel()
	}
}

func (r *Runner) executeOne(ctx context.Context, cmd Command) {
	now := r.opts.Now()
	switch cmd.Type {
	case CmdPlaceResting:
		id, err := r.opts.Port.PlaceResting(ctx, cmd.TokenID, cmd.Price, cmd.Size)
		if err != nil {
			r.log.Warn("resting order failed",
				zap.String("side", string(cmd.Side)),
				zap.String("price", cmd.Price.String()),
				zap.Error(err))
			return
		}
		r.open[id] = &openOrder{id: id, side: cmd.Side, price: cmd.Price, size: cmd.Size}
		r.record(models.RecorderEvent{
			Timestamp: now,
			Type:      models.EventOrderPlaced,
			Side:      cmd.Side,
			OrderID:   id,
			Price:     &cmd.Price,
			Size:      &cmd.Size,
			Trigger:   cmd.Reason,
		})

	case CmdCancelOrder:
		err := r.opts.Port.Cancel(ctx, cmd.OrderID)
		if err != nil && !errors.Is(err, execution.ErrUnknownOrder) {
			r.log.Warn("cancel failed", zap.String("order_id", cmd.OrderID), zap.Error(err))
			return
		}
		delete(r.open, cmd.OrderID)
		r.record(models.RecorderEvent{
			Timestamp: now,
			Type:      models.EventOrderCanceled,
			Side:      cmd.Side,
			OrderID:   cmd.OrderID,
			Trigger:   cmd.Reason,
		})

	case CmdPlaceAggressive:
		fill, err := r.opts.Port.PlaceAggressive(ctx, cmd.TokenID, cmd.Direction, cmd.Price, cmd.Size)
		if err != nil {
			r.log.Warn("aggressive order failed",
				zap.String("side", string(cmd.Side)),
				zap.String("direction", string(cmd.Direction)),
				zap.Error(err))
			return
		}
		r.record(models.RecorderEvent{
			Timestamp: now,
			Type:      models.EventOrderPlaced,
			Side:      cmd.Side,
			Price:     &cmd.Price,
			Size:      &cmd.Size,
			Trigger:   cmd.Reason,
		})
		if fill.IsZero() {
			return
		}
		if cmd.Direction == execution.DirectionBuy {
			r.pos.ApplyFill(cmd.Side, fill)
			r.recordFill(cmd.Side, "", fill)
			r.resolveState("hedge")
		} else {
			// Unwind sell; the position is about to be forced flat.
			r.unwindProceeds = r.unwindProceeds.Add(fill.Size.Mul(fill.AvgPrice))
			r.recordFill(cmd.Side, "", fill)
		}

	case CmdCancelAll:
		if err := r.opts.Port.CancelAll(ctx); err != nil {
			r.log.Warn("cancel-all failed", zap.Error(err))
		}
		for id, o := range r.open {
			r.record(models.RecorderEvent{
				Timestamp: now,
				Type:      models.EventOrderCanceled,
				Side:      o.side,
				OrderID:   id,
				Trigger:   cmd.Reason,
			})
			delete(r.open, id)
		}
	}
}

// shutdownCancel drains resting orders on the way out using a fresh context;
// the run context is usually already canceled by the time we get here.
func (r *Runner) shutdownCancel() {
	if len(r.open) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.opts.Port.CancelAll(ctx); err != nil {
		r.log.Error("shutdown cancel-all gave up", zap.Error(err))
	}
	r.open = make(map[string]*openOrder)
}

func (r *Runner) finalize() *CycleResult {
	now := r.opts.Now()
	rec := &models.CycleRecord{
		CycleSlug: r.opts.Cycle.Slug,
		Asset:     r.opts.Cycle.Asset,
		TotalCost: r.pos.Yes.Cost().Add(r.pos.No.Cost()),
		StartedAt: r.startedAt,
		EndedAt:   &now,
	}
	if r.pos.Yes.HasFill() {
		p, q := r.pos.Yes.AvgPrice, r.pos.Yes.Filled
		rec.YesEntryPrice, rec.YesEntryQty = &p, &q
	}
	if r.pos.No.HasFill() {
		p, q := r.pos.No.AvgPrice, r.pos.No.Filled
		rec.NoEntryPrice, rec.NoEntryQty = &p, &q
	}
	switch {
	case r.pos.State == ledger.StateLocked:
		rec.Status = models.CycleStatusLocked
		rec.LockedProfit = r.pos.LockedProfit().Mul(decimal.Min(r.pos.Yes.Filled, r.pos.No.Filled))
		rec.Pnl = rec.LockedProfit
	case r.pos.State == ledger.StateFlat && r.lastTrigger == safety.TriggerStopLoss:
		rec.Status = models.CycleStatusStopped
		rec.Pnl = r.flatPnl(rec.TotalCost)
	default:
		rec.Status = models.CycleStatusExpired
		rec.Pnl = r.flatPnl(rec.TotalCost)
	}

	if r.opts.Recorder != nil {
		if err := r.opts.Recorder.RecordCycle(rec); err != nil {
			r.log.Error("record cycle failed", zap.Error(err))
		}
	}
	r.log.Info("cycle finished",
		zap.String("status", rec.Status),
		zap.String("total_cost", rec.TotalCost.String()),
		zap.String("locked_profit", rec.LockedProfit.String()))

	return &CycleResult{FinalState: r.pos.State, Trigger: r.lastTrigger, Record: rec}
}

// flatPnl is the realized result of a cycle that did not lock: unwind
// proceeds plus the settlement value of any hedged remainder, minus premium
// paid. Hedged pairs pay out 1 per share at resolution.
func (r *Runner) flatPnl(totalCost decimal.Decimal) decimal.Decimal {
	hedged := decimal.Min(r.pos.Yes.Filled, r.pos.No.Filled)
	return r.unwindProceeds.Add(hedged).Sub(totalCost)
}

func (r *Runner) openList() []RestingOrder {
	out := make([]RestingOrder, 0, len(r.open))
	for _, o := range r.open {
		out = append(out, RestingOrder{ID: o.id, Side: o.side, Price: o.price, Size: o.size})
	}
	return out
}

func (r *Runner) sideQuote(pair quotes.Pair, side models.Side) models.Quote {
	if side == models.SideYes {
		return pair.Yes
	}
	return pair.No
}

func (r *Runner) record(ev models.RecorderEvent) {
	if r.opts.Recorder == nil {
		return
	}
	ev.CycleSlug = r.opts.Cycle.Slug
	ev.Snapshot = r.pos.Snapshot(len(r.open))
	if err := r.opts.Recorder.Record(ev); err != nil {
		r.log.Error("record event failed", zap.Error(err))
	}
}

func (r *Runner) recordFill(side models.Side, orderID string, fill models.Fill) {
	r.record(models.RecorderEvent{
		Timestamp: r.opts.Now(),
		Type:      models.EventFillObserved,
		Side:      side,
		OrderID:   orderID,
		Price:     &fill.AvgPrice,
		Size:      &fill.Size,
	})
	r.log.Info("fill observed",
		zap.String("side", string(side)),
		zap.String("size", fill.Size.String()),
		zap.String("avg_price", fill.AvgPrice.String()))
}

func (r *Runner) recordTransition(from, to ledger.State, trigger string) {
	r.record(models.RecorderEvent{
		Timestamp: r.opts.Now(),
		Type:      models.EventStateTransition,
		FromState: string(from),
		ToState:   string(to),
		Trigger:   trigger,
	})
	r.log.Info("state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("trigger", trigger))
}
