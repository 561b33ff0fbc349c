// Package engine runs the per-instrument tick pipeline: apply a book event,
// derive a view, let risk force exits, let the quoter request trades, fill
// them against the replica, book them into the ledger, and publish an
// immutable status snapshot. One goroutine per engine owns all of it; every
// other component only ever sees published snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sgerhardt/quotebot/internal/book"
	"github.com/sgerhardt/quotebot/internal/domain"
	"github.com/sgerhardt/quotebot/internal/feed"
	"github.com/sgerhardt/quotebot/internal/ledger"
	"github.com/sgerhardt/quotebot/internal/risk"
	"github.com/sgerhardt/quotebot/internal/sim"
	"github.com/sgerhardt/quotebot/internal/strategy"
)

// Config holds engine parameters.
type Config struct {
	Instrument string
	// Depth is the per-side level count carried in views and published
	// snapshots. Defaults to 10.
	Depth int
	// Buffer is the event queue size between the feed goroutine and the
	// engine goroutine. Defaults to 256.
	Buffer int
}

// Publisher receives every published status snapshot. Implementations must
// not block the engine; slow consumers copy and go.
type Publisher func(ctx context.Context, snap domain.StatusSnapshot)

// TradeSink receives every booked trade record.
type TradeSink func(ctx context.Context, rec domain.TradeRecord)

// Alerter receives operator-facing engine alerts: "resync" when the replica
// lost feed continuity and "error" when an exit could not be completed.
type Alerter func(ctx context.Context, event, message string)

// Engine owns one instrument's book replica, ledger, and risk state.
type Engine struct {
	cfg    Config
	book   *book.Book
	seq    *feed.SequenceTracker
	sim    *sim.Simulator
	ledger *ledger.Ledger
	risk   *risk.Controller
	quoter strategy.Quoter
	guard  *risk.DrawdownGuard
	source feed.Source
	logger *slog.Logger

	events  chan domain.BookEvent
	dropped atomic.Int64

	stale   bool
	lastSeq int64

	status    atomic.Pointer[domain.StatusSnapshot]
	publisher Publisher
	tradeSink TradeSink
	alerter   Alerter

	now func() time.Time
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithGuard attaches the shared equity drawdown guard.
func WithGuard(g *risk.DrawdownGuard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithSource lets the engine request feed resyncs after sequence violations.
func WithSource(s feed.Source) Option {
	return func(e *Engine) { e.source = s }
}

// WithPublisher attaches a status snapshot consumer.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithTradeSink attaches a trade record consumer.
func WithTradeSink(s TradeSink) Option {
	return func(e *Engine) { e.tradeSink = s }
}

// WithAlerter attaches an operational alert consumer.
func WithAlerter(a Alerter) Option {
	return func(e *Engine) { e.alerter = a }
}

// New creates an engine. The book, ledger, risk controller, and quoter become
// owned by the engine goroutine and must not be touched afterwards.
func New(cfg Config, b *book.Book, s *sim.Simulator, l *ledger.Ledger, r *risk.Controller, q strategy.Quoter, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.Depth <= 0 {
		cfg.Depth = 10
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	e := &Engine{
		cfg:    cfg,
		book:   b,
		seq:    feed.NewSequenceTracker(),
		sim:    s,
		ledger: l,
		risk:   r,
		quoter: q,
		logger: logger.With(slog.String("component", "engine"), slog.String("instrument", cfg.Instrument)),
		events: make(chan domain.BookEvent, cfg.Buffer),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleEvent enqueues a feed event for the engine goroutine. It satisfies
// feed.Handler. When the queue is full the event is dropped and counted; a
// dropped delta surfaces as a sequence gap and triggers a resync.
func (e *Engine) HandleEvent(_ context.Context, ev domain.BookEvent) {
	select {
	case e.events <- ev:
	default:
		n := e.dropped.Add(1)
		e.logger.Warn("event queue full, dropping", slog.Int64("dropped_total", n))
	}
}

// Dropped returns the count of events discarded by a full queue.
func (e *Engine) Dropped() int64 { return e.dropped.Load() }

// Status returns the most recently published snapshot, zero before the first
// tick.
func (e *Engine) Status() domain.StatusSnapshot {
	if s := e.status.Load(); s != nil {
		return *s
	}
	return domain.StatusSnapshot{Instrument: e.cfg.Instrument}
}

// Run consumes events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started")
	defer e.logger.Info("engine stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.events:
			e.tick(ctx, ev)
		}
	}
}

// tick is the single-threaded pipeline for one event.
func (e *Engine) tick(ctx context.Context, ev domain.BookEvent) {
	if ev.Seq != 0 {
		e.lastSeq = ev.Seq
	}

	if err := e.seq.Observe(ev); err != nil {
		e.onSequenceViolation(ctx, err)
		e.publish(ctx, ev.Time)
		return
	}
	if !e.applyEvent(ctx, ev) {
		e.publish(ctx, ev.Time)
		return
	}

	v := e.book.View(e.cfg.Depth)
	now := ev.Time
	if now.IsZero() {
		now = e.now()
	}
	mark := v.Mid()

	if e.guard != nil && mark > 0 {
		if e.guard.Observe(e.ledger.Equity(mark)) && !e.risk.Halted() {
			e.logger.Error("equity drawdown guard tripped, halting")
			e.risk.Halt()
		}
	}

	pos := e.ledger.Position()
	if !pos.IsFlat() && mark > 0 {
		if req, fire := e.risk.CheckExit(pos, mark, e.ledger.UnrealizedPnL(mark), now); fire {
			e.executeExit(ctx, req)
			e.publish(ctx, now)
			return
		}
	}

	if !v.Degraded && v.TwoSided() {
		if intent := e.quoter.Decide(v, e.ledger); !intent.None() {
			e.executeIntent(ctx, v, intent)
		}
	}
	e.publish(ctx, now)
}

// onSequenceViolation stops trusting the replica until a clean snapshot
// arrives and asks the source for one.
func (e *Engine) onSequenceViolation(ctx context.Context, err error) {
	e.logger.Warn("sequence violation, awaiting snapshot", slog.String("error", err.Error()))
	e.stale = true
	e.book.MarkDegraded()
	e.seq.Reset()
	e.alert(ctx, "resync", fmt.Sprintf("%s: %v", e.cfg.Instrument, err))
	if e.source != nil {
		if rerr := e.source.Resync(); rerr != nil {
			e.logger.Warn("resync request failed", slog.String("error", rerr.Error()))
		}
	}
}

// applyEvent mutates the replica and reports whether the book is trustworthy
// enough to trade this tick.
func (e *Engine) applyEvent(ctx context.Context, ev domain.BookEvent) bool {
	switch ev.Type {
	case domain.EventSnapshot:
		if err := e.book.ApplySnapshot(ev.Levels); err != nil {
			e.stale = true
			e.logger.Warn("snapshot rejected", slog.String("error", err.Error()))
			return false
		}
		e.stale = false
		return true
	case domain.EventDelta:
		if e.stale {
			e.logger.Debug("stale replica, delta dropped", slog.Int64("seq", ev.Seq))
			return false
		}
		if err := e.book.ApplyDelta(ev.PriceTicks, ev.Count, ev.SizeUnits); err != nil {
			if errors.Is(err, domain.ErrCrossedBook) {
				e.onSequenceViolation(ctx, err)
			} else {
				e.logger.Warn("delta rejected", slog.String("error", err.Error()))
			}
			return false
		}
		return true
	default:
		e.logger.Warn("unknown event type", slog.String("type", string(ev.Type)))
		return false
	}
}

// executeExit fills a risk-mandated exit. An unfillable exit stays pending in
// the controller and is retried next tick; exhausting the retry cap is an
// operator-visible error, never a dropped position.
func (e *Engine) executeExit(ctx context.Context, req risk.ExitRequest) {
	res, err := e.sim.Quote(e.book, req.Side, req.Units)
	if err != nil {
		if errors.Is(err, domain.ErrNoLiquidity) {
			if rerr := e.risk.OnExitUnfillable(); rerr != nil {
				e.logger.Error("force close retries exhausted", slog.String("error", rerr.Error()))
				e.alert(ctx, "error", fmt.Sprintf("%s: force close retries exhausted: %v", e.cfg.Instrument, rerr))
			}
			return
		}
		e.logger.Warn("exit fill failed", slog.String("error", err.Error()))
		return
	}

	rec, err := e.ledger.ApplyFill(res, req.Reason)
	if err != nil {
		e.logger.Error("exit rejected by ledger", slog.String("error", err.Error()))
		return
	}
	e.sim.Commit(e.book, res)
	var pnl float64
	if rec.RealizedPnL != nil {
		pnl = *rec.RealizedPnL
	}
	if e.ledger.Position().IsFlat() {
		e.risk.OnExitFilled(pnl)
	} else {
		// Partial exit under the partial-fill policy: record the PnL but
		// stay in force_closing so the remainder is retried next tick.
		e.risk.OnTradeClosed(pnl, false)
	}
	e.emitTrade(ctx, rec)
}

// executeIntent runs one strategy trade through the risk gate, the ledger
// precheck, the simulator, and finally the ledger.
func (e *Engine) executeIntent(ctx context.Context, v book.View, intent domain.TradeIntent) {
	pos := e.ledger.Position()
	reducing := (pos.Side == domain.PositionLong && intent.Side == domain.OrderSideSell) ||
		(pos.Side == domain.PositionShort && intent.Side == domain.OrderSideBuy)

	if !reducing {
		if err := e.risk.AllowEntry(intent.Side, intent.SizeUnits, pos, v); err != nil {
			e.logger.Debug("entry vetoed", slog.String("reason", err.Error()))
			return
		}
	}

	res, err := e.sim.Quote(e.book, intent.Side, intent.SizeUnits)
	if err != nil {
		e.logger.Debug("intent unfilled", slog.String("error", err.Error()))
		return
	}
	// Precheck at the quoted VWAP, not the opposing best: a fill that walks
	// multiple levels executes at a worse average, and rejecting it after
	// consuming liquidity would strand the replica.
	if err := e.ledger.Precheck(intent.Side, res.FilledUnits, res.VWAP); err != nil {
		e.logger.Debug("intent rejected by ledger", slog.String("error", err.Error()))
		return
	}
	e.sim.Commit(e.book, res)
	rec, err := e.ledger.ApplyFill(res, intent.Reason)
	if err != nil {
		e.logger.Error("fill rejected by ledger", slog.String("error", err.Error()))
		return
	}

	newPos := e.ledger.Position()
	if rec.RealizedPnL != nil {
		e.risk.OnTradeClosed(*rec.RealizedPnL, newPos.IsFlat())
	}
	if !newPos.IsFlat() && (pos.IsFlat() || newPos.Side != pos.Side || newPos.AvgEntry != pos.AvgEntry) {
		e.risk.OnEntry(newPos)
	}
	e.emitTrade(ctx, rec)
}

func (e *Engine) emitTrade(ctx context.Context, rec domain.TradeRecord) {
	if e.tradeSink != nil {
		e.tradeSink(ctx, rec)
	}
}

func (e *Engine) alert(ctx context.Context, event, message string) {
	if e.alerter != nil {
		e.alerter(ctx, event, message)
	}
}

// publish assembles and stores the immutable per-tick snapshot and hands it
// to the publisher.
func (e *Engine) publish(ctx context.Context, ts time.Time) {
	if ts.IsZero() {
		ts = e.now()
	}
	v := e.book.View(e.cfg.Depth)
	mark := v.Mid()

	snap := domain.StatusSnapshot{
		Instrument:    e.cfg.Instrument,
		Time:          ts,
		Seq:           e.lastSeq,
		CashBalance:   e.ledger.Cash(),
		RealizedPnL:   e.ledger.RealizedPnL(),
		UnrealizedPnL: e.ledger.UnrealizedPnL(mark),
		Equity:        e.ledger.Equity(mark),
		Position:      e.ledger.Position(),
		RiskState:     e.risk.State(),
		Mid:           mark,
		Micro:         v.Micro(),
		Imbalance:     v.Imbalance(e.cfg.Depth),
		Degraded:      v.Degraded || e.stale,
		Book:          domain.BookTop{Bids: v.Bids, Asks: v.Asks},
		LastTrades:    e.ledger.LastTrades(),
	}
	if v.HasBid {
		snap.BestBid = v.BestBid.Price()
	}
	if v.HasAsk {
		snap.BestAsk = v.BestAsk.Price()
	}

	e.status.Store(&snap)
	if e.publisher != nil {
		e.publisher(ctx, snap)
	}
}

// Restore rehydrates the ledger from a persisted snapshot before Run starts.
func (e *Engine) Restore(snap domain.StatusSnapshot) error {
	if snap.Instrument != "" && snap.Instrument != e.cfg.Instrument {
		return fmt.Errorf("engine: snapshot for %q, engine trades %q", snap.Instrument, e.cfg.Instrument)
	}
	e.ledger.Restore(snap)
	if !snap.Position.IsFlat() {
		e.risk.OnEntry(snap.Position)
	}
	e.logger.Info("state restored",
		slog.Float64("cash", snap.CashBalance),
		slog.String("position", string(snap.Position.Side)),
	)
	return nil
}
