package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgerhardt/quotebot/internal/book"
	"github.com/sgerhardt/quotebot/internal/domain"
	"github.com/sgerhardt/quotebot/internal/ledger"
	"github.com/sgerhardt/quotebot/internal/risk"
	"github.com/sgerhardt/quotebot/internal/sim"
	"github.com/sgerhardt/quotebot/internal/strategy"
)

// scriptedQuoter plays back a fixed list of intents, then stays quiet.
type scriptedQuoter struct {
	intents []domain.TradeIntent
}

func (q *scriptedQuoter) Name() string { return "scripted" }

func (q *scriptedQuoter) Decide(book.View, strategy.LedgerView) domain.TradeIntent {
	if len(q.intents) == 0 {
		return domain.NoIntent
	}
	next := q.intents[0]
	q.intents = q.intents[1:]
	return next
}

type stubSource struct {
	resyncs int
}

func (s *stubSource) Run(context.Context) error { return nil }
func (s *stubSource) Resync() error             { s.resyncs++; return nil }
func (s *stubSource) Close() error              { return nil }

type harness struct {
	engine *Engine
	quoter *scriptedQuoter
	source *stubSource
	snaps  []domain.StatusSnapshot
	trades []domain.TradeRecord
}

func newHarness(t *testing.T, lcfg ledger.Config, rcfg risk.Config, opts ...Option) *harness {
	t.Helper()
	logger := slog.Default()
	h := &harness{
		quoter: &scriptedQuoter{},
		source: &stubSource{},
	}
	if lcfg.InitialBalance == 0 {
		lcfg.InitialBalance = 10000
	}
	b := book.New("BTC/USD", logger)
	s := sim.New(sim.NoSlippage{}, sim.FillPolicyAllOrNothing, logger)
	l := ledger.New("BTC/USD", lcfg, logger)
	r := risk.NewController(rcfg, logger)

	opts = append(opts,
		WithSource(h.source),
		WithPublisher(func(_ context.Context, snap domain.StatusSnapshot) {
			h.snaps = append(h.snaps, snap)
		}),
		WithTradeSink(func(_ context.Context, rec domain.TradeRecord) {
			h.trades = append(h.trades, rec)
		}),
	)
	h.engine = New(Config{Instrument: "BTC/USD", Depth: 10}, b, s, l, r, h.quoter, logger, opts...)
	return h
}

func (h *harness) tick(t *testing.T, ev domain.BookEvent) {
	t.Helper()
	h.engine.tick(context.Background(), ev)
}

func (h *harness) last(t *testing.T) domain.StatusSnapshot {
	t.Helper()
	require.NotEmpty(t, h.snaps)
	return h.snaps[len(h.snaps)-1]
}

func snapshotEvent(seq int64, levels ...domain.SignedLevel) domain.BookEvent {
	return domain.BookEvent{
		Type:   domain.EventSnapshot,
		Seq:    seq,
		Time:   time.Date(2026, 8, 1, 12, 0, 0, int(seq), time.UTC),
		Levels: levels,
	}
}

func deltaEvent(seq int64, price float64, count int, qty float64) domain.BookEvent {
	units := domain.ToUnits(qty)
	if qty < 0 {
		units = -domain.ToUnits(-qty)
	}
	return domain.BookEvent{
		Type:       domain.EventDelta,
		Seq:        seq,
		Time:       time.Date(2026, 8, 1, 12, 0, 0, int(seq), time.UTC),
		PriceTicks: domain.ToTicks(price),
		Count:      count,
		SizeUnits:  units,
	}
}

func marketSnapshot(seq int64) domain.BookEvent {
	return snapshotEvent(seq,
		domain.SignedLevel{PriceTicks: domain.ToTicks(100), SizeUnits: domain.ToUnits(2)},
		domain.SignedLevel{PriceTicks: domain.ToTicks(99), SizeUnits: domain.ToUnits(1)},
		domain.SignedLevel{PriceTicks: domain.ToTicks(101), SizeUnits: -domain.ToUnits(2)},
		domain.SignedLevel{PriceTicks: domain.ToTicks(102), SizeUnits: -domain.ToUnits(1)},
	)
}

func TestTickAppliesSnapshotAndPublishes(t *testing.T) {
	h := newHarness(t, ledger.Config{}, risk.Config{})
	h.tick(t, marketSnapshot(1))

	snap := h.last(t)
	assert.Equal(t, int64(1), snap.Seq)
	assert.InDelta(t, 100.0, snap.BestBid, 1e-9)
	assert.InDelta(t, 101.0, snap.BestAsk, 1e-9)
	assert.InDelta(t, 100.5, snap.Mid, 1e-9)
	assert.False(t, snap.Degraded)
	assert.Equal(t, domain.RiskFlat, snap.RiskState)
	assert.Len(t, snap.Book.Bids, 2)
	assert.Len(t, snap.Book.Asks, 2)
}

func TestTickExecutesQuoterIntent(t *testing.T) {
	h := newHarness(t, ledger.Config{}, risk.Config{})
	h.quoter.intents = []domain.TradeIntent{{
		Side: domain.OrderSideBuy, SizeUnits: domain.ToUnits(1), Reason: "test entry",
	}}

	h.tick(t, marketSnapshot(1))

	snap := h.last(t)
	assert.Equal(t, domain.PositionLong, snap.Position.Side)
	assert.Equal(t, domain.ToUnits(1), snap.Position.SizeUnits)
	assert.InDelta(t, 101.0, snap.Position.AvgEntry, 1e-9)
	assert.InDelta(t, 10000-101, snap.CashBalance, 1e-9)
	assert.Equal(t, domain.RiskOpen, snap.RiskState)
	require.Len(t, h.trades, 1)
	assert.Equal(t, "test entry", h.trades[0].Reason)

	// The ask level was consumed.
	assert.Len(t, snap.Book.Asks, 2)
	assert.Equal(t, domain.ToUnits(1), snap.Book.Asks[0].SizeUnits)
}

func TestSequenceRegressionFlagsStaleUntilSnapshot(t *testing.T) {
	h := newHarness(t, ledger.Config{}, risk.Config{})
	h.tick(t, marketSnapshot(10))
	h.tick(t, deltaEvent(11, 99.5, 1, 0.5))
	assert.False(t, h.last(t).Degraded)

	// Regressed sequence: replica can no longer be trusted.
	h.tick(t, deltaEvent(9, 98, 1, 1))
	assert.True(t, h.last(t).Degraded)
	assert.Equal(t, 1, h.source.resyncs)

	// Deltas while stale are dropped, even well-formed ones.
	h.tick(t, deltaEvent(12, 98, 1, 1))
	assert.True(t, h.last(t).Degraded)

	// A clean snapshot restores trading.
	h.tick(t, marketSnapshot(20))
	assert.False(t, h.last(t).Degraded)
	h.tick(t, deltaEvent(21, 99.5, 1, 0.5))
	assert.False(t, h.last(t).Degraded)
}

func TestSequenceGapFlagsStale(t *testing.T) {
	h := newHarness(t, ledger.Config{}, risk.Config{})
	h.tick(t, marketSnapshot(10))
	h.tick(t, deltaEvent(15, 99.5, 1, 0.5))
	assert.True(t, h.last(t).Degraded)
	assert.Equal(t, 1, h.source.resyncs)
}

func TestCrossingDeltaDegradesAndResyncs(t *testing.T) {
	h := newHarness(t, ledger.Config{}, risk.Config{})
	h.tick(t, marketSnapshot(1))

	// A bid at 150 crosses the 101 ask.
	h.tick(t, deltaEvent(2, 150, 1, 1))
	assert.True(t, h.last(t).Degraded)
	assert.Equal(t, 1, h.source.resyncs)

	// No entries while degraded.
	h.quoter.intents = []domain.TradeIntent{{
		Side: domain.OrderSideBuy, SizeUnits: domain.ToUnits(1), Reason: "should not fire",
	}}
	h.tick(t, deltaEvent(3, 99.5, 1, 0.5))
	assert.Empty(t, h.trades)
}

func TestForceCloseOnUnrealizedPnL(t *testing.T) {
	h := newHarness(t, ledger.Config{}, risk.Config{
		StopAbs: 50, TakeProfitAbs: 100, ForceClosePnL: 5.0,
	})
	h.quoter.intents = []domain.TradeIntent{{
		Side: domain.OrderSideBuy, SizeUnits: domain.ToUnits(1), Reason: "entry",
	}}

	// Enter long 1.0 at the 101 ask.
	h.tick(t, marketSnapshot(1))
	require.Equal(t, domain.PositionLong, h.last(t).Position.Side)

	// Market gaps up: mid moves to 106.5, unrealized (106.5-101) >= 5.
	h.tick(t, snapshotEvent(2,
		domain.SignedLevel{PriceTicks: domain.ToTicks(106), SizeUnits: domain.ToUnits(3)},
		domain.SignedLevel{PriceTicks: domain.ToTicks(107), SizeUnits: -domain.ToUnits(3)},
	))

	snap := h.last(t)
	assert.True(t, snap.Position.IsFlat())
	assert.Equal(t, domain.RiskFlat, snap.RiskState)
	// Sold 1.0 into the 106 bid against the 101 entry.
	assert.InDelta(t, 5.0, snap.RealizedPnL, 1e-9)
	require.Len(t, h.trades, 2)
	assert.Equal(t, "force_close_pnl", h.trades[1].Reason)
}

func TestForceCloseRetriesWhenUnfillable(t *testing.T) {
	h := newHarness(t, ledger.Config{}, risk.Config{
		StopAbs: 50, TakeProfitAbs: 100, ForceClosePnL: 5.0,
	})
	h.quoter.intents = []domain.TradeIntent{{
		Side: domain.OrderSideBuy, SizeUnits: domain.ToUnits(1), Reason: "entry",
	}}
	h.tick(t, marketSnapshot(1))

	// Mark jumps but there are no bids to sell into: exit stays pending.
	h.tick(t, snapshotEvent(2,
		domain.SignedLevel{PriceTicks: domain.ToTicks(106), SizeUnits: domain.ToUnits(0.1)},
		domain.SignedLevel{PriceTicks: domain.ToTicks(107), SizeUnits: -domain.ToUnits(3)},
	))
	snap := h.last(t)
	assert.Equal(t, domain.RiskForceClosing, snap.RiskState)
	assert.False(t, snap.Position.IsFlat())

	// Liquidity returns: the retry fills on the next tick.
	h.tick(t, deltaEvent(3, 106, 1, 5))
	snap = h.last(t)
	assert.True(t, snap.Position.IsFlat())
	assert.Equal(t, domain.RiskFlat, snap.RiskState)
}

func TestDrawdownGuardHaltsEngine(t *testing.T) {
	guard := risk.NewDrawdownGuard(0.005)
	h := newHarness(t, ledger.Config{}, risk.Config{StopAbs: 50, TakeProfitAbs: 100},
		WithGuard(guard))
	h.quoter.intents = []domain.TradeIntent{{
		Side: domain.OrderSideBuy, SizeUnits: domain.ToUnits(1), Reason: "entry",
	}}

	// Equity peak near 10000 with a long 1.0 at 101.
	h.tick(t, marketSnapshot(1))

	// Mark collapses: equity falls past the 0.5% drawdown line, the guard
	// trips, and the halt forces the exit into the remaining bids.
	h.tick(t, snapshotEvent(2,
		domain.SignedLevel{PriceTicks: domain.ToTicks(95), SizeUnits: domain.ToUnits(5)},
		domain.SignedLevel{PriceTicks: domain.ToTicks(96), SizeUnits: -domain.ToUnits(5)},
	))

	assert.True(t, guard.Tripped())
	snap := h.last(t)
	assert.True(t, snap.Position.IsFlat())
	require.Len(t, h.trades, 2)
	assert.Equal(t, "equity_halt", h.trades[1].Reason)

	// Halted: no further entries.
	h.quoter.intents = []domain.TradeIntent{{
		Side: domain.OrderSideBuy, SizeUnits: domain.ToUnits(1), Reason: "blocked",
	}}
	h.tick(t, deltaEvent(3, 95.5, 1, 1))
	assert.Len(t, h.trades, 2)
}

func TestInsufficientBalanceVetoesIntent(t *testing.T) {
	h := newHarness(t, ledger.Config{InitialBalance: 50}, risk.Config{})
	h.quoter.intents = []domain.TradeIntent{{
		Side: domain.OrderSideBuy, SizeUnits: domain.ToUnits(1), Reason: "too big",
	}}
	h.tick(t, marketSnapshot(1))

	snap := h.last(t)
	assert.True(t, snap.Position.IsFlat())
	assert.InDelta(t, 50.0, snap.CashBalance, 1e-9)
	assert.Empty(t, h.trades)
}

func TestMultiLevelIntentVetoedAtWalkVWAP(t *testing.T) {
	// Cash covers two units at the best ask but not the walk across both
	// ask levels. The veto must land before any liquidity is consumed.
	h := newHarness(t, ledger.Config{InitialBalance: 205}, risk.Config{})
	h.quoter.intents = []domain.TradeIntent{{
		Side: domain.OrderSideBuy, SizeUnits: domain.ToUnits(2), Reason: "walk",
	}}

	h.tick(t, snapshotEvent(1,
		domain.SignedLevel{PriceTicks: domain.ToTicks(90), SizeUnits: domain.ToUnits(1)},
		domain.SignedLevel{PriceTicks: domain.ToTicks(100), SizeUnits: -domain.ToUnits(1)},
		domain.SignedLevel{PriceTicks: domain.ToTicks(110), SizeUnits: -domain.ToUnits(1)},
	))

	snap := h.last(t)
	assert.True(t, snap.Position.IsFlat())
	assert.InDelta(t, 205.0, snap.CashBalance, 1e-9)
	assert.Empty(t, h.trades)

	// Both ask levels survive at full size.
	require.Len(t, snap.Book.Asks, 2)
	assert.Equal(t, domain.ToUnits(1), snap.Book.Asks[0].SizeUnits)
	assert.Equal(t, domain.ToUnits(1), snap.Book.Asks[1].SizeUnits)
}

func TestSequenceViolationEmitsResyncAlert(t *testing.T) {
	type alertRec struct{ event, message string }
	var alerts []alertRec
	h := newHarness(t, ledger.Config{}, risk.Config{},
		WithAlerter(func(_ context.Context, event, message string) {
			alerts = append(alerts, alertRec{event, message})
		}))

	h.tick(t, marketSnapshot(10))
	h.tick(t, deltaEvent(15, 99.5, 1, 0.5))

	require.Len(t, alerts, 1)
	assert.Equal(t, "resync", alerts[0].event)
	assert.Contains(t, alerts[0].message, "BTC/USD")
}

func TestRestoreRehydratesLedgerAndRisk(t *testing.T) {
	h := newHarness(t, ledger.Config{}, risk.Config{StopAbs: 2, TakeProfitAbs: 100})
	saved := domain.StatusSnapshot{
		Instrument:  "BTC/USD",
		CashBalance: 9899,
		RealizedPnL: 12.5,
		Position: domain.Position{
			Side: domain.PositionLong, SizeUnits: domain.ToUnits(1), AvgEntry: 101,
			OpenedAt: time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, h.engine.Restore(saved))

	h.tick(t, marketSnapshot(1))
	snap := h.last(t)
	assert.InDelta(t, 9899.0, snap.CashBalance, 1e-9)
	assert.InDelta(t, 12.5, snap.RealizedPnL, 1e-9)
	assert.Equal(t, domain.PositionLong, snap.Position.Side)
	assert.Equal(t, domain.RiskOpen, snap.RiskState)

	// Wrong instrument is rejected.
	assert.Error(t, h.engine.Restore(domain.StatusSnapshot{Instrument: "ETH/USD"}))
}

func TestHandleEventQueuesAndDropsWhenFull(t *testing.T) {
	h := newHarness(t, ledger.Config{}, risk.Config{})
	small := New(Config{Instrument: "BTC/USD", Buffer: 1},
		book.New("BTC/USD", slog.Default()),
		sim.New(sim.NoSlippage{}, sim.FillPolicyAllOrNothing, slog.Default()),
		ledger.New("BTC/USD", ledger.Config{InitialBalance: 1}, slog.Default()),
		risk.NewController(risk.Config{}, slog.Default()),
		h.quoter, slog.Default())

	ctx := context.Background()
	small.HandleEvent(ctx, marketSnapshot(1))
	small.HandleEvent(ctx, marketSnapshot(2))
	assert.Equal(t, int64(1), small.Dropped())
}
