package risk

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgerhardt/quotebot/internal/book"
	"github.com/sgerhardt/quotebot/internal/domain"
)

func longPos(entry, size float64) domain.Position {
	return domain.Position{
		Side:      domain.PositionLong,
		SizeUnits: domain.ToUnits(size),
		AvgEntry:  entry,
		OpenedAt:  time.Now(),
	}
}

func shortPos(entry, size float64) domain.Position {
	p := longPos(entry, size)
	p.Side = domain.PositionShort
	return p
}

func twoSidedView(t *testing.T, bid, ask float64) book.View {
	t.Helper()
	b := book.New("BTC/USD", slog.Default())
	require.NoError(t, b.ApplySnapshot([]domain.SignedLevel{
		{PriceTicks: domain.ToTicks(bid), SizeUnits: domain.ToUnits(1)},
		{PriceTicks: domain.ToTicks(ask), SizeUnits: -domain.ToUnits(1)},
	}))
	return b.View(0)
}

func TestEntryArmsStopAndTakeProfit(t *testing.T) {
	c := NewController(Config{StopPct: 0.01, TakeProfitPct: 0.02}, slog.Default())
	c.OnEntry(longPos(100, 1))

	assert.Equal(t, domain.RiskOpen, c.State())
	assert.InDelta(t, 99.0, c.StopPrice(), 1e-9)
	assert.InDelta(t, 102.0, c.TakeProfitPrice(), 1e-9)
}

func TestEntryAbsoluteOffsetsWin(t *testing.T) {
	c := NewController(Config{StopPct: 0.01, StopAbs: 5, TakeProfitAbs: 8}, slog.Default())
	c.OnEntry(shortPos(100, 1))
	assert.InDelta(t, 105.0, c.StopPrice(), 1e-9)
	assert.InDelta(t, 92.0, c.TakeProfitPrice(), 1e-9)
}

func TestTrailingStopRatchetsMonotonically(t *testing.T) {
	c := NewController(Config{StopAbs: 2, TakeProfitAbs: 100}, slog.Default())
	pos := longPos(100, 1)
	c.OnEntry(pos)

	prev := c.StopPrice()
	for _, mark := range []float64{100.5, 101, 102.5, 102, 104, 103, 110} {
		c.Ratchet(pos, mark)
		assert.GreaterOrEqual(t, c.StopPrice(), prev, "stop regressed at mark %.1f", mark)
		prev = c.StopPrice()
	}
	// Best mark seen was 110 -> stop trailed to 108.
	assert.InDelta(t, 108.0, c.StopPrice(), 1e-9)

	// An unfavorable move changes nothing.
	c.Ratchet(pos, 90)
	assert.InDelta(t, 108.0, c.StopPrice(), 1e-9)
}

func TestShortTrailingStopRatchetsDown(t *testing.T) {
	c := NewController(Config{StopAbs: 2, TakeProfitAbs: 100}, slog.Default())
	pos := shortPos(100, 1)
	c.OnEntry(pos)
	assert.InDelta(t, 102.0, c.StopPrice(), 1e-9)

	c.Ratchet(pos, 95)
	assert.InDelta(t, 97.0, c.StopPrice(), 1e-9)
	c.Ratchet(pos, 98)
	assert.InDelta(t, 97.0, c.StopPrice(), 1e-9)
}

func TestStopTriggerForcesFullExit(t *testing.T) {
	c := NewController(Config{StopAbs: 2, TakeProfitAbs: 100}, slog.Default())
	pos := longPos(100, 0.5)
	c.OnEntry(pos)

	req, fire := c.CheckExit(pos, 97.9, -1.05, time.Now())
	require.True(t, fire)
	assert.Equal(t, domain.OrderSideSell, req.Side)
	assert.Equal(t, pos.SizeUnits, req.Units)
	assert.Equal(t, "trailing_stop", req.Reason)
	assert.Equal(t, domain.RiskForceClosing, c.State())
}

func TestTakeProfitTrigger(t *testing.T) {
	c := NewController(Config{StopAbs: 10, TakeProfitAbs: 3}, slog.Default())
	pos := shortPos(100, 1)
	c.OnEntry(pos)

	req, fire := c.CheckExit(pos, 96.5, 3.5, time.Now())
	require.True(t, fire)
	assert.Equal(t, domain.OrderSideBuy, req.Side)
	assert.Equal(t, "take_profit", req.Reason)
}

func TestForceClosePnLThreshold(t *testing.T) {
	cfg := Config{StopAbs: 50, TakeProfitAbs: 100, ForceClosePnL: 5.0}

	// 0.01 size: unrealized (105-100)*0.01 = 0.05, must not fire.
	c := NewController(cfg, slog.Default())
	small := longPos(100, 0.01)
	c.OnEntry(small)
	_, fire := c.CheckExit(small, 105, small.UnrealizedPnL(105), time.Now())
	assert.False(t, fire)

	// 1.0 size: unrealized exactly 5.0, must fire on that tick.
	c = NewController(cfg, slog.Default())
	big := longPos(100, 1.0)
	c.OnEntry(big)
	req, fire := c.CheckExit(big, 105, big.UnrealizedPnL(105), time.Now())
	require.True(t, fire)
	assert.Equal(t, "force_close_pnl", req.Reason)
}

func TestMaxHoldTrigger(t *testing.T) {
	c := NewController(Config{StopAbs: 50, TakeProfitAbs: 100, MaxHold: time.Minute}, slog.Default())
	pos := longPos(100, 1)
	pos.OpenedAt = time.Now().Add(-2 * time.Minute)
	c.OnEntry(pos)

	req, fire := c.CheckExit(pos, 100, 0, time.Now())
	require.True(t, fire)
	assert.Equal(t, "max_hold", req.Reason)
}

func TestForceCloseRetriesUntilFilled(t *testing.T) {
	c := NewController(Config{StopAbs: 1, TakeProfitAbs: 100, ForceCloseMaxRetries: 3}, slog.Default())
	pos := longPos(100, 1)
	c.OnEntry(pos)

	_, fire := c.CheckExit(pos, 98, -2, time.Now())
	require.True(t, fire)

	assert.NoError(t, c.OnExitUnfillable())
	assert.NoError(t, c.OnExitUnfillable())

	// Still force_closing: the next tick re-issues the exit.
	req, fire := c.CheckExit(pos, 98, -2, time.Now())
	require.True(t, fire)
	assert.Equal(t, "force_close_retry", req.Reason)

	// Retry cap breached: escalate, never drop.
	err := c.OnExitUnfillable()
	require.ErrorIs(t, err, domain.ErrUnfillableForceClose)
	assert.Equal(t, domain.RiskForceClosing, c.State())

	c.OnExitFilled(-2)
	assert.Equal(t, domain.RiskFlat, c.State())
}

func TestHaltForcesExitAndBlocksEntries(t *testing.T) {
	c := NewController(Config{StopAbs: 50, TakeProfitAbs: 100}, slog.Default())
	pos := longPos(100, 1)
	c.OnEntry(pos)
	c.Halt()

	req, fire := c.CheckExit(pos, 100, 0, time.Now())
	require.True(t, fire)
	assert.Equal(t, "equity_halt", req.Reason)

	v := twoSidedView(t, 99, 101)
	assert.Error(t, c.AllowEntry(domain.OrderSideBuy, domain.ToUnits(1), domain.Position{Side: domain.PositionFlat}, v))
}

func TestAllowEntryInventoryCeiling(t *testing.T) {
	c := NewController(Config{MaxInventory: 1.0}, slog.Default())
	v := twoSidedView(t, 99, 101)

	pos := longPos(100, 0.8)
	err := c.AllowEntry(domain.OrderSideBuy, domain.ToUnits(0.3), pos, v)
	assert.Error(t, err)
	assert.NoError(t, c.AllowEntry(domain.OrderSideBuy, domain.ToUnits(0.2), pos, v))
}

func TestAllowEntryExposureCeiling(t *testing.T) {
	c := NewController(Config{MaxExposure: 150}, slog.Default())
	v := twoSidedView(t, 99, 101) // mid 100

	err := c.AllowEntry(domain.OrderSideBuy, domain.ToUnits(2), domain.Position{Side: domain.PositionFlat}, v)
	assert.Error(t, err)
	assert.NoError(t, c.AllowEntry(domain.OrderSideBuy, domain.ToUnits(1), domain.Position{Side: domain.PositionFlat}, v))
}

func TestDrawdownGuard(t *testing.T) {
	g := NewDrawdownGuard(0.10)
	assert.False(t, g.Observe(1000))
	assert.False(t, g.Observe(950))
	assert.True(t, g.Observe(900)) // 10% off the 1000 peak
	// Latched: recovery does not untrip.
	assert.True(t, g.Observe(1100))
	assert.True(t, g.Tripped())
}

func TestDrawdownGuardDisabled(t *testing.T) {
	g := NewDrawdownGuard(0)
	assert.False(t, g.Observe(1000))
	assert.False(t, g.Observe(1))
}
