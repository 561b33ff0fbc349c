package risk

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgerhardt/quotebot/internal/book"
	"github.com/sgerhardt/quotebot/internal/domain"
)

func viewWithDepth(t *testing.T, bidQty, askQty float64) book.View {
	t.Helper()
	b := book.New("BTC/USD", slog.Default())
	require.NoError(t, b.ApplySnapshot([]domain.SignedLevel{
		{PriceTicks: domain.ToTicks(99), SizeUnits: domain.ToUnits(bidQty)},
		{PriceTicks: domain.ToTicks(101), SizeUnits: -domain.ToUnits(askQty)},
	}))
	return b.View(0)
}

func TestAdverseOneSidedBookVetoed(t *testing.T) {
	f := newAdverseFilter(AdverseConfig{})
	b := book.New("BTC/USD", slog.Default())
	require.NoError(t, b.ApplySnapshot([]domain.SignedLevel{
		{PriceTicks: domain.ToTicks(99), SizeUnits: domain.ToUnits(1)},
	}))
	assert.Error(t, f.allow(domain.OrderSideBuy, b.View(0)))
}

func TestAdverseSpreadRatio(t *testing.T) {
	// Spread 2 over mid 100 is 2%.
	f := newAdverseFilter(AdverseConfig{MinSpreadRatio: 0.03})
	assert.Error(t, f.allow(domain.OrderSideBuy, viewWithDepth(t, 1, 1)))

	f = newAdverseFilter(AdverseConfig{MinSpreadRatio: 0.01})
	assert.NoError(t, f.allow(domain.OrderSideBuy, viewWithDepth(t, 1, 1)))
}

func TestAdverseDepthDrain(t *testing.T) {
	f := newAdverseFilter(AdverseConfig{DeltaThreshold: 0.5})

	// First check only primes the baseline.
	assert.NoError(t, f.allow(domain.OrderSideBuy, viewWithDepth(t, 5, 5)))

	// Ask side drained 2.0 since the last check: buys are vetoed,
	// sells only look at the bid side.
	drained := viewWithDepth(t, 5, 3)
	assert.Error(t, f.allow(domain.OrderSideBuy, drained))
	assert.NoError(t, f.allow(domain.OrderSideSell, drained))

	// The veto itself advanced the baseline, so a steady book passes.
	assert.NoError(t, f.allow(domain.OrderSideBuy, viewWithDepth(t, 5, 3)))
}

func TestAdverseDepthGrowthPasses(t *testing.T) {
	f := newAdverseFilter(AdverseConfig{DeltaThreshold: 0.5})
	assert.NoError(t, f.allow(domain.OrderSideBuy, viewWithDepth(t, 5, 5)))
	assert.NoError(t, f.allow(domain.OrderSideBuy, viewWithDepth(t, 5, 9)))
}

func TestAdverseToxicityFloor(t *testing.T) {
	f := newAdverseFilter(AdverseConfig{ToxicityFloor: -0.5, Alpha: 0.5})

	// Unscored: no veto.
	assert.NoError(t, f.allow(domain.OrderSideBuy, viewWithDepth(t, 1, 1)))

	f.recordPnL(-3.0)
	assert.Error(t, f.allow(domain.OrderSideBuy, viewWithDepth(t, 1, 1)))

	// EWMA recovers: -3 -> 0.5*1 + 0.5*(-3) = -1 -> 0.5*1 + 0.5*(-1) = 0.
	f.recordPnL(1.0)
	assert.Error(t, f.allow(domain.OrderSideBuy, viewWithDepth(t, 1, 1)))
	f.recordPnL(1.0)
	assert.NoError(t, f.allow(domain.OrderSideBuy, viewWithDepth(t, 1, 1)))
}

func TestAdverseFirstSampleSeedsToxicity(t *testing.T) {
	f := newAdverseFilter(AdverseConfig{Alpha: 0.2})
	f.recordPnL(2.5)
	assert.InDelta(t, 2.5, f.toxicity, 1e-9)
	f.recordPnL(0)
	assert.InDelta(t, 2.0, f.toxicity, 1e-9)
}
