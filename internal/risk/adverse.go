package risk

import (
	"fmt"

	"github.com/sgerhardt/quotebot/internal/book"
	"github.com/sgerhardt/quotebot/internal/domain"
)

// AdverseConfig tunes the adverse-selection entry filter.
type AdverseConfig struct {
	// MinSpreadRatio is the minimum spread/mid ratio for the book to be
	// considered informative enough to trade.
	MinSpreadRatio float64
	// DeltaThreshold is the maximum drain of resting depth on the taken
	// side between two checks before an entry is vetoed (a moving wall
	// will reprice before a paper order would realistically fill).
	DeltaThreshold float64
	// ToxicityFloor vetoes entries while the rolling per-trade realized
	// PnL average sits below this level.
	ToxicityFloor float64
	// Depth is how many levels feed the drain volumes.
	Depth int
	// Alpha is the EWMA weight for the toxicity score.
	Alpha float64
}

// adverseFilter rejects entries likely to be picked off by better-informed
// flow. It is stateful: depth drain is measured against the previous check
// and toxicity is an EWMA over realized PnL per closed trade.
type adverseFilter struct {
	cfg        AdverseConfig
	prevBidVol float64
	prevAskVol float64
	primed     bool
	toxicity   float64
	scored     bool
}

func newAdverseFilter(cfg AdverseConfig) *adverseFilter {
	if cfg.Depth <= 0 {
		cfg.Depth = 10
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = 0.2
	}
	return &adverseFilter{cfg: cfg}
}

// allow checks one prospective entry. It must be called at most once per
// tick: every call advances the drain baseline.
func (f *adverseFilter) allow(side domain.OrderSide, v book.View) error {
	mid := v.Mid()
	if mid <= 0 {
		return fmt.Errorf("risk: book one-sided")
	}

	if f.cfg.MinSpreadRatio > 0 && v.Spread()/mid < f.cfg.MinSpreadRatio {
		return fmt.Errorf("risk: spread ratio %.2e below %.2e",
			v.Spread()/mid, f.cfg.MinSpreadRatio)
	}

	bidVol := v.DepthVolume(domain.BookSideBid, f.cfg.Depth)
	askVol := v.DepthVolume(domain.BookSideAsk, f.cfg.Depth)
	bidDelta := f.prevBidVol - bidVol
	askDelta := f.prevAskVol - askVol
	primed := f.primed
	f.prevBidVol, f.prevAskVol = bidVol, askVol
	f.primed = true

	if primed && f.cfg.DeltaThreshold > 0 {
		if side == domain.OrderSideBuy && askDelta > f.cfg.DeltaThreshold {
			return fmt.Errorf("risk: ask depth drained %.4f > %.4f", askDelta, f.cfg.DeltaThreshold)
		}
		if side == domain.OrderSideSell && bidDelta > f.cfg.DeltaThreshold {
			return fmt.Errorf("risk: bid depth drained %.4f > %.4f", bidDelta, f.cfg.DeltaThreshold)
		}
	}

	if f.scored && f.toxicity < f.cfg.ToxicityFloor {
		return fmt.Errorf("risk: toxicity %.4f below floor %.4f", f.toxicity, f.cfg.ToxicityFloor)
	}
	return nil
}

// recordPnL folds one closed trade's realized PnL into the toxicity score.
func (f *adverseFilter) recordPnL(pnl float64) {
	if !f.scored {
		f.toxicity = pnl
		f.scored = true
		return
	}
	f.toxicity = f.cfg.Alpha*pnl + (1-f.cfg.Alpha)*f.toxicity
}
