package strategy

import (
	"fmt"
	"log/slog"

	"github.com/sgerhardt/quotebot/internal/book"
	"github.com/sgerhardt/quotebot/internal/domain"
)

const (
	defaultImbalanceThreshold = 0.3
	defaultImbalanceDepth     = 10
)

// Imbalance trades the short-horizon directional signal in resting depth:
// when bids outweigh asks beyond a threshold it buys, and the mirror case
// sells. The following keys are read from cfg.Params:
//
//   - "threshold" (float64): absolute imbalance needed before a signal is
//     emitted. Defaults to 0.3.
//   - "depth" (int): number of levels per side feeding the imbalance.
//     Defaults to 10.
type Imbalance struct {
	cfg       Config
	threshold float64
	depth     int
	logger    *slog.Logger
}

// NewImbalance creates an Imbalance quoter.
func NewImbalance(cfg Config, logger *slog.Logger) *Imbalance {
	return &Imbalance{
		cfg:       cfg,
		threshold: cfg.floatParam("threshold", defaultImbalanceThreshold),
		depth:     cfg.intParam("depth", defaultImbalanceDepth),
		logger:    logger.With(slog.String("strategy", "imbalance")),
	}
}

// Name returns the quoter identifier.
func (s *Imbalance) Name() string { return "imbalance" }

// Decide emits a buy when depth imbalance exceeds the threshold and a sell
// when it falls below the negated threshold, inventory cap permitting.
func (s *Imbalance) Decide(v book.View, l LedgerView) domain.TradeIntent {
	if !v.TwoSided() {
		return domain.NoIntent
	}
	imb := v.Imbalance(s.depth)
	size := domain.ToUnits(s.cfg.OrderSize)
	pos := l.Position()

	if imb >= s.threshold && s.cfg.withinInventory(pos, s.cfg.OrderSize) {
		s.logger.Debug("imbalance buy", slog.Float64("imbalance", imb))
		return domain.TradeIntent{
			Side:      domain.OrderSideBuy,
			SizeUnits: size,
			Reason:    fmt.Sprintf("imbalance %.3f >= %.3f", imb, s.threshold),
		}
	}
	if imb <= -s.threshold && s.cfg.withinInventory(pos, -s.cfg.OrderSize) {
		s.logger.Debug("imbalance sell", slog.Float64("imbalance", imb))
		return domain.TradeIntent{
			Side:      domain.OrderSideSell,
			SizeUnits: size,
			Reason:    fmt.Sprintf("imbalance %.3f <= %.3f", imb, -s.threshold),
		}
	}
	return domain.NoIntent
}
