package strategy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sgerhardt/quotebot/internal/book"
	"github.com/sgerhardt/quotebot/internal/domain"
)

const (
	defaultVelocityThreshold = 0.5
	defaultVelocityWindow    = 100
)

// Momentum rides short bursts of mid-price velocity: it buys into a fast
// upward move and sells into a fast downward one. The following keys are read
// from cfg.Params:
//
//   - "velocity_threshold" (float64): mid-price change per second needed
//     before a signal is emitted. Defaults to 0.5.
//   - "window" (int): mid observations feeding the velocity estimate.
//     Defaults to 100.
type Momentum struct {
	cfg       Config
	threshold float64
	tracker   *MidTracker
	now       func() time.Time
	logger    *slog.Logger
}

// NewMomentum creates a Momentum quoter.
func NewMomentum(cfg Config, logger *slog.Logger) *Momentum {
	return &Momentum{
		cfg:       cfg,
		threshold: cfg.floatParam("velocity_threshold", defaultVelocityThreshold),
		tracker:   NewMidTracker(cfg.intParam("window", defaultVelocityWindow)),
		now:       time.Now,
		logger:    logger.With(slog.String("strategy", "momentum")),
	}
}

// Name returns the quoter identifier.
func (s *Momentum) Name() string { return "momentum" }

// Decide emits a buy when mid velocity exceeds the threshold and a sell when
// it drops below the negated threshold, inventory cap permitting.
func (s *Momentum) Decide(v book.View, l LedgerView) domain.TradeIntent {
	if !v.TwoSided() {
		return domain.NoIntent
	}
	s.tracker.Track(v.Mid(), s.now())

	vel := s.tracker.Velocity()
	size := domain.ToUnits(s.cfg.OrderSize)
	pos := l.Position()

	if vel > s.threshold && s.cfg.withinInventory(pos, s.cfg.OrderSize) {
		s.logger.Debug("momentum buy", slog.Float64("velocity", vel))
		return domain.TradeIntent{
			Side:      domain.OrderSideBuy,
			SizeUnits: size,
			Reason:    fmt.Sprintf("velocity %.4f/s > %.4f/s", vel, s.threshold),
		}
	}
	if vel < -s.threshold && s.cfg.withinInventory(pos, -s.cfg.OrderSize) {
		s.logger.Debug("momentum sell", slog.Float64("velocity", vel))
		return domain.TradeIntent{
			Side:      domain.OrderSideSell,
			SizeUnits: size,
			Reason:    fmt.Sprintf("velocity %.4f/s < %.4f/s", vel, -s.threshold),
		}
	}
	return domain.NoIntent
}
