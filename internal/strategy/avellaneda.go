package strategy

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sgerhardt/quotebot/internal/book"
	"github.com/sgerhardt/quotebot/internal/domain"
)

const (
	defaultGamma       = 0.05
	defaultFillDecayK  = 1.2
	defaultTimeHorizon = 30.0
	defaultSigmaWindow = 200
)

// Avellaneda quotes around the Avellaneda-Stoikov reservation price
//
//	r = S - q*gamma*sigma^2*T
//
// with the optimal half-spread derived from gamma and the fill-decay
// parameter k. Volatility is the variance of log mid returns over a rolling
// window. The following keys are read from cfg.Params:
//
//   - "gamma" (float64): inventory risk aversion. Defaults to 0.05.
//   - "k" (float64): order-flow fill decay. Defaults to 1.2.
//   - "time_horizon" (float64): quoting horizon T in seconds. Defaults to 30.
//   - "sigma_window" (int): mid observations feeding sigma^2. Defaults to 200.
type Avellaneda struct {
	cfg     Config
	gamma   float64
	k       float64
	horizon float64
	tracker *MidTracker
	now     func() time.Time
	logger  *slog.Logger
}

// NewAvellaneda creates an Avellaneda quoter.
func NewAvellaneda(cfg Config, logger *slog.Logger) *Avellaneda {
	return &Avellaneda{
		cfg:     cfg,
		gamma:   cfg.floatParam("gamma", defaultGamma),
		k:       cfg.floatParam("k", defaultFillDecayK),
		horizon: cfg.floatParam("time_horizon", defaultTimeHorizon),
		tracker: NewMidTracker(cfg.intParam("sigma_window", defaultSigmaWindow)),
		now:     time.Now,
		logger:  logger.With(slog.String("strategy", "avellaneda")),
	}
}

// Name returns the quoter identifier.
func (s *Avellaneda) Name() string { return "avellaneda" }

// Decide computes the reservation price and optimal spread, then crosses when
// its own quote would improve on the market: a bid above the best bid lifts
// the market, an ask below the best ask hits it.
func (s *Avellaneda) Decide(v book.View, l LedgerView) domain.TradeIntent {
	if !v.TwoSided() {
		return domain.NoIntent
	}
	mid := v.Mid()
	s.tracker.Track(mid, s.now())

	pos := l.Position()
	q := pos.Size() * pos.Side.Sign()
	sigma2 := s.tracker.Sigma2()

	r := mid - q*s.gamma*sigma2*s.horizon
	spread := s.gamma*sigma2*s.horizon + (2/s.gamma)*math.Log(1+s.gamma/s.k)
	bid := r - spread/2
	ask := r + spread/2

	size := domain.ToUnits(s.cfg.OrderSize)

	if bid > v.BestBid.Price() && s.cfg.withinInventory(pos, s.cfg.OrderSize) {
		s.logger.Debug("reservation bid crosses market",
			slog.Float64("bid", bid),
			slog.Float64("reservation", r),
			slog.Float64("sigma2", sigma2),
		)
		return domain.TradeIntent{
			Side:      domain.OrderSideBuy,
			SizeUnits: size,
			Reason:    fmt.Sprintf("as bid %.6f > best bid %.6f", bid, v.BestBid.Price()),
		}
	}
	if ask < v.BestAsk.Price() && s.cfg.withinInventory(pos, -s.cfg.OrderSize) {
		s.logger.Debug("reservation ask crosses market",
			slog.Float64("ask", ask),
			slog.Float64("reservation", r),
			slog.Float64("sigma2", sigma2),
		)
		return domain.TradeIntent{
			Side:      domain.OrderSideSell,
			SizeUnits: size,
			Reason:    fmt.Sprintf("as ask %.6f < best ask %.6f", ask, v.BestAsk.Price()),
		}
	}
	return domain.NoIntent
}
