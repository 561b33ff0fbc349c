// Package risk overlays the paper account with exit management and entry
// gating: trailing stops, take-profit, force-close triggers, inventory and
// exposure ceilings, and an adverse-selection filter.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sgerhardt/quotebot/internal/book"
	"github.com/sgerhardt/quotebot/internal/domain"
)

// Config holds the tunable risk parameters. Percentage and absolute offsets
// are alternatives; when both are set the absolute value wins.
type Config struct {
	TakeProfitPct float64
	TakeProfitAbs float64
	StopPct       float64
	StopAbs       float64

	// ForceClosePnL force-closes the position once unrealized PnL reaches
	// this level. Zero disables the trigger.
	ForceClosePnL float64
	// MaxHold force-closes positions older than this. Zero disables.
	MaxHold time.Duration
	// ForceCloseMaxRetries caps retries of an unfillable forced exit
	// before escalating. Zero retries forever.
	ForceCloseMaxRetries int

	// MaxInventory caps the open position size. Zero disables.
	MaxInventory float64
	// MaxExposure caps position notional at the mark price. Zero disables.
	MaxExposure float64

	Adverse AdverseConfig
}

// ExitRequest is a forced exit decision: close the full open quantity.
type ExitRequest struct {
	Side   domain.OrderSide
	Units  int64
	Reason string
}

// Controller runs the per-position risk state machine
// flat -> open -> force_closing -> flat. Single-writer, driven by the engine
// tick loop.
type Controller struct {
	cfg     Config
	state   domain.RiskState
	stop    float64
	take    float64
	retries int
	halted  bool
	filter  *adverseFilter
	logger  *slog.Logger
}

// NewController creates a Controller in the flat state.
func NewController(cfg Config, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		state:  domain.RiskFlat,
		filter: newAdverseFilter(cfg.Adverse),
		logger: logger.With(slog.String("component", "risk")),
	}
}

// State returns the current state machine state.
func (c *Controller) State() domain.RiskState { return c.state }

// StopPrice returns the current trailing stop (0 while flat).
func (c *Controller) StopPrice() float64 { return c.stop }

// TakeProfitPrice returns the take-profit level (0 while flat).
func (c *Controller) TakeProfitPrice() float64 { return c.take }

// Halt stops all new entries and force-closes on the next check. Used by the
// global drawdown guard.
func (c *Controller) Halt() { c.halted = true }

// Halted reports whether trading is halted.
func (c *Controller) Halted() bool { return c.halted }

// OnEntry transitions flat -> open and arms the stop and take-profit levels
// around the entry price.
func (c *Controller) OnEntry(pos domain.Position) {
	c.state = domain.RiskOpen
	c.retries = 0
	dir := pos.Side.Sign()

	c.stop, c.take = 0, 0
	if c.cfg.StopPct > 0 || c.cfg.StopAbs > 0 {
		stopOff := pos.AvgEntry * c.cfg.StopPct
		if c.cfg.StopAbs > 0 {
			stopOff = c.cfg.StopAbs
		}
		c.stop = pos.AvgEntry - dir*stopOff
	}
	if c.cfg.TakeProfitPct > 0 || c.cfg.TakeProfitAbs > 0 {
		takeOff := pos.AvgEntry * c.cfg.TakeProfitPct
		if c.cfg.TakeProfitAbs > 0 {
			takeOff = c.cfg.TakeProfitAbs
		}
		c.take = pos.AvgEntry + dir*takeOff
	}

	c.logger.Info("position opened",
		slog.String("side", string(pos.Side)),
		slog.Float64("entry", pos.AvgEntry),
		slog.Float64("stop", c.stop),
		slog.Float64("take_profit", c.take),
	)
}

// Ratchet advances the trailing stop on favorable mark moves only; an
// unfavorable move never loosens it.
func (c *Controller) Ratchet(pos domain.Position, mark float64) {
	if c.state != domain.RiskOpen || mark <= 0 || pos.IsFlat() {
		return
	}
	if c.cfg.StopPct <= 0 && c.cfg.StopAbs <= 0 {
		return
	}
	stopOff := mark * c.cfg.StopPct
	if c.cfg.StopAbs > 0 {
		stopOff = c.cfg.StopAbs
	}
	switch pos.Side {
	case domain.PositionLong:
		if s := mark - stopOff; s > c.stop {
			c.stop = s
		}
	case domain.PositionShort:
		if s := mark + stopOff; s < c.stop {
			c.stop = s
		}
	}
}

// CheckExit evaluates the open position against every exit trigger and
// returns a full-quantity opposing exit request when one fires. The
// controller stays in force_closing until OnExitFilled, so an exit that
// found no liquidity is retried on the next tick.
func (c *Controller) CheckExit(pos domain.Position, mark float64, unrealized float64, now time.Time) (ExitRequest, bool) {
	if pos.IsFlat() {
		return ExitRequest{}, false
	}
	c.Ratchet(pos, mark)

	if c.state == domain.RiskForceClosing {
		return c.exitRequest(pos, "force_close_retry"), true
	}

	var reason string
	switch {
	case c.halted:
		reason = "equity_halt"
	case c.stop > 0 && mark > 0 && pos.Side == domain.PositionLong && mark <= c.stop:
		reason = "trailing_stop"
	case c.stop > 0 && mark > 0 && pos.Side == domain.PositionShort && mark >= c.stop:
		reason = "trailing_stop"
	case c.take > 0 && mark > 0 && pos.Side == domain.PositionLong && mark >= c.take:
		reason = "take_profit"
	case c.take > 0 && mark > 0 && pos.Side == domain.PositionShort && mark <= c.take:
		reason = "take_profit"
	case c.cfg.ForceClosePnL > 0 && unrealized >= c.cfg.ForceClosePnL:
		reason = "force_close_pnl"
	case c.cfg.MaxHold > 0 && !pos.OpenedAt.IsZero() && now.Sub(pos.OpenedAt) >= c.cfg.MaxHold:
		reason = "max_hold"
	default:
		return ExitRequest{}, false
	}

	c.state = domain.RiskForceClosing
	c.logger.Info("force close triggered",
		slog.String("reason", reason),
		slog.Float64("mark", mark),
		slog.Float64("unrealized", unrealized),
	)
	return c.exitRequest(pos, reason), true
}

func (c *Controller) exitRequest(pos domain.Position, reason string) ExitRequest {
	side := domain.OrderSideSell
	if pos.Side == domain.PositionShort {
		side = domain.OrderSideBuy
	}
	return ExitRequest{Side: side, Units: pos.SizeUnits, Reason: reason}
}

// OnExitFilled transitions force_closing -> flat after the exit fill lands.
func (c *Controller) OnExitFilled(pnl float64) {
	c.state = domain.RiskFlat
	c.stop, c.take = 0, 0
	c.retries = 0
	c.filter.recordPnL(pnl)
}

// OnTradeClosed feeds a voluntary (strategy-driven) exit's realized PnL into
// the toxicity score and resets the state machine when flat.
func (c *Controller) OnTradeClosed(pnl float64, flat bool) {
	c.filter.recordPnL(pnl)
	if flat {
		c.state = domain.RiskFlat
		c.stop, c.take = 0, 0
	}
}

// OnExitUnfillable records a forced exit that found no opposing liquidity.
// It returns an error once the configured retry cap is breached; the caller
// reports the condition and keeps the position flagged, never drops it.
func (c *Controller) OnExitUnfillable() error {
	c.retries++
	c.logger.Warn("force close unfillable, will retry", slog.Int("attempt", c.retries))
	if c.cfg.ForceCloseMaxRetries > 0 && c.retries >= c.cfg.ForceCloseMaxRetries {
		return fmt.Errorf("risk: %d attempts: %w", c.retries, domain.ErrUnfillableForceClose)
	}
	return nil
}

// AllowEntry gates a prospective flat->open (or add) entry: trading halts,
// inventory and exposure ceilings, then the adverse-selection filter.
func (c *Controller) AllowEntry(side domain.OrderSide, units int64, pos domain.Position, v book.View) error {
	if c.halted {
		return fmt.Errorf("risk: trading halted")
	}
	if c.state == domain.RiskForceClosing {
		return fmt.Errorf("risk: force close in progress")
	}
	if c.cfg.MaxInventory > 0 {
		after := pos.Size() + domain.UnitSize(units)
		if after > c.cfg.MaxInventory {
			return fmt.Errorf("risk: inventory %.6f would exceed max %.6f", after, c.cfg.MaxInventory)
		}
	}
	if c.cfg.MaxExposure > 0 && v.Mid() > 0 {
		after := (pos.Size() + domain.UnitSize(units)) * v.Mid()
		if after > c.cfg.MaxExposure {
			return fmt.Errorf("risk: exposure %.2f would exceed max %.2f", after, c.cfg.MaxExposure)
		}
	}
	return c.filter.allow(side, v)
}

// DrawdownGuard halts every engine once account equity falls a configured
// fraction below its running peak. Shared across instruments, so it is the
// one concurrency-safe piece of the risk package.
type DrawdownGuard struct {
	mu      sync.Mutex
	maxDD   float64
	peak    float64
	tripped bool
}

// NewDrawdownGuard creates a guard; maxDrawdown is a fraction of peak equity
// (0.2 = halt after a 20% drawdown). Zero disables the guard.
func NewDrawdownGuard(maxDrawdown float64) *DrawdownGuard {
	return &DrawdownGuard{maxDD: maxDrawdown}
}

// Observe records the latest total equity and reports whether the guard has
// tripped (including on this observation).
func (g *DrawdownGuard) Observe(equity float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tripped {
		return true
	}
	if equity > g.peak {
		g.peak = equity
	}
	if g.maxDD > 0 && g.peak > 0 && equity <= g.peak*(1-g.maxDD) {
		g.tripped = true
	}
	return g.tripped
}

// Tripped reports whether the guard has fired.
func (g *DrawdownGuard) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped
}
