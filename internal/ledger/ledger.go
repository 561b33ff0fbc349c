// Package ledger owns the paper account: cash balance, open inventory,
// average entry price, realized PnL, and the bounded trade-history ring.
package ledger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sgerhardt/quotebot/internal/domain"
)

// Config holds ledger parameters.
type Config struct {
	InitialBalance float64
	FeeRate        float64
	// Spot disallows selling more than the held inventory. When false the
	// account may run short.
	Spot bool
	// AllowFlip permits a reducing fill larger than the open position to
	// cross through flat into the opposite side. Off by default: such a
	// fill fails with ErrOverFill.
	AllowFlip    bool
	HistoryLimit int
}

// Ledger tracks one instrument's paper account. It is single-writer: only
// the engine tick loop applies fills.
type Ledger struct {
	instrument string
	cfg        Config
	cash       float64
	realized   float64
	pos        domain.Position
	hist       *history
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Ledger funded with cfg.InitialBalance.
func New(instrument string, cfg Config, logger *slog.Logger) *Ledger {
	return &Ledger{
		instrument: instrument,
		cfg:        cfg,
		cash:       cfg.InitialBalance,
		pos:        domain.Position{Side: domain.PositionFlat},
		hist:       newHistory(cfg.HistoryLimit),
		logger: logger.With(
			slog.String("component", "ledger"),
			slog.String("instrument", instrument),
		),
		now: time.Now,
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 { return l.cash }

// RealizedPnL returns the running sum of closed-trade PnL.
func (l *Ledger) RealizedPnL() float64 { return l.realized }

// Position returns a copy of the open position.
func (l *Ledger) Position() domain.Position { return l.pos }

// UnrealizedPnL values the open position at the given mark price.
func (l *Ledger) UnrealizedPnL(mark float64) float64 { return l.pos.UnrealizedPnL(mark) }

// Equity is cash plus unrealized PnL at the given mark price.
func (l *Ledger) Equity(mark float64) float64 { return l.cash + l.pos.UnrealizedPnL(mark) }

// LastTrades returns the bounded history, oldest first.
func (l *Ledger) LastTrades() []domain.TradeRecord { return l.hist.list() }

// Precheck verifies a prospective order against balance and inventory limits
// before any liquidity is consumed. estPrice should be the quoted VWAP of
// the prospective fill so a multi-level walk is checked at the price it
// would actually execute at. The checks mirror ApplyFill's; a passing
// Precheck makes ApplyFill rejection on the same tick effectively
// impossible.
func (l *Ledger) Precheck(side domain.OrderSide, units int64, estPrice float64) error {
	if units <= 0 {
		return fmt.Errorf("ledger: non-positive size %d", units)
	}
	switch side {
	case domain.OrderSideBuy:
		if l.pos.Side != domain.PositionShort {
			cost := estPrice * domain.UnitSize(units) * (1 + l.cfg.FeeRate)
			if cost > l.cash {
				return fmt.Errorf("ledger: cost %.2f > cash %.2f: %w",
					cost, l.cash, domain.ErrInsufficientBalance)
			}
		}
	case domain.OrderSideSell:
		if l.cfg.Spot {
			held := int64(0)
			if l.pos.Side == domain.PositionLong {
				held = l.pos.SizeUnits
			}
			if units > held {
				return fmt.Errorf("ledger: sell %v > held %v: %w",
					domain.UnitSize(units), domain.UnitSize(held), domain.ErrInsufficientInventory)
			}
		}
	}
	if !l.cfg.AllowFlip && l.reduces(side) && units > l.pos.SizeUnits {
		return fmt.Errorf("ledger: reduce %v > open %v: %w",
			domain.UnitSize(units), l.pos.Size(), domain.ErrOverFill)
	}
	return nil
}

func (l *Ledger) reduces(side domain.OrderSide) bool {
	return (l.pos.Side == domain.PositionLong && side == domain.OrderSideSell) ||
		(l.pos.Side == domain.PositionShort && side == domain.OrderSideBuy)
}

// ApplyFill books a simulated fill into the account: entries debit/credit
// cash net of fees and reweight the average entry price; exits realize PnL
// against the average entry and append a closed trade record. The ledger is
// not mutated when the fill is rejected.
func (l *Ledger) ApplyFill(res domain.FillResult, reason string) (domain.TradeRecord, error) {
	if res.FilledUnits <= 0 {
		return domain.TradeRecord{}, fmt.Errorf("ledger: empty fill result")
	}
	if err := l.Precheck(res.Side, res.FilledUnits, res.VWAP); err != nil {
		return domain.TradeRecord{}, err
	}

	if l.pos.IsFlat() || !l.reduces(res.Side) {
		return l.applyEntry(res, reason), nil
	}
	return l.applyExit(res, reason), nil
}

func (l *Ledger) applyEntry(res domain.FillResult, reason string) domain.TradeRecord {
	notional := res.Notional()
	fee := notional * l.cfg.FeeRate
	if res.Side == domain.OrderSideBuy {
		l.cash -= notional + fee
	} else {
		l.cash += notional - fee
	}

	if l.pos.IsFlat() {
		side := domain.PositionLong
		if res.Side == domain.OrderSideSell {
			side = domain.PositionShort
		}
		l.pos = domain.Position{
			Side:      side,
			SizeUnits: res.FilledUnits,
			AvgEntry:  res.VWAP,
			OpenedAt:  l.now(),
		}
	} else {
		oldNotional := l.pos.AvgEntry * l.pos.Size()
		l.pos.SizeUnits += res.FilledUnits
		l.pos.AvgEntry = (oldNotional + notional) / l.pos.Size()
	}

	rec := l.record(res, nil, reason)
	l.logger.Info("entry filled",
		slog.String("side", string(res.Side)),
		slog.Float64("vwap", res.VWAP),
		slog.Float64("size", res.Filled()),
		slog.Float64("avg_entry", l.pos.AvgEntry),
	)
	return rec
}

func (l *Ledger) applyExit(res domain.FillResult, reason string) domain.TradeRecord {
	closing := res.FilledUnits
	if closing > l.pos.SizeUnits {
		closing = l.pos.SizeUnits
	}
	closingSize := domain.UnitSize(closing)

	notional := res.Notional()
	fee := notional * l.cfg.FeeRate
	if res.Side == domain.OrderSideSell {
		l.cash += notional - fee
	} else {
		l.cash -= notional + fee
	}

	pnl := (res.VWAP - l.pos.AvgEntry) * closingSize * l.pos.Side.Sign()
	l.realized += pnl

	remainder := res.FilledUnits - l.pos.SizeUnits
	l.pos.SizeUnits -= closing
	if l.pos.SizeUnits == 0 {
		prior := l.pos.Side
		l.pos = domain.Position{Side: domain.PositionFlat}
		if remainder > 0 {
			// Flip-through: the excess opens the opposite side at the
			// same execution price. Only reachable with AllowFlip.
			side := domain.PositionLong
			if prior == domain.PositionLong {
				side = domain.PositionShort
			}
			l.pos = domain.Position{
				Side:      side,
				SizeUnits: remainder,
				AvgEntry:  res.VWAP,
				OpenedAt:  l.now(),
			}
		}
	}

	rec := l.record(res, &pnl, reason)
	l.logger.Info("exit filled",
		slog.String("side", string(res.Side)),
		slog.Float64("vwap", res.VWAP),
		slog.Float64("size", res.Filled()),
		slog.Float64("realized_pnl", pnl),
	)
	return rec
}

func (l *Ledger) record(res domain.FillResult, pnl *float64, reason string) domain.TradeRecord {
	rec := domain.TradeRecord{
		ID:          uuid.NewString(),
		Instrument:  l.instrument,
		Time:        l.now(),
		Side:        res.Side,
		Price:       res.VWAP,
		Size:        res.Filled(),
		RealizedPnL: pnl,
		Reason:      reason,
	}
	l.hist.push(rec)
	return rec
}

// Restore rehydrates the account from a persisted snapshot, including the
// trade-history ring. Used when resuming a session.
func (l *Ledger) Restore(snap domain.StatusSnapshot) {
	l.cash = snap.CashBalance
	l.realized = snap.RealizedPnL
	l.pos = snap.Position
	l.hist = newHistory(l.cfg.HistoryLimit)
	for _, rec := range snap.LastTrades {
		l.hist.push(rec)
	}
}
