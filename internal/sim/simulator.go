package sim

import (
	"fmt"
	"log/slog"

	"github.com/sgerhardt/quotebot/internal/book"
	"github.com/sgerhardt/quotebot/internal/domain"
)

// FillPolicy selects how a partially coverable order is handled. The policy
// is fixed at construction and applied uniformly; mixing policies per call
// silently breaks PnL accounting downstream.
type FillPolicy string

const (
	// FillPolicyAllOrNothing rejects the whole order and leaves the book
	// untouched when the opposing side cannot supply the full quantity.
	FillPolicyAllOrNothing FillPolicy = "all_or_nothing"
	// FillPolicyPartial accepts whatever the opposing side can supply.
	FillPolicyPartial FillPolicy = "partial"
)

// Simulator fills paper orders by walking the opposing side of the book in
// price-priority order and consuming the resting liquidity it crosses.
type Simulator struct {
	slip   SlippageModel
	policy FillPolicy
	logger *slog.Logger
}

// New creates a Simulator with the given slippage model and fill policy.
func New(slip SlippageModel, policy FillPolicy, logger *slog.Logger) *Simulator {
	if policy == "" {
		policy = FillPolicyAllOrNothing
	}
	return &Simulator{
		slip:   slip,
		policy: policy,
		logger: logger.With(slog.String("component", "simulator")),
	}
}

// Quote prices a taker order of the given side and size against b without
// mutating the book. Buys walk asks from the lowest price up, sells walk bids
// from the highest price down. Each crossed level yields one fill at
// level_price * (1 + slippage). Under the all-or-nothing policy an order the
// opposing side cannot fully supply returns ErrNoLiquidity. A quote is only
// valid against the book state it was priced on; apply it with Commit before
// the next event mutates b.
func (s *Simulator) Quote(b *book.Book, side domain.OrderSide, units int64) (domain.FillResult, error) {
	if units <= 0 {
		return domain.FillResult{}, fmt.Errorf("sim: non-positive size %d", units)
	}

	opposing := domain.BookSideAsk
	if side == domain.OrderSideSell {
		opposing = domain.BookSideBid
	}
	levels := b.Levels(opposing, 0)

	if s.policy == FillPolicyAllOrNothing {
		var avail int64
		for _, l := range levels {
			avail += l.SizeUnits
			if avail >= units {
				break
			}
		}
		if avail < units {
			return domain.FillResult{}, fmt.Errorf(
				"sim: %s %v against %s side: %w",
				side, domain.UnitSize(units), opposing, domain.ErrNoLiquidity)
		}
	}

	res := domain.FillResult{Side: side}
	remaining := units
	var notional float64
	for _, l := range levels {
		if remaining <= 0 {
			break
		}
		taken := l.SizeUnits
		if taken > remaining {
			taken = remaining
		}
		if taken == 0 {
			continue
		}
		exec := l.Price() * (1 + s.slip.Draw())
		res.Fills = append(res.Fills, domain.Fill{
			PriceTicks: l.PriceTicks,
			ExecPrice:  exec,
			SizeUnits:  taken,
		})
		notional += exec * domain.UnitSize(taken)
		res.FilledUnits += taken
		remaining -= taken
	}

	if res.FilledUnits == 0 {
		return domain.FillResult{}, fmt.Errorf("sim: %s side empty: %w", opposing, domain.ErrNoLiquidity)
	}
	res.VWAP = notional / res.Filled()
	return res, nil
}

// Commit consumes the resting liquidity priced by a prior Quote, mutating b.
// Each fill is decremented on the book exactly at the level it was priced
// against.
func (s *Simulator) Commit(b *book.Book, res domain.FillResult) {
	opposing := domain.BookSideAsk
	if res.Side == domain.OrderSideSell {
		opposing = domain.BookSideBid
	}
	for _, f := range res.Fills {
		b.Consume(opposing, f.PriceTicks, f.SizeUnits)
	}
	s.logger.Debug("order filled",
		slog.String("side", string(res.Side)),
		slog.Float64("size", res.Filled()),
		slog.Float64("vwap", res.VWAP),
		slog.Int("levels", len(res.Fills)),
	)
}

// Fill quotes and immediately commits a taker order. Callers that need to
// veto an order on its executed price should Quote, check, then Commit.
func (s *Simulator) Fill(b *book.Book, side domain.OrderSide, units int64) (domain.FillResult, error) {
	res, err := s.Quote(b, side, units)
	if err != nil {
		return domain.FillResult{}, err
	}
	s.Commit(b, res)
	return res, nil
}
