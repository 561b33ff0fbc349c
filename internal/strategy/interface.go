package strategy

import (
	"github.com/sgerhardt/quotebot/internal/book"
	"github.com/sgerhardt/quotebot/internal/domain"
)

// LedgerView is the read-only slice of the position ledger a quoter may
// consult. The engine's ledger satisfies it.
type LedgerView interface {
	Position() domain.Position
	Cash() float64
}

// Quoter turns the current book view and ledger state into at most one trade
// intent per tick. Implementations keep their own rolling state and must only
// be driven from the engine goroutine.
type Quoter interface {
	Name() string
	Decide(v book.View, l LedgerView) domain.TradeIntent
}

// Config holds quoter configuration.
type Config struct {
	Name         string
	Instrument   string
	OrderSize    float64
	MaxInventory float64
	Params       map[string]any
}

func (c Config) floatParam(key string, def float64) float64 {
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func (c Config) intParam(key string, def int) int {
	switch v := c.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// withinInventory reports whether a prospective signed inventory change keeps
// |inventory| at or under the configured cap. A zero cap disables the check.
func (c Config) withinInventory(pos domain.Position, delta float64) bool {
	if c.MaxInventory <= 0 {
		return true
	}
	after := pos.Size()*pos.Side.Sign() + delta
	if after < 0 {
		after = -after
	}
	return after <= c.MaxInventory
}
