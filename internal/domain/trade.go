package domain

import "time"

// TradeRecord is an immutable audit entry appended on every fill. Closed
// trades carry the realized PnL of the portion they closed; entries carry nil.
// Records feed the display ring and persistence only; the ledger's running
// totals remain the source of truth.
type TradeRecord struct {
	ID          string    `json:"id"`
	Instrument  string    `json:"instrument"`
	Time        time.Time `json:"time"`
	Side        OrderSide `json:"side"`
	Price       float64   `json:"price"`
	Size        float64   `json:"size"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
	Reason      string    `json:"reason"`
}

// TradeIntent is the output of a quoting strategy: do nothing, or take
// liquidity for the given size.
type TradeIntent struct {
	Side      OrderSide
	SizeUnits int64
	Reason    string
}

// None reports whether the intent requests no trade.
func (i TradeIntent) None() bool { return i.SizeUnits == 0 || i.Side == "" }

// NoIntent is the zero trade intent.
var NoIntent = TradeIntent{}
