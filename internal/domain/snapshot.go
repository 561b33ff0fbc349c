package domain

import "time"

// RiskState is the risk controller's per-position state machine.
type RiskState string

const (
	RiskFlat         RiskState = "flat"
	RiskOpen         RiskState = "open"
	RiskForceClosing RiskState = "force_closing"
)

// BookTop is a sorted top-of-book excerpt for display.
type BookTop struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// StatusSnapshot is the immutable per-tick value published for reporting
// collaborators (dashboard, redis, persistence). It is safe to serialize and
// must round-trip losslessly.
type StatusSnapshot struct {
	Instrument    string        `json:"instrument"`
	Time          time.Time     `json:"time"`
	Seq           int64         `json:"seq"`
	CashBalance   float64       `json:"cash_balance"`
	RealizedPnL   float64       `json:"realized_pnl"`
	UnrealizedPnL float64       `json:"unrealized_pnl"`
	Equity        float64       `json:"equity"`
	Position      Position      `json:"position"`
	RiskState     RiskState     `json:"risk_state"`
	BestBid       float64       `json:"best_bid"`
	BestAsk       float64       `json:"best_ask"`
	Mid           float64       `json:"mid"`
	Micro         float64       `json:"micro"`
	Imbalance     float64       `json:"imbalance"`
	Degraded      bool          `json:"degraded"`
	Book          BookTop       `json:"book"`
	LastTrades    []TradeRecord `json:"last_trades"`
}
