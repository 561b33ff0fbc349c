package domain

// OrderSide indicates whether a paper order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Fill is one (execution price, quantity) pair produced by walking a single
// book level. PriceTicks is the quoted level; ExecPrice includes the drawn
// slippage and is therefore a plain float.
type Fill struct {
	PriceTicks int64
	ExecPrice  float64
	SizeUnits  int64
}

// FillResult is the outcome of a simulated market order.
type FillResult struct {
	Side        OrderSide
	Fills       []Fill
	FilledUnits int64
	VWAP        float64
}

// Filled returns the total filled size as a display value.
func (r FillResult) Filled() float64 { return UnitSize(r.FilledUnits) }

// Notional returns the slippage-adjusted cash value of the fills.
func (r FillResult) Notional() float64 {
	var n float64
	for _, f := range r.Fills {
		n += f.ExecPrice * UnitSize(f.SizeUnits)
	}
	return n
}
