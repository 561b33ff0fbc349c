package domain

import "time"

// PositionSide tracks the direction of the paper position.
type PositionSide string

const (
	PositionFlat  PositionSide = "flat"
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Sign returns +1 for long, -1 for short, 0 for flat. Used when computing
// directional PnL.
func (s PositionSide) Sign() float64 {
	switch s {
	case PositionLong:
		return 1
	case PositionShort:
		return -1
	default:
		return 0
	}
}

// Position is the current open inventory. SizeUnits is always >= 0; the
// direction lives in Side. AvgEntry is the size-weighted average cost basis
// and is recomputed on every same-direction add.
type Position struct {
	Side      PositionSide `json:"side"`
	SizeUnits int64        `json:"size_units"`
	AvgEntry  float64      `json:"avg_entry"`
	OpenedAt  time.Time    `json:"opened_at"`
}

// Size returns the display quantity.
func (p Position) Size() float64 { return UnitSize(p.SizeUnits) }

// IsFlat reports whether there is no open inventory.
func (p Position) IsFlat() bool { return p.SizeUnits == 0 }

// UnrealizedPnL values the position at the given mark price.
func (p Position) UnrealizedPnL(mark float64) float64 {
	if p.SizeUnits == 0 || mark <= 0 {
		return 0
	}
	return (mark - p.AvgEntry) * p.Size() * p.Side.Sign()
}
