// Package domain holds the shared types for the book replica, the paper
// execution simulator, and the position ledger. Prices and sizes are carried
// as fixed-point integers so map keys never suffer float rounding collisions.
package domain

import "time"

// Fixed-point scales: a price of 101.25 is 101_250_000 ticks, a size of
// 0.002 is 2_000 units.
const (
	PriceScale = 1e6
	SizeScale  = 1e6
)

// ToTicks converts a display price to fixed-point ticks.
func ToTicks(price float64) int64 {
	if price >= 0 {
		return int64(price*PriceScale + 0.5)
	}
	return int64(price*PriceScale - 0.5)
}

// TickPrice converts fixed-point ticks back to a display price.
func TickPrice(ticks int64) float64 {
	return float64(ticks) / PriceScale
}

// ToUnits converts a display size to fixed-point units.
func ToUnits(size float64) int64 {
	if size >= 0 {
		return int64(size*SizeScale + 0.5)
	}
	return int64(size*SizeScale - 0.5)
}

// UnitSize converts fixed-point units back to a display size.
func UnitSize(units int64) float64 {
	return float64(units) / SizeScale
}

// BookSide identifies one side of the order book.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)

// PriceLevel is a single resting price+size entry on one side of the book.
type PriceLevel struct {
	PriceTicks int64
	SizeUnits  int64
}

// Price returns the display price.
func (l PriceLevel) Price() float64 { return TickPrice(l.PriceTicks) }

// Size returns the display size.
func (l PriceLevel) Size() float64 { return UnitSize(l.SizeUnits) }

// SignedLevel is a snapshot entry: a positive SizeUnits is a bid, a negative
// one is an ask (stored as absolute value). Zero is malformed.
type SignedLevel struct {
	PriceTicks int64
	SizeUnits  int64
}

// EventType tags a book feed event.
type EventType string

const (
	EventSnapshot EventType = "snapshot"
	EventDelta    EventType = "delta"
)

// BookEvent is one element of the sequenced snapshot+delta feed. Snapshots
// carry Levels and fully replace prior book state. Deltas carry a single
// (price, count, signed size) update: Count == 0 removes the price from
// whichever side holds it, Count > 0 upserts with the side inferred from the
// sign of SizeUnits. Seq is optional (0 = feed supplies no sequence numbers).
type BookEvent struct {
	Type       EventType
	Instrument string
	Seq        int64
	Time       time.Time

	// Snapshot payload.
	Levels []SignedLevel

	// Delta payload.
	PriceTicks int64
	Count      int
	SizeUnits  int64
}
