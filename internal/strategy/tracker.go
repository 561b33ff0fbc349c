package strategy

import (
	"math"
	"time"
)

// PricePoint records a single mid-price observation at a point in time.
type PricePoint struct {
	Price float64
	Time  time.Time
}

// MidTracker maintains a count-bounded sliding window of mid prices for one
// instrument and exposes the statistics quoters rely on. It lives on the
// engine goroutine and is not synchronized.
type MidTracker struct {
	points []PricePoint
	limit  int
}

// NewMidTracker creates a tracker that keeps at most limit observations.
func NewMidTracker(limit int) *MidTracker {
	if limit < 2 {
		limit = 2
	}
	return &MidTracker{limit: limit}
}

// Track records a new mid-price observation and evicts the oldest once the
// window is full. Non-positive prices are ignored.
func (mt *MidTracker) Track(price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	mt.points = append(mt.points, PricePoint{Price: price, Time: ts})
	if len(mt.points) > mt.limit {
		mt.points = mt.points[1:]
	}
}

// Len returns the number of observations currently in the window.
func (mt *MidTracker) Len() int { return len(mt.points) }

// Mean returns the arithmetic mean of the windowed prices, 0 when empty.
func (mt *MidTracker) Mean() float64 {
	if len(mt.points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range mt.points {
		sum += p.Price
	}
	return sum / float64(len(mt.points))
}

// Sigma2 returns the population variance of log returns over the window. It
// returns 0 with fewer than two observations.
func (mt *MidTracker) Sigma2() float64 {
	if len(mt.points) < 2 {
		return 0
	}
	rets := make([]float64, 0, len(mt.points)-1)
	for i := 1; i < len(mt.points); i++ {
		prev := mt.points[i-1].Price
		if prev <= 0 {
			continue
		}
		rets = append(rets, math.Log(mt.points[i].Price/prev))
	}
	if len(rets) == 0 {
		return 0
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))

	var variance float64
	for _, r := range rets {
		d := r - mean
		variance += d * d
	}
	return variance / float64(len(rets))
}

// Velocity returns the mid-price change per second across the window, 0 when
// fewer than two observations exist or no time has elapsed between them.
func (mt *MidTracker) Velocity() float64 {
	if len(mt.points) < 2 {
		return 0
	}
	first := mt.points[0]
	last := mt.points[len(mt.points)-1]
	dt := last.Time.Sub(first.Time).Seconds()
	if dt <= 0 {
		return 0
	}
	return (last.Price - first.Price) / dt
}
