package book

import "github.com/sgerhardt/quotebot/internal/domain"

// View is an immutable snapshot of derived book queries, taken once per tick.
// It owns copies of the sorted levels, so readers never touch the live maps.
type View struct {
	Instrument string
	Bids       []domain.PriceLevel // descending price
	Asks       []domain.PriceLevel // ascending price
	HasBid     bool
	HasAsk     bool
	BestBid    domain.PriceLevel
	BestAsk    domain.PriceLevel
	Degraded   bool
}

// View captures up to depth levels per side. depth <= 0 captures everything.
func (b *Book) View(depth int) View {
	v := View{
		Instrument: b.instrument,
		Bids:       b.Levels(domain.BookSideBid, depth),
		Asks:       b.Levels(domain.BookSideAsk, depth),
		Degraded:   b.degraded,
	}
	if len(v.Bids) > 0 {
		v.HasBid = true
		v.BestBid = v.Bids[0]
	}
	if len(v.Asks) > 0 {
		v.HasAsk = true
		v.BestAsk = v.Asks[0]
	}
	return v
}

// TwoSided reports whether both sides are populated. Derived prices are only
// meaningful when they are.
func (v View) TwoSided() bool { return v.HasBid && v.HasAsk }

// Mid returns the midpoint of the best bid and ask, 0 when one-sided.
func (v View) Mid() float64 {
	if !v.TwoSided() {
		return 0
	}
	return (v.BestBid.Price() + v.BestAsk.Price()) / 2
}

// Spread returns best ask minus best bid, 0 when one-sided.
func (v View) Spread() float64 {
	if !v.TwoSided() {
		return 0
	}
	return v.BestAsk.Price() - v.BestBid.Price()
}

// Micro returns the size-weighted micro-price using top-of-book quantities.
// Falls back to Mid when the top sizes sum to zero.
func (v View) Micro() float64 {
	if !v.TwoSided() {
		return 0
	}
	bq := v.BestBid.Size()
	aq := v.BestAsk.Size()
	if bq+aq == 0 {
		return v.Mid()
	}
	return (v.BestBid.Price()*aq + v.BestAsk.Price()*bq) / (bq + aq)
}

// Imbalance returns the normalized bid/ask volume difference over the top
// depth levels, in [-1, 1]. Defined as 0 when both sums are zero.
func (v View) Imbalance(depth int) float64 {
	b := v.DepthVolume(domain.BookSideBid, depth)
	a := v.DepthVolume(domain.BookSideAsk, depth)
	if b+a == 0 {
		return 0
	}
	return (b - a) / (b + a)
}

// DepthVolume sums the resting size of the top depth levels on one side.
// depth <= 0 sums every captured level.
func (v View) DepthVolume(side domain.BookSide, depth int) float64 {
	levels := v.Bids
	if side == domain.BookSideAsk {
		levels = v.Asks
	}
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	var sum float64
	for _, l := range levels {
		sum += l.Size()
	}
	return sum
}

// BandVolume sums the resting size within band price units of the best price
// on one side (the aggregate volume in a price-depth band).
func (v View) BandVolume(side domain.BookSide, band float64) float64 {
	levels := v.Bids
	if side == domain.BookSideAsk {
		levels = v.Asks
	}
	if len(levels) == 0 {
		return 0
	}
	best := levels[0].Price()
	var sum float64
	for _, l := range levels {
		d := l.Price() - best
		if d < 0 {
			d = -d
		}
		if d > band {
			break
		}
		sum += l.Size()
	}
	return sum
}
