// Package book maintains a local price-level replica of one instrument's L2
// order book, rebuilt from snapshot events and mutated by delta events and by
// simulated fills. It is single-writer: only the engine tick loop may call
// the mutating methods.
package book

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/sgerhardt/quotebot/internal/domain"
)

// Book is the price-level replica for one instrument. Levels are keyed by
// fixed-point price ticks so equal prices always collapse onto one level.
type Book struct {
	instrument string
	bids       map[int64]int64
	asks       map[int64]int64
	degraded   bool
	crossTol   int64
	logger     *slog.Logger
}

// Option configures a Book.
type Option func(*Book)

// WithCrossTolerance sets how far (in price ticks) a snapshot may cross and
// still be accepted. A crossing within tolerance is resolved by matching the
// overlapping levels against each other, as the venue's matching engine
// would have. Zero rejects any crossed snapshot.
func WithCrossTolerance(ticks int64) Option {
	return func(b *Book) { b.crossTol = ticks }
}

// New creates an empty book for the given instrument.
func New(instrument string, logger *slog.Logger, opts ...Option) *Book {
	b := &Book{
		instrument: instrument,
		bids:       make(map[int64]int64),
		asks:       make(map[int64]int64),
		logger: logger.With(
			slog.String("component", "book"),
			slog.String("instrument", instrument),
		),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Instrument returns the instrument this book replicates.
func (b *Book) Instrument() string { return b.instrument }

// Degraded reports whether the replica's fidelity is suspect (a crossing
// update was dropped, or the feed signalled a gap). Cleared by the next
// clean snapshot.
func (b *Book) Degraded() bool { return b.degraded }

// MarkDegraded flags the replica as suspect. Used by the feed collaborator
// on sequence gaps.
func (b *Book) MarkDegraded() { b.degraded = true }

// ApplySnapshot clears both sides and loads the given signed levels: a
// positive size populates the bid side, a negative one the ask side. The
// prior state is kept when the snapshot is malformed or crossed.
func (b *Book) ApplySnapshot(levels []domain.SignedLevel) error {
	bids := make(map[int64]int64, len(levels))
	asks := make(map[int64]int64, len(levels))
	for _, l := range levels {
		switch {
		case l.SizeUnits > 0:
			bids[l.PriceTicks] = l.SizeUnits
		case l.SizeUnits < 0:
			asks[l.PriceTicks] = -l.SizeUnits
		default:
			return fmt.Errorf("book %s: zero-size level at %d: %w",
				b.instrument, l.PriceTicks, domain.ErrMalformedSnapshot)
		}
	}

	if bb, ok := maxKey(bids); ok {
		if ba, ok := minKey(asks); ok && bb >= ba {
			if bb-ba >= b.crossTol {
				b.degraded = true
				b.logger.Warn("crossed snapshot dropped",
					slog.Float64("best_bid", domain.TickPrice(bb)),
					slog.Float64("best_ask", domain.TickPrice(ba)),
				)
				return fmt.Errorf("book %s: snapshot crossed: %w", b.instrument, domain.ErrCrossedBook)
			}
			uncross(bids, asks)
			b.logger.Warn("crossed snapshot uncrossed within tolerance",
				slog.Float64("best_bid", domain.TickPrice(bb)),
				slog.Float64("best_ask", domain.TickPrice(ba)),
			)
		}
	}

	b.bids = bids
	b.asks = asks
	b.degraded = false
	return nil
}

// uncross matches overlapping levels against each other until the best bid
// sits strictly below the best ask, the way the venue's matching engine
// would have filled them.
func uncross(bids, asks map[int64]int64) {
	for {
		bb, okB := maxKey(bids)
		ba, okA := minKey(asks)
		if !okB || !okA || bb < ba {
			return
		}
		matched := bids[bb]
		if asks[ba] < matched {
			matched = asks[ba]
		}
		bids[bb] -= matched
		if bids[bb] == 0 {
			delete(bids, bb)
		}
		asks[ba] -= matched
		if asks[ba] == 0 {
			delete(asks, ba)
		}
	}
}

// ApplyDelta applies one incremental update. count == 0 removes the price
// from whichever side currently holds it (a no-op when absent). count > 0
// upserts, inferring the side from the sign of sizeUnits and evicting the
// price from the opposite side: one book, a price cannot rest on both sides.
// An update that would cross the book is rejected and flags degraded state.
func (b *Book) ApplyDelta(priceTicks int64, count int, sizeUnits int64) error {
	if count == 0 {
		delete(b.bids, priceTicks)
		delete(b.asks, priceTicks)
		return nil
	}

	size := sizeUnits
	if size < 0 {
		size = -size
	}
	if size == 0 {
		// A sized update with no size carries no usable side; treat as a
		// removal the way count==0 does.
		delete(b.bids, priceTicks)
		delete(b.asks, priceTicks)
		return nil
	}

	if sizeUnits > 0 {
		if ba, ok := minKey(b.asks); ok && priceTicks > ba {
			b.degraded = true
			return fmt.Errorf("book %s: bid %d above best ask %d: %w",
				b.instrument, priceTicks, ba, domain.ErrCrossedBook)
		}
		delete(b.asks, priceTicks)
		b.bids[priceTicks] = size
		return nil
	}

	if bb, ok := maxKey(b.bids); ok && priceTicks < bb {
		b.degraded = true
		return fmt.Errorf("book %s: ask %d below best bid %d: %w",
			b.instrument, priceTicks, bb, domain.ErrCrossedBook)
	}
	delete(b.bids, priceTicks)
	b.asks[priceTicks] = size
	return nil
}

// BestBid returns the highest resting bid, ok=false when the side is empty.
func (b *Book) BestBid() (domain.PriceLevel, bool) {
	p, ok := maxKey(b.bids)
	if !ok {
		return domain.PriceLevel{}, false
	}
	return domain.PriceLevel{PriceTicks: p, SizeUnits: b.bids[p]}, true
}

// BestAsk returns the lowest resting ask, ok=false when the side is empty.
func (b *Book) BestAsk() (domain.PriceLevel, bool) {
	p, ok := minKey(b.asks)
	if !ok {
		return domain.PriceLevel{}, false
	}
	return domain.PriceLevel{PriceTicks: p, SizeUnits: b.asks[p]}, true
}

// Depth returns the number of resting levels per side.
func (b *Book) Depth() (bids, asks int) {
	return len(b.bids), len(b.asks)
}

// Levels returns up to n levels of the given side in price-priority order:
// bids descending, asks ascending. n <= 0 returns all levels.
func (b *Book) Levels(side domain.BookSide, n int) []domain.PriceLevel {
	m := b.bids
	if side == domain.BookSideAsk {
		m = b.asks
	}
	out := make([]domain.PriceLevel, 0, len(m))
	for p, q := range m {
		out = append(out, domain.PriceLevel{PriceTicks: p, SizeUnits: q})
	}
	if side == domain.BookSideBid {
		sort.Slice(out, func(i, j int) bool { return out[i].PriceTicks > out[j].PriceTicks })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].PriceTicks < out[j].PriceTicks })
	}
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Consume removes up to units from the level at priceTicks on the given side
// and returns the amount actually taken. Levels drained to zero are removed,
// never retained. Used by the execution simulator.
func (b *Book) Consume(side domain.BookSide, priceTicks, units int64) int64 {
	m := b.bids
	if side == domain.BookSideAsk {
		m = b.asks
	}
	avail, ok := m[priceTicks]
	if !ok || units <= 0 {
		return 0
	}
	take := units
	if take > avail {
		take = avail
	}
	if rest := avail - take; rest > 0 {
		m[priceTicks] = rest
	} else {
		delete(m, priceTicks)
	}
	return take
}

func maxKey(m map[int64]int64) (int64, bool) {
	var best int64
	found := false
	for k := range m {
		if !found || k > best {
			best = k
			found = true
		}
	}
	return best, found
}

func minKey(m map[int64]int64) (int64, bool) {
	var best int64
	found := false
	for k := range m {
		if !found || k < best {
			best = k
			found = true
		}
	}
	return best, found
}
