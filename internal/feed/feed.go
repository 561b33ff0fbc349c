// Package feed delivers sequenced snapshot+delta book events from a market
// data source into the engine. Sources push events through a Handler; the
// engine owns all book state and the handler runs on the source's goroutine,
// so the engine is responsible for serializing into its tick loop.
package feed

import (
	"context"

	"github.com/sgerhardt/quotebot/internal/domain"
)

// Handler consumes one book event.
type Handler func(ctx context.Context, ev domain.BookEvent)

// Source is a running producer of book events.
type Source interface {
	// Run blocks until ctx is cancelled or the source is exhausted,
	// invoking the handler for every event.
	Run(ctx context.Context) error
	// Resync asks the source for a fresh snapshot, used after a sequence
	// gap leaves the replica stale. Sources that cannot resync return an
	// error and the caller keeps the book flagged degraded.
	Resync() error
	Close() error
}
