package feed

import (
	"fmt"

	"github.com/sgerhardt/quotebot/internal/domain"
)

// SequenceTracker validates the monotonic event sequence the replica's
// fidelity depends on. The book itself never sees sequence numbers; the
// engine runs every event through a tracker first and treats any violation
// as grounds to stop trading until the next clean snapshot.
type SequenceTracker struct {
	last   int64
	primed bool
}

// NewSequenceTracker returns a tracker with no baseline; the first snapshot
// establishes one.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{}
}

// Observe checks one event against the running sequence. Snapshots reset the
// baseline and always pass. Deltas must not regress and must not skip ahead:
// a regressed number means replayed or reordered data (ErrOutOfSequence), a
// gap means dropped events and a stale replica (ErrBookStale). Events with
// Seq 0 are from feeds without sequence numbers and pass unchecked. Deltas
// sharing the previous number are level updates from the same wire message.
func (t *SequenceTracker) Observe(ev domain.BookEvent) error {
	if ev.Seq == 0 {
		return nil
	}
	if ev.Type == domain.EventSnapshot {
		t.last = ev.Seq
		t.primed = true
		return nil
	}
	if !t.primed {
		return fmt.Errorf("feed: delta seq %d before any snapshot: %w", ev.Seq, domain.ErrBookStale)
	}
	switch {
	case ev.Seq < t.last:
		return fmt.Errorf("feed: seq regressed %d -> %d: %w", t.last, ev.Seq, domain.ErrOutOfSequence)
	case ev.Seq > t.last+1:
		return fmt.Errorf("feed: seq gap %d -> %d: %w", t.last, ev.Seq, domain.ErrBookStale)
	}
	t.last = ev.Seq
	return nil
}

// Reset clears the baseline, used when the engine discards the replica and
// awaits a fresh snapshot.
func (t *SequenceTracker) Reset() {
	t.last = 0
	t.primed = false
}
