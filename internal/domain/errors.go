package domain

import "errors"

var (
	// ErrMalformedSnapshot marks a snapshot with an ambiguous (zero-size)
	// entry. The event is discarded and the book keeps its prior state.
	ErrMalformedSnapshot = errors.New("malformed snapshot")

	// ErrCrossedBook marks an update that would invert price priority
	// beyond tolerance. The update is rejected and the book is flagged
	// degraded until the next clean snapshot.
	ErrCrossedBook = errors.New("crossed book")

	// ErrOutOfSequence marks a feed sequence regression or gap. The book
	// is stale and must be rebuilt from a fresh snapshot.
	ErrOutOfSequence = errors.New("out of sequence")

	// ErrBookStale is returned while awaiting a re-snapshot after a gap.
	ErrBookStale = errors.New("book stale, awaiting snapshot")

	// ErrInsufficientBalance rejects a buy whose cost exceeds cash.
	// Caller-recoverable: the order is simply not submitted.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientInventory rejects a sell larger than held inventory
	// in a spot configuration. Caller-recoverable.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrOverFill rejects a reducing fill larger than the open position
	// when flip-through is not enabled.
	ErrOverFill = errors.New("fill exceeds open position")

	// ErrUnfillableForceClose reports a forced exit that found no
	// opposing liquidity. Retried on the next tick, never dropped.
	ErrUnfillableForceClose = errors.New("force close unfillable")

	// ErrNotFound is returned by stores and caches on missing keys.
	ErrNotFound = errors.New("not found")

	// ErrNoLiquidity rejects an all-or-nothing order the opposing side
	// cannot fully supply.
	ErrNoLiquidity = errors.New("insufficient liquidity")
)
