package domain

import (
	"context"
	"time"
)

// TradeStore persists trade records.
type TradeStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	InsertBatch(ctx context.Context, recs []TradeRecord) error
	ListRecent(ctx context.Context, instrument string, limit int) ([]TradeRecord, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LedgerStore persists status snapshots so a session can resume where it
// left off. Save/Load must round-trip the snapshot losslessly.
type LedgerStore interface {
	Save(ctx context.Context, snap StatusSnapshot) error
	Load(ctx context.Context, instrument string) (StatusSnapshot, error)
}

// SnapshotCache stores the latest status snapshot per instrument for fast
// dashboard reads.
type SnapshotCache interface {
	Set(ctx context.Context, snap StatusSnapshot) error
	Get(ctx context.Context, instrument string) (StatusSnapshot, error)
}

// StatusBus publishes per-tick status snapshots to external consumers.
type StatusBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter writes archive objects (session trade history, equity curves).
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
