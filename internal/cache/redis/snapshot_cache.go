package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sgerhardt/quotebot/internal/domain"
)

// snapshotTTL bounds how long a stale status entry survives after the
// publisher stops. Dashboards treat a missing key as "bot offline".
const snapshotTTL = 5 * time.Minute

// SnapshotCache implements domain.SnapshotCache with one JSON value per
// instrument at key "status:{instrument}".
type SnapshotCache struct {
	rdb *redis.Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying()}
}

func snapshotKey(instrument string) string {
	return "status:" + instrument
}

// Set stores the latest status snapshot for the snapshot's instrument.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.StatusSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.Instrument, err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey(snap.Instrument), payload, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Instrument, err)
	}
	return nil
}

// Get retrieves the latest status snapshot for an instrument. It returns
// domain.ErrNotFound when no snapshot has been published (or it expired).
func (sc *SnapshotCache) Get(ctx context.Context, instrument string) (domain.StatusSnapshot, error) {
	payload, err := sc.rdb.Get(ctx, snapshotKey(instrument)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.StatusSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.StatusSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", instrument, err)
	}

	var snap domain.StatusSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.StatusSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", instrument, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
