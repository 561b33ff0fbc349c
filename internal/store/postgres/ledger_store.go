package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sgerhardt/quotebot/internal/domain"
)

// LedgerStore implements domain.LedgerStore using one JSONB row per
// instrument. The full status snapshot round-trips through the payload
// column so a session can resume exactly where it stopped.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Save upserts the latest snapshot for the snapshot's instrument.
func (s *LedgerStore) Save(ctx context.Context, snap domain.StatusSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot: %w", err)
	}

	const query = `
		INSERT INTO ledger_snapshots (instrument, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (instrument)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, snap.Instrument, payload); err != nil {
		return fmt.Errorf("postgres: save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot for an instrument. A missing row maps to
// domain.ErrNotFound.
func (s *LedgerStore) Load(ctx context.Context, instrument string) (domain.StatusSnapshot, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM ledger_snapshots WHERE instrument = $1`,
		instrument,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StatusSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.StatusSnapshot{}, fmt.Errorf("postgres: load snapshot: %w", err)
	}

	var snap domain.StatusSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.StatusSnapshot{}, fmt.Errorf("postgres: unmarshal snapshot: %w", err)
	}
	return snap, nil
}
