package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sgerhardt/quotebot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, instrument, executed_at, side, price, size, realized_pnl, reason`

const tradeInsertQuery = `
	INSERT INTO trades (id, instrument, executed_at, side, price, size, realized_pnl, reason)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING`

func tradeArgs(rec domain.TradeRecord) []any {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	return []any{id, rec.Instrument, rec.Time, string(rec.Side), rec.Price, rec.Size, rec.RealizedPnL, rec.Reason}
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		var (
			rec  domain.TradeRecord
			side string
		)
		if err := rows.Scan(
			&rec.ID, &rec.Instrument, &rec.Time, &side,
			&rec.Price, &rec.Size, &rec.RealizedPnL, &rec.Reason,
		); err != nil {
			return nil, err
		}
		rec.Side = domain.OrderSide(side)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Insert persists one trade record. Re-inserting the same record ID is a
// no-op.
func (s *TradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	if _, err := s.pool.Exec(ctx, tradeInsertQuery, tradeArgs(rec)...); err != nil {
		return fmt.Errorf("postgres: insert trade: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple trade records efficiently using pgx Batch.
func (s *TradeStore) InsertBatch(ctx context.Context, recs []domain.TradeRecord) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(tradeInsertQuery, tradeArgs(rec)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListRecent returns the newest trades for an instrument, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, instrument string, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + tradeSelectCols + `
		FROM trades WHERE instrument = $1
		ORDER BY executed_at DESC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent trades: %w", err)
	}
	return recs, nil
}

// ListBefore returns trades executed strictly before the cutoff, oldest
// first. Used by the archiver; limit <= 0 means no limit.
func (s *TradeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + `
		FROM trades WHERE executed_at < $1
		ORDER BY executed_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return recs, nil
}

// DeleteBefore deletes trades executed before the cutoff and returns the
// number deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE executed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
