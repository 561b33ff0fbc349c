package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sgerhardt/quotebot/internal/domain"
)

// TradeArchiveStore provides the read access the archiver needs. The
// Postgres TradeStore satisfies it implicitly.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver periodically uploads session state and rotates aged trade rows
// out of the primary store into object storage.
//
// Deletion of archived rows is a separate, explicit step so a failed upload
// never loses data.
type Archiver struct {
	writer     domain.BlobWriter
	trades     TradeArchiveStore
	instrument string
	retention  time.Duration
	logger     *slog.Logger

	now func() time.Time
}

// NewArchiver creates an Archiver for one instrument's session data. Trades
// older than retention are rotated to object storage on each Run tick; zero
// retention disables rotation.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, instrument string, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:     writer,
		trades:     trades,
		instrument: instrument,
		retention:  retention,
		logger:     logger.With(slog.String("component", "archiver")),
		now:        time.Now,
	}
}

// ArchiveStatus uploads one status snapshot as JSON under
// sessions/{instrument}/{timestamp}.json.
func (a *Archiver) ArchiveStatus(ctx context.Context, snap domain.StatusSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("s3blob: marshal status: %w", err)
	}

	key := fmt.Sprintf("sessions/%s/%s.json", a.instrument, snap.Time.UTC().Format(time.RFC3339))
	if err := a.writer.Write(ctx, key, payload, "application/json"); err != nil {
		return err
	}

	a.logger.Debug("archived status snapshot", slog.String("key", key))
	return nil
}

// ArchiveTrades uploads all trades executed before the cutoff as JSONL and
// returns the object key and record count. A run with no matching trades
// uploads nothing and returns an empty key.
func (a *Archiver) ArchiveTrades(ctx context.Context, cutoff time.Time) (string, int, error) {
	recs, err := a.trades.ListBefore(ctx, cutoff, 0)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: load trades for archive: %w", err)
	}
	if len(recs) == 0 {
		return "", 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return "", 0, fmt.Errorf("s3blob: encode trade %s: %w", rec.ID, err)
		}
	}

	key := fmt.Sprintf("archive/trades/%s/%s.jsonl", a.instrument, cutoff.UTC().Format(time.RFC3339))
	if err := a.writer.Write(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return "", 0, err
	}

	a.logger.Info("archived trades",
		slog.String("key", key),
		slog.Int("count", len(recs)),
		slog.Time("cutoff", cutoff))
	return key, len(recs), nil
}

// PruneArchived deletes trades before the cutoff from the primary store.
// Call only after ArchiveTrades for the same cutoff has succeeded.
func (a *Archiver) PruneArchived(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := a.trades.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: prune archived trades: %w", err)
	}
	if n > 0 {
		a.logger.Info("pruned archived trades", slog.Int64("deleted", n))
	}
	return n, nil
}

// Run archives the latest status snapshot and rotates aged trades on every
// interval tick until the context is cancelled, then flushes all remaining
// trades to object storage before returning. status returns the snapshot to
// upload; a nil result skips the status upload (nothing published yet).
func (a *Archiver) Run(ctx context.Context, interval time.Duration, status func() *domain.StatusSnapshot) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flush()
			return ctx.Err()
		case <-ticker.C:
			if snap := status(); snap != nil {
				if err := a.ArchiveStatus(ctx, *snap); err != nil {
					a.logger.Error("status archive failed", slog.Any("error", err))
				}
			}
			if a.retention > 0 {
				a.rotateTrades(ctx, a.now().Add(-a.retention))
			}
		}
	}
}

// rotateTrades uploads trades older than cutoff and, only after the upload
// succeeded, deletes them from the primary store.
func (a *Archiver) rotateTrades(ctx context.Context, cutoff time.Time) {
	key, n, err := a.ArchiveTrades(ctx, cutoff)
	if err != nil {
		a.logger.Error("trade archive failed", slog.Any("error", err))
		return
	}
	if n == 0 {
		return
	}
	if _, err := a.PruneArchived(ctx, cutoff); err != nil {
		a.logger.Error("trade prune failed",
			slog.String("key", key),
			slog.Any("error", err))
	}
}

// flush rotates every remaining trade at session end. The run context is
// already cancelled, so the upload gets its own short-lived one.
func (a *Archiver) flush() {
	if a.retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.rotateTrades(ctx, a.now())
}
