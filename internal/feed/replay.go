package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sgerhardt/quotebot/internal/domain"
)

// ReplayFeed reads recorded book events from a JSONL file and replays them
// through the handler, optionally pacing them by their recorded timestamps.
// A Speed of 1 replays in real time, 2 at double speed; 0 replays as fast as
// the handler accepts.
type ReplayFeed struct {
	path    string
	speed   float64
	handler Handler
	logger  *slog.Logger
}

// NewReplayFeed creates a replay source for the given JSONL file.
func NewReplayFeed(path string, speed float64, handler Handler, logger *slog.Logger) *ReplayFeed {
	return &ReplayFeed{
		path:    path,
		speed:   speed,
		handler: handler,
		logger:  logger.With(slog.String("component", "replay_feed")),
	}
}

// Run replays the file once and returns. Malformed lines abort the replay;
// a recording is either trustworthy or not worth simulating against.
func (f *ReplayFeed) Run(ctx context.Context) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("feed: open replay %s: %w", f.path, err)
	}
	defer file.Close()

	f.logger.Info("replay started", slog.String("path", f.path), slog.Float64("speed", f.speed))

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var prev time.Time
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec ReplayRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("feed: replay line %d: %w", line, err)
		}
		ev, err := rec.Event()
		if err != nil {
			return fmt.Errorf("feed: replay line %d: %w", line, err)
		}

		if f.speed > 0 && !prev.IsZero() && ev.Time.After(prev) {
			wait := time.Duration(float64(ev.Time.Sub(prev)) / f.speed)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		prev = ev.Time

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		f.handler(ctx, ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("feed: replay scan: %w", err)
	}
	f.logger.Info("replay finished", slog.Int("events", line))
	return nil
}

// Resync is meaningless for a recording.
func (f *ReplayFeed) Resync() error {
	return fmt.Errorf("feed: replay cannot resync")
}

// Close is a no-op; Run owns the file handle.
func (f *ReplayFeed) Close() error { return nil }

// ReplayRecord is the JSONL line format for recorded events. Snapshot lines
// carry levels with signed quantities (negative = ask); delta lines carry one
// price/count/qty triple.
type ReplayRecord struct {
	Type       string        `json:"type"`
	Instrument string        `json:"instrument"`
	Seq        int64         `json:"seq"`
	Time       time.Time     `json:"time"`
	Levels     []ReplayLevel `json:"levels,omitempty"`
	Price      float64       `json:"price,omitempty"`
	Count      int           `json:"count,omitempty"`
	Qty        float64       `json:"qty,omitempty"`
}

// ReplayLevel is one signed snapshot level.
type ReplayLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// Event converts the record to a BookEvent.
func (r ReplayRecord) Event() (domain.BookEvent, error) {
	ev := domain.BookEvent{
		Instrument: r.Instrument,
		Seq:        r.Seq,
		Time:       r.Time,
	}
	switch r.Type {
	case string(domain.EventSnapshot):
		ev.Type = domain.EventSnapshot
		for _, l := range r.Levels {
			ev.Levels = append(ev.Levels, domain.SignedLevel{
				PriceTicks: domain.ToTicks(l.Price),
				SizeUnits:  domain.ToUnits(l.Qty),
			})
		}
	case string(domain.EventDelta):
		ev.Type = domain.EventDelta
		ev.PriceTicks = domain.ToTicks(r.Price)
		ev.Count = r.Count
		ev.SizeUnits = domain.ToUnits(r.Qty)
	default:
		return domain.BookEvent{}, fmt.Errorf("unknown event type %q", r.Type)
	}
	return ev, nil
}

// Record converts a BookEvent to its JSONL line form, the inverse of Event.
func Record(ev domain.BookEvent) ReplayRecord {
	rec := ReplayRecord{
		Type:       string(ev.Type),
		Instrument: ev.Instrument,
		Seq:        ev.Seq,
		Time:       ev.Time,
	}
	if ev.Type == domain.EventSnapshot {
		for _, l := range ev.Levels {
			rec.Levels = append(rec.Levels, ReplayLevel{
				Price: domain.TickPrice(l.PriceTicks),
				Qty:   domain.UnitSize(l.SizeUnits),
			})
		}
		return rec
	}
	rec.Price = domain.TickPrice(ev.PriceTicks)
	rec.Count = ev.Count
	rec.Qty = domain.UnitSize(ev.SizeUnits)
	return rec
}
