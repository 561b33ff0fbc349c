package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgerhardt/quotebot/internal/domain"
)

func TestParseSnapshotMessage(t *testing.T) {
	f := NewWSFeed("wss://example", "BTC/USD", 10, nil, slog.Default())
	raw := []byte(`{
		"channel": "book", "type": "snapshot",
		"data": [{
			"symbol": "BTC/USD", "seq": 7,
			"bids": [{"price": 100, "qty": 2}, {"price": 99, "qty": 1}],
			"asks": [{"price": 101, "qty": 2}]
		}]
	}`)

	events, err := f.parseEvents(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.EventSnapshot, ev.Type)
	assert.Equal(t, int64(7), ev.Seq)
	require.Len(t, ev.Levels, 3)
	assert.Equal(t, domain.ToTicks(100), ev.Levels[0].PriceTicks)
	assert.Equal(t, domain.ToUnits(2), ev.Levels[0].SizeUnits)
	// Asks come through negative.
	assert.Equal(t, domain.ToTicks(101), ev.Levels[2].PriceTicks)
	assert.Equal(t, -domain.ToUnits(2), ev.Levels[2].SizeUnits)
}

func TestParseUpdateMessage(t *testing.T) {
	f := NewWSFeed("wss://example", "BTC/USD", 10, nil, slog.Default())
	raw := []byte(`{
		"channel": "book", "type": "update",
		"data": [{
			"symbol": "BTC/USD", "seq": 8,
			"bids": [{"price": 99.5, "qty": 0.4}],
			"asks": [{"price": 101, "qty": 0}]
		}]
	}`)

	events, err := f.parseEvents(raw)
	require.NoError(t, err)
	require.Len(t, events, 2)

	up := events[0]
	assert.Equal(t, domain.EventDelta, up.Type)
	assert.Equal(t, int64(8), up.Seq)
	assert.Equal(t, 1, up.Count)
	assert.Equal(t, domain.ToUnits(0.4), up.SizeUnits) // bid stays positive

	// qty 0 is a removal: count 0, no size.
	rm := events[1]
	assert.Equal(t, 0, rm.Count)
	assert.Zero(t, rm.SizeUnits)
	assert.Equal(t, domain.ToTicks(101), rm.PriceTicks)
}

func TestParseIgnoresOtherChannelsAndSymbols(t *testing.T) {
	f := NewWSFeed("wss://example", "BTC/USD", 10, nil, slog.Default())

	events, err := f.parseEvents([]byte(`{"channel": "heartbeat"}`))
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = f.parseEvents([]byte(`{
		"channel": "book", "type": "update",
		"data": [{"symbol": "ETH/USD", "seq": 3, "bids": [{"price": 1, "qty": 1}]}]
	}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseAssignsLocalSequenceWhenFeedHasNone(t *testing.T) {
	f := NewWSFeed("wss://example", "BTC/USD", 10, nil, slog.Default())
	raw := []byte(`{
		"channel": "book", "type": "update",
		"data": [{"symbol": "BTC/USD", "bids": [{"price": 100, "qty": 1}]}]
	}`)

	first, err := f.parseEvents(raw)
	require.NoError(t, err)
	second, err := f.parseEvents(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first[0].Seq)
	assert.Equal(t, int64(2), second[0].Seq)
}

func TestSequenceTracker(t *testing.T) {
	tr := NewSequenceTracker()

	snap := domain.BookEvent{Type: domain.EventSnapshot, Seq: 10}
	delta := func(seq int64) domain.BookEvent {
		return domain.BookEvent{Type: domain.EventDelta, Seq: seq}
	}

	require.NoError(t, tr.Observe(snap))
	require.NoError(t, tr.Observe(delta(11)))
	// Same number again: more levels from the same wire message.
	require.NoError(t, tr.Observe(delta(11)))

	err := tr.Observe(delta(9))
	require.ErrorIs(t, err, domain.ErrOutOfSequence)

	err = tr.Observe(delta(15))
	require.ErrorIs(t, err, domain.ErrBookStale)

	// A fresh snapshot rebaselines regardless of its number.
	require.NoError(t, tr.Observe(domain.BookEvent{Type: domain.EventSnapshot, Seq: 3}))
	require.NoError(t, tr.Observe(delta(4)))
}

func TestSequenceTrackerDeltaBeforeSnapshot(t *testing.T) {
	tr := NewSequenceTracker()
	err := tr.Observe(domain.BookEvent{Type: domain.EventDelta, Seq: 5})
	require.ErrorIs(t, err, domain.ErrBookStale)
}

func TestSequenceTrackerUnsequencedFeed(t *testing.T) {
	tr := NewSequenceTracker()
	require.NoError(t, tr.Observe(domain.BookEvent{Type: domain.EventDelta, Seq: 0}))
}

func TestReplayFeedDeliversRecordedEvents(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	records := []ReplayRecord{
		{
			Type: "snapshot", Instrument: "BTC/USD", Seq: 1, Time: base,
			Levels: []ReplayLevel{{Price: 100, Qty: 2}, {Price: 101, Qty: -2}},
		},
		{Type: "delta", Instrument: "BTC/USD", Seq: 2, Time: base.Add(time.Second), Price: 99.5, Count: 1, Qty: 0.4},
		{Type: "delta", Instrument: "BTC/USD", Seq: 3, Time: base.Add(2 * time.Second), Price: 101, Count: 0},
	}
	path := writeReplayFile(t, records)

	var got []domain.BookEvent
	f := NewReplayFeed(path, 0, func(_ context.Context, ev domain.BookEvent) {
		got = append(got, ev)
	}, slog.Default())

	require.NoError(t, f.Run(context.Background()))
	require.Len(t, got, 3)

	assert.Equal(t, domain.EventSnapshot, got[0].Type)
	require.Len(t, got[0].Levels, 2)
	assert.Equal(t, -domain.ToUnits(2), got[0].Levels[1].SizeUnits)

	assert.Equal(t, domain.EventDelta, got[1].Type)
	assert.Equal(t, domain.ToTicks(99.5), got[1].PriceTicks)
	assert.Equal(t, 1, got[1].Count)

	assert.Equal(t, 0, got[2].Count)
	assert.Zero(t, got[2].SizeUnits)
}

func TestReplayFeedRejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0o644))

	f := NewReplayFeed(path, 0, func(context.Context, domain.BookEvent) {}, slog.Default())
	assert.Error(t, f.Run(context.Background()))
}

func TestRecordRoundTrip(t *testing.T) {
	ev := domain.BookEvent{
		Type:       domain.EventDelta,
		Instrument: "BTC/USD",
		Seq:        42,
		Time:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		PriceTicks: domain.ToTicks(100.25),
		Count:      1,
		SizeUnits:  -domain.ToUnits(0.75),
	}
	back, err := Record(ev).Event()
	require.NoError(t, err)
	assert.Equal(t, ev, back)
}

func TestRecorderCaptureReplaysBack(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "capture.jsonl")

	rec, err := NewRecorder(path, slog.Default())
	require.NoError(t, err)
	rec.Capture(domain.BookEvent{
		Type: domain.EventSnapshot, Instrument: "BTC/USD", Seq: 1, Time: base,
		Levels: []domain.SignedLevel{
			{PriceTicks: domain.ToTicks(100), SizeUnits: domain.ToUnits(2)},
			{PriceTicks: domain.ToTicks(101), SizeUnits: -domain.ToUnits(2)},
		},
	})
	rec.Capture(domain.BookEvent{
		Type: domain.EventDelta, Instrument: "BTC/USD", Seq: 2, Time: base.Add(time.Second),
		PriceTicks: domain.ToTicks(99.5), Count: 1, SizeUnits: domain.ToUnits(0.4),
	})
	require.NoError(t, rec.Close())

	// Capture after Close is a silent no-op.
	rec.Capture(domain.BookEvent{Type: domain.EventDelta, Instrument: "BTC/USD", Seq: 3})

	var got []domain.BookEvent
	f := NewReplayFeed(path, 0, func(_ context.Context, ev domain.BookEvent) {
		got = append(got, ev)
	}, slog.Default())
	require.NoError(t, f.Run(context.Background()))

	require.Len(t, got, 2)
	assert.Equal(t, domain.EventSnapshot, got[0].Type)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, domain.ToTicks(99.5), got[1].PriceTicks)
}

func writeReplayFile(t *testing.T, records []ReplayRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	enc := json.NewEncoder(file)
	for _, r := range records {
		require.NoError(t, enc.Encode(r))
	}
	return path
}
