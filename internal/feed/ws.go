package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sgerhardt/quotebot/internal/domain"
)

const (
	// wsWriteWait is the time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// wsPongWait is the time allowed to read the next pong message.
	wsPongWait = 30 * time.Second

	// wsPingPeriod sends pings at this interval. Must be less than pongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsReconnectDelay is the base delay before attempting to reconnect.
	wsReconnectDelay = 2 * time.Second

	// wsMaxReconnectDelay caps the exponential backoff.
	wsMaxReconnectDelay = 60 * time.Second
)

// WSFeed subscribes to a book channel over WebSocket (Kraken v2 style wire
// format: a subscribe command answered by one full snapshot followed by
// incremental updates) and translates messages into BookEvents. It reconnects
// with exponential backoff; every reconnect yields a fresh snapshot, so
// Resync is implemented by dropping the connection.
type WSFeed struct {
	url        string
	instrument string
	depth      int
	handler    Handler
	logger     *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	closeOnce sync.Once
	done      chan struct{}

	// seq is a local counter for feeds that supply no sequence numbers.
	seq int64
}

// NewWSFeed creates a feed for one instrument. depth is the per-side level
// count requested at subscription.
func NewWSFeed(url, instrument string, depth int, handler Handler, logger *slog.Logger) *WSFeed {
	if depth <= 0 {
		depth = 10
	}
	return &WSFeed{
		url:        url,
		instrument: instrument,
		depth:      depth,
		handler:    handler,
		logger:     logger.With(slog.String("component", "ws_feed")),
		done:       make(chan struct{}),
	}
}

// Run connects, subscribes, and dispatches events until ctx is cancelled or
// Close is called. Disconnects trigger reconnection with backoff.
func (f *WSFeed) Run(ctx context.Context) error {
	delay := wsReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}

		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}

func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", f.url, err)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return nil
	}
	f.conn = conn
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	if err := f.sendSubscribe(conn); err != nil {
		return err
	}
	f.logger.Info("feed subscribed",
		slog.String("instrument", f.instrument),
		slog.Int("depth", f.depth),
	)

	pingDone := make(chan struct{})
	defer close(pingDone)
	go f.pingLoop(conn, pingDone)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		events, err := f.parseEvents(raw)
		if err != nil {
			f.logger.Debug("feed message dropped",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(raw)),
			)
			continue
		}
		for _, ev := range events {
			f.handler(ctx, ev)
		}
	}
}

func (f *WSFeed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-f.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *WSFeed) sendSubscribe(conn *websocket.Conn) error {
	cmd := wsSubscribeCmd{
		Method: "subscribe",
		Params: wsSubscribeParams{
			Channel: "book",
			Symbol:  []string{f.instrument},
			Depth:   f.depth,
		},
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

// Resync drops the current connection so the reconnect path resubscribes and
// the venue replies with a fresh snapshot.
func (f *WSFeed) Resync() error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("feed: resync: not connected")
	}
	f.logger.Info("resync requested, dropping connection")
	return conn.Close()
}

// Close stops the feed permanently.
func (f *WSFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	conn := f.conn
	f.mu.Unlock()

	f.closeOnce.Do(func() { close(f.done) })
	if conn != nil {
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return conn.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Wire format
// ---------------------------------------------------------------------------

type wsSubscribeCmd struct {
	Method string            `json:"method"`
	Params wsSubscribeParams `json:"params"`
}

type wsSubscribeParams struct {
	Channel string   `json:"channel"`
	Symbol  []string `json:"symbol"`
	Depth   int      `json:"depth"`
}

type wsMessage struct {
	Channel string       `json:"channel"`
	Type    string       `json:"type"`
	Data    []wsBookData `json:"data"`
}

type wsBookData struct {
	Symbol    string    `json:"symbol"`
	Bids      []wsLevel `json:"bids"`
	Asks      []wsLevel `json:"asks"`
	Seq       int64     `json:"seq"`
	Timestamp string    `json:"timestamp"`
}

type wsLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// parseEvents translates one wire message. A snapshot becomes one BookEvent
// replacing the whole book; an update becomes one delta event per changed
// level (qty 0 is a removal), all stamped with the message's sequence number.
func (f *WSFeed) parseEvents(raw []byte) ([]domain.BookEvent, error) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("feed: unmarshal: %w", err)
	}
	if msg.Channel != "book" || len(msg.Data) == 0 {
		return nil, nil
	}

	var events []domain.BookEvent
	for _, d := range msg.Data {
		if d.Symbol != "" && d.Symbol != f.instrument {
			continue
		}
		ts := time.Now().UTC()
		if d.Timestamp != "" {
			if t, err := time.Parse(time.RFC3339Nano, d.Timestamp); err == nil {
				ts = t
			}
		}
		seq := d.Seq
		if seq == 0 {
			f.seq++
			seq = f.seq
		}

		if msg.Type == "snapshot" {
			ev := domain.BookEvent{
				Type:       domain.EventSnapshot,
				Instrument: f.instrument,
				Seq:        seq,
				Time:       ts,
			}
			for _, l := range d.Bids {
				ev.Levels = append(ev.Levels, domain.SignedLevel{
					PriceTicks: domain.ToTicks(l.Price),
					SizeUnits:  domain.ToUnits(l.Qty),
				})
			}
			for _, l := range d.Asks {
				ev.Levels = append(ev.Levels, domain.SignedLevel{
					PriceTicks: domain.ToTicks(l.Price),
					SizeUnits:  -domain.ToUnits(l.Qty),
				})
			}
			events = append(events, ev)
			continue
		}

		for _, l := range d.Bids {
			events = append(events, deltaEvent(f.instrument, seq, ts, l, false))
		}
		for _, l := range d.Asks {
			events = append(events, deltaEvent(f.instrument, seq, ts, l, true))
		}
	}
	return events, nil
}

func deltaEvent(instrument string, seq int64, ts time.Time, l wsLevel, ask bool) domain.BookEvent {
	ev := domain.BookEvent{
		Type:       domain.EventDelta,
		Instrument: instrument,
		Seq:        seq,
		Time:       ts,
		PriceTicks: domain.ToTicks(l.Price),
	}
	if l.Qty > 0 {
		ev.Count = 1
		ev.SizeUnits = domain.ToUnits(l.Qty)
		if ask {
			ev.SizeUnits = -ev.SizeUnits
		}
	}
	return ev
}
