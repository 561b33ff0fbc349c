// Package notify alerts operators about simulator events over Telegram and
// Discord webhooks. Events can be filtered so only the configured alert
// types go out.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sgerhardt/quotebot/internal/domain"
)

// Event types emitted by the simulator.
const (
	// EventForceClose fires when the risk controller forces a position
	// closed (stop, take-profit, PnL threshold, max hold).
	EventForceClose = "force_close"
	// EventHalt fires when the drawdown guard latches and trading stops.
	EventHalt = "halt"
	// EventResync fires when a sequence violation forces a book resync.
	EventResync = "resync"
	// EventError covers operational failures (feed drop, store errors).
	EventError = "error"
)

// Sender delivers one formatted alert over a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs, e.g. "telegram".
	Name() string
}

// Notifier fans alerts out to every registered sender, applying the
// configured event filter. An empty filter lets every event through.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewNotifier builds a Notifier for the given senders. events lists the
// event types that should be delivered; empty means all of them.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the message if the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers the message regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// NotifyForceClose formats and sends a forced-exit alert from the trade
// record that closed (or partially closed) the position.
func (n *Notifier) NotifyForceClose(ctx context.Context, rec domain.TradeRecord) error {
	pnl := 0.0
	if rec.RealizedPnL != nil {
		pnl = *rec.RealizedPnL
	}
	msg := fmt.Sprintf("%s %s %.6f @ %.4f\nrealized PnL: %+.4f\nreason: %s",
		rec.Instrument, rec.Side, rec.Size, rec.Price, pnl, rec.Reason)
	return n.Notify(ctx, EventForceClose, "Position force-closed", msg)
}

// NotifyHalt formats and sends a trading-halt alert from the snapshot
// published on the tick that latched the guard.
func (n *Notifier) NotifyHalt(ctx context.Context, snap domain.StatusSnapshot) error {
	msg := fmt.Sprintf("%s halted\nequity: %.4f\nrealized PnL: %+.4f\ncash: %.4f",
		snap.Instrument, snap.Equity, snap.RealizedPnL, snap.CashBalance)
	return n.Notify(ctx, EventHalt, "Trading halted", msg)
}

// dispatch tries every sender. One channel failing must not starve the
// others, so errors are collected and reported together at the end.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var failed []string
	for _, s := range n.senders {
		err := s.Send(ctx, title, message)
		if err == nil {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
			continue
		}
		n.logger.ErrorContext(ctx, "sender failed",
			slog.String("sender", s.Name()),
			slog.String("error", err.Error()),
		)
		failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
	}
	if len(failed) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}
