package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgerhardt/quotebot/internal/domain"
)

type stubSender struct {
	name string
	sent []string
	err  error
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.sent = append(s.sent, title)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersDisallowedEvents(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{EventHalt}, discard())

	require.NoError(t, n.Notify(context.Background(), EventForceClose, "nope", "m"))
	assert.Empty(t, s.sent)

	require.NoError(t, n.Notify(context.Background(), EventHalt, "yes", "m"))
	assert.Equal(t, []string{"yes"}, s.sent)
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, nil, discard())

	require.NoError(t, n.Notify(context.Background(), EventError, "a", "m"))
	require.NoError(t, n.Notify(context.Background(), EventResync, "b", "m"))
	assert.Equal(t, []string{"a", "b"}, s.sent)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &stubSender{name: "bad", err: errors.New("boom")}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"t"}, good.sent)
}

func TestNotifyForceCloseFormatsPnL(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{EventForceClose}, discard())

	pnl := -1.25
	rec := domain.TradeRecord{
		Instrument:  "BTC/USD",
		Side:        domain.OrderSideSell,
		Price:       50000,
		Size:        0.5,
		RealizedPnL: &pnl,
		Reason:      "trailing_stop",
	}
	require.NoError(t, n.NotifyForceClose(context.Background(), rec))
	require.Len(t, s.sent, 1)
	assert.Equal(t, "Position force-closed", s.sent[0])
}

func TestDiscordSenderPostsWebhook(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = string(body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), "Trading halted", "equity: 1.0"))
	assert.Contains(t, got, "**Trading halted**")
}

func TestDiscordSenderSurfacesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	err := d.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
