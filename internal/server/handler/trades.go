package handler

import (
	"log/slog"
	"net/http"

	"github.com/sgerhardt/quotebot/internal/domain"
)

// TradesHandler serves trade history. With a store configured it reads from
// persistence; otherwise it falls back to the in-memory ring carried in the
// status snapshot.
type TradesHandler struct {
	source StatusSource
	store  domain.TradeStore // optional
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler. store may be nil.
func NewTradesHandler(source StatusSource, store domain.TradeStore, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{
		source: source,
		store:  store,
		logger: logger.With(slog.String("handler", "trades")),
	}
}

// ListTrades responds with recent trades, newest first.
// GET /api/trades?limit=50
func (h *TradesHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)
	snap := h.source.Status()

	if h.store != nil {
		recs, err := h.store.ListRecent(r.Context(), snap.Instrument, limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "trade store read failed",
				slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "trade history unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"trades": recs})
		return
	}

	trades := snap.LastTrades
	if len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}
