package handler

import (
	"net/http"
)

// BookHandler serves the current top-of-book excerpt.
type BookHandler struct {
	source StatusSource
}

// NewBookHandler creates a BookHandler reading from the given source.
func NewBookHandler(source StatusSource) *BookHandler {
	return &BookHandler{source: source}
}

// GetBook responds with the latest book excerpt plus derived signals. Returns
// 503 while the book has not received its first snapshot.
// GET /api/book
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Status()
	if snap.Time.IsZero() {
		writeError(w, http.StatusServiceUnavailable, "no book data yet")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instrument": snap.Instrument,
		"time":       snap.Time,
		"seq":        snap.Seq,
		"best_bid":   snap.BestBid,
		"best_ask":   snap.BestAsk,
		"mid":        snap.Mid,
		"micro":      snap.Micro,
		"imbalance":  snap.Imbalance,
		"degraded":   snap.Degraded,
		"bids":       snap.Book.Bids,
		"asks":       snap.Book.Asks,
	})
}
