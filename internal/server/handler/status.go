package handler

import (
	"net/http"

	"github.com/sgerhardt/quotebot/internal/domain"
)

// StatusSource exposes the latest engine snapshot. The engine satisfies it.
type StatusSource interface {
	Status() domain.StatusSnapshot
}

// StatusHandler serves the full status snapshot for the dashboard.
type StatusHandler struct {
	source StatusSource
	mode   string
}

// NewStatusHandler creates a StatusHandler reading from the given source.
func NewStatusHandler(source StatusSource, mode string) *StatusHandler {
	return &StatusHandler{source: source, mode: mode}
}

// GetStatus responds with the latest published snapshot. Before the first
// tick only the instrument field is set; that still answers 200 so the
// dashboard can render a "waiting for data" state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":   h.mode,
		"status": snap,
	})
}
