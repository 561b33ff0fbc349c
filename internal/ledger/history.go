package ledger

import "github.com/sgerhardt/quotebot/internal/domain"

// history is a fixed-capacity, insertion-ordered ring of trade records.
// When full, the oldest record is evicted first. It backs display and audit
// only; the ledger's running totals are the source of truth.
type history struct {
	buf  []domain.TradeRecord
	next int
	full bool
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 50
	}
	return &history{buf: make([]domain.TradeRecord, capacity)}
}

func (h *history) push(rec domain.TradeRecord) {
	h.buf[h.next] = rec
	h.next++
	if h.next == len(h.buf) {
		h.next = 0
		h.full = true
	}
}

// list returns the records oldest first.
func (h *history) list() []domain.TradeRecord {
	if !h.full {
		out := make([]domain.TradeRecord, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]domain.TradeRecord, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	out = append(out, h.buf[:h.next]...)
	return out
}

func (h *history) len() int {
	if h.full {
		return len(h.buf)
	}
	return h.next
}
