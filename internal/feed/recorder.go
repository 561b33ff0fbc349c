package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/sgerhardt/quotebot/internal/domain"
)

// Recorder appends every observed book event to a JSONL capture file that
// ReplayFeed can play back. One recorder may capture several instruments;
// replay filters by the instrument field. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	enc    *json.Encoder
	logger *slog.Logger
}

// NewRecorder opens (appending) the capture file at path.
func NewRecorder(path string, logger *slog.Logger) (*Recorder, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("feed: open capture %s: %w", path, err)
	}
	w := bufio.NewWriter(file)
	return &Recorder{
		file:   file,
		w:      w,
		enc:    json.NewEncoder(w),
		logger: logger.With(slog.String("component", "recorder"), slog.String("path", path)),
	}, nil
}

// Capture writes one event to the file. A write failure is logged and the
// event dropped; a capture must never stall the live pipeline.
func (r *Recorder) Capture(ev domain.BookEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	if err := r.enc.Encode(Record(ev)); err != nil {
		r.logger.Warn("capture write failed", slog.String("error", err.Error()))
	}
}

// Close flushes and closes the capture file. Further Capture calls are
// no-ops.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	ferr := r.w.Flush()
	cerr := r.file.Close()
	r.file = nil
	if ferr != nil {
		return fmt.Errorf("feed: flush capture: %w", ferr)
	}
	if cerr != nil {
		return fmt.Errorf("feed: close capture: %w", cerr)
	}
	return nil
}
