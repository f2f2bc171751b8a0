// Package history keeps the append-only log of emitted signals.
package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/rewired-gh/sitwatch/internal/logger"
	"github.com/rewired-gh/sitwatch/internal/models"
)

// DefaultTailSize is how many recent signals stay in memory.
const DefaultTailSize = 500

// Persistence is the durable side of the log. *storage.Storage satisfies it.
type Persistence interface {
	AppendSignals(signals []models.Signal) error
	ListSignals(limit int) ([]models.Signal, error)
}

type History struct {
	mu       sync.Mutex
	persist  Persistence
	tail     []models.Signal
	tailSize int
}

// New returns a History. persist may be nil, in which case only the
// in-memory tail is kept.
func New(persist Persistence, tailSize int) *History {
	if tailSize <= 0 {
		tailSize = DefaultTailSize
	}
	return &History{persist: persist, tailSize: tailSize}
}

// Append records signals in order. Nothing is deduplicated. The in-memory tail
// is updated even when the durable write fails; the write error is returned.
func (h *History) Append(ctx context.Context, signals []models.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.tail = append(h.tail, signals...)
	if over := len(h.tail) - h.tailSize; over > 0 {
		h.tail = append([]models.Signal(nil), h.tail[over:]...)
	}

	if h.persist == nil {
		return nil
	}
	if err := h.persist.AppendSignals(signals); err != nil {
		logger.Warn("Failed to persist %d signals: %v", len(signals), err)
		return fmt.Errorf("append signals: %w", err)
	}
	return nil
}

// Recent returns up to n of the latest signals from memory, oldest first.
func (h *History) Recent(n int) []models.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > len(h.tail) {
		n = len(h.tail)
	}
	out := make([]models.Signal, n)
	copy(out, h.tail[len(h.tail)-n:])
	return out
}

// List reads the durable log. A non-positive limit returns everything.
// Without persistence it falls back to the in-memory tail.
func (h *History) List(limit int) ([]models.Signal, error) {
	if h.persist == nil {
		return h.Recent(limit), nil
	}
	signals, err := h.persist.ListSignals(limit)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	return signals, nil
}
