package commands

import (
	"context"
	"log/slog"
)

// slots limits how many command handlers run at once so a slow handler cannot
// pile up goroutines behind the chat reader.
type slots chan struct{}

func newSlots(n int) slots {
	if n <= 0 {
		n = 1
	}
	return make(slots, n)
}

// acquire blocks until a slot is available or ctx is canceled.
// Returns true if slot acquired, false if context canceled.
func (s slots) acquire(ctx context.Context) bool {
	select {
	case s <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s slots) release() {
	select {
	case <-s:
	default:
		slog.Warn("command slot release called without corresponding acquire")
	}
}

func (s slots) active() int { return len(s) }
