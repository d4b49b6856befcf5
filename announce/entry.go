// Package announce posts periodic chat announcements. An announcement fires
// only while the stream is live, once its interval has elapsed and enough
// chat lines were observed since it last fired. Firing state survives
// restarts through a StateStore.
package announce

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/onnwee/streambot/handler"
)

// Entry is one scheduled announcement. LastSentAt and MessageCounter are owned
// by the scheduler goroutine.
type Entry struct {
	ID              string
	Interval        time.Duration
	MinChatMessages int
	Handler         *handler.Handler

	LastSentAt     time.Time // zero means never
	MessageCounter int
}

// Due reports whether both the interval and the chat activity gate pass.
func (e *Entry) Due(now time.Time) bool {
	if e.MessageCounter < e.MinChatMessages {
		return false
	}
	if e.LastSentAt.IsZero() {
		return true
	}
	return now.Sub(e.LastSentAt) >= e.Interval
}

func (e *Entry) reset(now time.Time) {
	e.LastSentAt = now
	e.MessageCounter = 0
}

// State is the persisted form of an entry.
type State struct {
	// LastSent is unix seconds; 0 means never.
	LastSent float64 `json:"last_sent"`
	Counter  int     `json:"counter"`
}

func stateOf(e *Entry) State {
	s := State{Counter: e.MessageCounter}
	if !e.LastSentAt.IsZero() {
		s.LastSent = float64(e.LastSentAt.UnixNano()) / 1e9
	}
	return s
}

func (s State) apply(e *Entry) {
	e.MessageCounter = max(s.Counter, 0)
	e.LastSentAt = time.Time{}
	if s.LastSent > 0 {
		sec, frac := math.Modf(s.LastSent)
		e.LastSentAt = time.Unix(int64(sec), int64(frac*1e9))
	}
}

// StateStore persists announcement state keyed by entry ID.
type StateStore interface {
	// Load returns the stored mapping; an absent store yields an empty map.
	Load(ctx context.Context) (map[string]State, error)
	Save(ctx context.Context, states map[string]State) error
}

// Activity counts chat lines between scheduler ticks. Observe is called from
// the chat goroutine; Drain only from the scheduler.
type Activity struct {
	n atomic.Int64
}

// Observe counts one chat line.
func (a *Activity) Observe() { a.n.Add(1) }

// Drain returns the lines observed since the previous Drain.
func (a *Activity) Drain() int { return int(a.n.Swap(0)) }

// Pending returns the lines not yet drained.
func (a *Activity) Pending() int { return int(a.n.Load()) }
