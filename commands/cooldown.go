package commands

import (
	"sync"
	"time"
)

// Cooldown enforces a minimum interval between commands from one invoker.
type Cooldown struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldown returns a gate with the given window.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, last: make(map[string]time.Time)}
}

// Allow records now for invoker and reports true, unless the previous accepted
// command is younger than the window. Rejections do not extend the window.
func (c *Cooldown) Allow(invoker string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[invoker]; ok && now.Sub(prev) < c.window {
		return false
	}
	c.last[invoker] = now
	return true
}

// Sweep drops records that can no longer reject anything and returns how many
// were removed.
func (c *Cooldown) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, at := range c.last {
		if now.Sub(at) >= c.window {
			delete(c.last, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked invokers.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
