// Package commands resolves and dispatches chat commands: a rescannable
// registry fed by command sources, a per-user cooldown gate and the dispatcher
// that ties chat events to handlers.
//
// Handlers run on a bounded pool so the chat reader never waits on them;
// replies to consecutive commands may therefore arrive out of order.
package commands

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/streambot/handler"
	"github.com/onnwee/streambot/telemetry"
)

// Entry is one resolvable command.
type Entry struct {
	Name    string
	Handler *handler.Handler
	ModOnly bool
	Origin  string
}

// Registry maps case-sensitive command names to handlers. The mapping is
// rebuilt wholesale by Scan and published atomically, so Resolve never sees a
// partially built map.
type Registry struct {
	source Source

	entries atomic.Pointer[map[string]Entry]

	scanMu    sync.Mutex
	lastNames string
}

// NewRegistry creates an empty registry over src. Call Scan to populate it.
func NewRegistry(src Source) *Registry {
	r := &Registry{source: src}
	empty := map[string]Entry{}
	r.entries.Store(&empty)
	return r
}

// Scan lists the source and replaces the mapping. On a source error the
// previous mapping is kept. Scan is idempotent.
func (r *Registry) Scan(ctx context.Context) error {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	telemetry.IncRegistryScan()
	units, err := r.source.List(ctx)
	if err != nil {
		slog.Warn("command scan failed; keeping previous commands", slog.String("component", "commands"), slog.Any("err", err))
		return err
	}

	next := make(map[string]Entry, len(units))
	for _, u := range units {
		if u.Name == "" || u.Handler == nil {
			continue
		}
		if prev, ok := next[u.Name]; ok {
			slog.Warn("duplicate command name; later definition wins", slog.String("component", "commands"),
				slog.String("command", u.Name), slog.String("replaced", prev.Origin), slog.String("by", u.Origin))
		}
		next[u.Name] = Entry{Name: u.Name, Handler: u.Handler, ModOnly: u.ModOnly, Origin: u.Origin}
	}
	r.entries.Store(&next)
	telemetry.SetRegisteredCommands(len(next))

	names := strings.Join(sortedNames(next), ", ")
	if names != r.lastNames {
		r.lastNames = names
		slog.Info("commands loaded", slog.String("component", "commands"),
			slog.Int("count", len(next)), slog.String("names", names))
	}
	return nil
}

// Resolve looks up a command by exact name.
func (r *Registry) Resolve(name string) (Entry, bool) {
	e, ok := (*r.entries.Load())[name]
	return e, ok
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	return sortedNames(*r.entries.Load())
}

// Len returns the number of registered commands.
func (r *Registry) Len() int { return len(*r.entries.Load()) }

// Run rescans every interval until ctx is cancelled. onTick, if set, runs
// after each rescan on the same goroutine.
func (r *Registry) Run(ctx context.Context, interval time.Duration, onTick func(now time.Time)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	slog.Info("command rescan starting", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("command rescan stopped")
			return
		case now := <-ticker.C:
			_ = r.Scan(ctx)
			if onTick != nil {
				onTick(now)
			}
		}
	}
}

func sortedNames(m map[string]Entry) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
