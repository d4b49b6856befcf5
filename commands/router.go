package commands

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/onnwee/streambot/chat"
)

// Builtin answers a command that is not backed by the registry.
type Builtin func(ctx context.Context, args []string) string

// Router is the generic path for chat lines the registry does not handle. It
// serves a small static set of built-in commands and ignores everything else.
type Router struct {
	prefix   string
	registry *Registry
	cmdIndex map[string]Builtin
}

// NewRouter returns a router with the "commands" and "ping" built-ins.
func NewRouter(prefix string, reg *Registry) *Router {
	r := &Router{prefix: prefix, registry: reg, cmdIndex: make(map[string]Builtin)}
	r.Register("commands", r.listCommands)
	r.Register("ping", func(context.Context, []string) string { return "pong" })
	return r
}

// Register adds or replaces a built-in. Names are matched case-insensitively.
func (r *Router) Register(name string, fn Builtin) {
	r.cmdIndex[strings.ToLower(name)] = fn
}

// HandleEvent implements Fallback.
func (r *Router) HandleEvent(ctx context.Context, ev chat.Event, ch chat.Channel) {
	text := strings.TrimSpace(ev.Message)
	if text == "" || !strings.HasPrefix(text, r.prefix) {
		return
	}
	parts := strings.Fields(strings.TrimPrefix(text, r.prefix))
	if len(parts) == 0 {
		return
	}
	fn, ok := r.cmdIndex[strings.ToLower(parts[0])]
	if !ok || ch == nil {
		return
	}
	reply := fn(ctx, parts[1:])
	if reply == "" {
		return
	}
	if err := ch.Send(ctx, reply); err != nil {
		slog.Warn("builtin reply failed", slog.String("component", "commands"),
			slog.String("command", parts[0]), slog.Any("err", err))
	}
}

func (r *Router) listCommands(context.Context, []string) string {
	seen := make(map[string]bool)
	var names []string
	if r.registry != nil {
		for _, n := range r.registry.Names() {
			seen[n] = true
			names = append(names, n)
		}
	}
	for n := range r.cmdIndex {
		if !seen[n] {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	for i, n := range names {
		names[i] = r.prefix + n
	}
	return "Commands: " + strings.Join(names, " ")
}
