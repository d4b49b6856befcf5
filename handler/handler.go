// Package handler adapts command and announcement bodies with differing call
// shapes to one explicit contract.
//
// Shapes are mapped to a Handler once, at registration time, by Adapt. Each
// Handler carries an ordered preference list of argument conventions; Invoke
// walks that list and moves to the next convention only when a call reports
// ErrShapeMismatch. Dispatch never inspects function signatures.
package handler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/onnwee/streambot/chat"
)

// maxAttempts bounds a single Invoke: the preferred convention plus one retry.
const maxAttempts = 2

var (
	// ErrShapeMismatch reports that a handler cannot be called with the
	// arguments of the attempted convention.
	ErrShapeMismatch = errors.New("handler: call shape mismatch")
	// ErrUnsupportedShape is returned by Adapt for function types it does not know.
	ErrUnsupportedShape = errors.New("handler: unsupported function shape")
)

// Convention names which arguments a handler receives.
type Convention int

const (
	ConventionNone Convention = iota
	ConventionContext
	ConventionEvent
	ConventionBotContext
	ConventionBotEvent
	ConventionTarget
	ConventionTargetBot
)

func (c Convention) String() string {
	switch c {
	case ConventionNone:
		return "none"
	case ConventionContext:
		return "context"
	case ConventionEvent:
		return "event"
	case ConventionBotContext:
		return "bot+context"
	case ConventionBotEvent:
		return "bot+event"
	case ConventionTarget:
		return "target"
	case ConventionTargetBot:
		return "target+bot"
	default:
		return "unknown"
	}
}

// Bot is the self-reference handed to handlers that ask for it.
type Bot interface {
	Nick() string
	ChannelName() string
	IsLive() bool
	AppToken(ctx context.Context) (string, error)
}

// Invocation carries every argument a handler might ask for. Absent inputs are
// nil; a convention whose inputs are absent fails with ErrShapeMismatch.
type Invocation struct {
	Context *Context
	Event   *chat.Event
	Target  chat.Channel
	Bot     Bot
}

// Func is the adapted form of every handler.
type Func func(ctx context.Context, inv Invocation) error

// Call pairs a convention with its adapted function.
type Call struct {
	Convention Convention
	Fn         Func
}

// CallOutcome is the typed result of Invoke.
type CallOutcome struct {
	Convention Convention
	Attempts   int
	Err        error
}

// OK reports whether the handler ran without error.
func (o CallOutcome) OK() bool { return o.Err == nil }

// Mismatch reports whether every attempted convention was rejected.
func (o CallOutcome) Mismatch() bool { return errors.Is(o.Err, ErrShapeMismatch) }

// Handler is an adapted, invocable unit.
type Handler struct {
	name  string
	calls []Call
}

// New builds a Handler from an explicit preference list.
func New(name string, calls ...Call) *Handler {
	return &Handler{name: name, calls: calls}
}

// Name returns the name given at adaptation time.
func (h *Handler) Name() string { return h.name }

// Conventions lists the declared preference order.
func (h *Handler) Conventions() []Convention {
	out := make([]Convention, 0, len(h.calls))
	for _, c := range h.calls {
		out = append(out, c.Convention)
	}
	return out
}

// Invoke runs the handler. Panics are recovered into the outcome error.
func (h *Handler) Invoke(ctx context.Context, inv Invocation) CallOutcome {
	var out CallOutcome
	if h == nil || len(h.calls) == 0 {
		out.Err = fmt.Errorf("%w: no call conventions", ErrShapeMismatch)
		return out
	}
	for i, c := range h.calls {
		if i >= maxAttempts {
			break
		}
		out.Convention = c.Convention
		out.Attempts++
		out.Err = safeCall(ctx, c, inv)
		if errors.Is(out.Err, ErrShapeMismatch) && i+1 < len(h.calls) {
			continue
		}
		break
	}
	return out
}

func safeCall(ctx context.Context, c Call, inv Invocation) (err error) {
	if err := requires(c.Convention, inv); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return c.Fn(ctx, inv)
}

func requires(conv Convention, inv Invocation) error {
	missing := ""
	switch conv {
	case ConventionContext:
		if inv.Context == nil {
			missing = "context"
		}
	case ConventionEvent:
		if inv.Event == nil {
			missing = "event"
		}
	case ConventionBotContext:
		if inv.Bot == nil || inv.Context == nil {
			missing = "bot or context"
		}
	case ConventionBotEvent:
		if inv.Bot == nil || inv.Event == nil {
			missing = "bot or event"
		}
	case ConventionTarget:
		if inv.Target == nil {
			missing = "target"
		}
	case ConventionTargetBot:
		if inv.Target == nil || inv.Bot == nil {
			missing = "target or bot"
		}
	}
	if missing != "" {
		return fmt.Errorf("%w: %s convention without %s", ErrShapeMismatch, conv, missing)
	}
	return nil
}
