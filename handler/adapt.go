package handler

import (
	"context"
	"fmt"

	"github.com/onnwee/streambot/chat"
)

// Adapt maps a supported function shape to a Handler. Functions taking a
// leading context.Context are the blocking ("suspending") variants; the rest
// are called directly. func(context.Context, any) error prefers the rich
// Context and falls back to the raw event when it reports ErrShapeMismatch.
func Adapt(name string, fn any) (*Handler, error) {
	switch f := fn.(type) {
	case nil:
		return nil, fmt.Errorf("%w: %s is nil", ErrUnsupportedShape, name)
	case *Handler:
		return f, nil
	case Func:
		return New(name, Call{ConventionNone, f}), nil

	case func():
		return New(name, Call{ConventionNone, func(context.Context, Invocation) error { f(); return nil }}), nil
	case func() error:
		return New(name, Call{ConventionNone, func(context.Context, Invocation) error { return f() }}), nil
	case func(context.Context) error:
		return New(name, Call{ConventionNone, func(ctx context.Context, _ Invocation) error { return f(ctx) }}), nil

	case func(*Context) error:
		return New(name, Call{ConventionContext, func(_ context.Context, inv Invocation) error { return f(inv.Context) }}), nil
	case func(context.Context, *Context) error:
		return New(name, Call{ConventionContext, func(ctx context.Context, inv Invocation) error { return f(ctx, inv.Context) }}), nil

	case func(chat.Event) error:
		return New(name, Call{ConventionEvent, func(_ context.Context, inv Invocation) error { return f(*inv.Event) }}), nil
	case func(context.Context, chat.Event) error:
		return New(name, Call{ConventionEvent, func(ctx context.Context, inv Invocation) error { return f(ctx, *inv.Event) }}), nil

	case func(Bot, *Context) error:
		return New(name, Call{ConventionBotContext, func(_ context.Context, inv Invocation) error { return f(inv.Bot, inv.Context) }}), nil
	case func(context.Context, Bot, *Context) error:
		return New(name, Call{ConventionBotContext, func(ctx context.Context, inv Invocation) error { return f(ctx, inv.Bot, inv.Context) }}), nil

	case func(Bot, chat.Event) error:
		return New(name, Call{ConventionBotEvent, func(_ context.Context, inv Invocation) error { return f(inv.Bot, *inv.Event) }}), nil
	case func(context.Context, Bot, chat.Event) error:
		return New(name, Call{ConventionBotEvent, func(ctx context.Context, inv Invocation) error { return f(ctx, inv.Bot, *inv.Event) }}), nil

	case func(chat.Channel) error:
		return New(name, Call{ConventionTarget, func(_ context.Context, inv Invocation) error { return f(inv.Target) }}), nil
	case func(context.Context, chat.Channel) error:
		return New(name, Call{ConventionTarget, func(ctx context.Context, inv Invocation) error { return f(ctx, inv.Target) }}), nil

	case func(chat.Channel, Bot) error:
		return New(name, Call{ConventionTargetBot, func(_ context.Context, inv Invocation) error { return f(inv.Target, inv.Bot) }}), nil
	case func(context.Context, chat.Channel, Bot) error:
		return New(name, Call{ConventionTargetBot, func(ctx context.Context, inv Invocation) error { return f(ctx, inv.Target, inv.Bot) }}), nil

	case func(context.Context, any) error:
		return New(name,
			Call{ConventionContext, func(ctx context.Context, inv Invocation) error { return f(ctx, inv.Context) }},
			Call{ConventionEvent, func(ctx context.Context, inv Invocation) error { return f(ctx, *inv.Event) }},
		), nil
	}
	return nil, fmt.Errorf("%w: %s has type %T", ErrUnsupportedShape, name, fn)
}

// MustAdapt is Adapt for handlers registered from code at startup.
func MustAdapt(name string, fn any) *Handler {
	h, err := Adapt(name, fn)
	if err != nil {
		panic(err)
	}
	return h
}
