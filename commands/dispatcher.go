package commands

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/streambot/chat"
	"github.com/onnwee/streambot/handler"
	"github.com/onnwee/streambot/telemetry"
)

// Activity counts chat lines for announcement gating.
type Activity interface {
	Observe()
}

// ChannelResolver returns a send handle for the channel an event came from.
type ChannelResolver interface {
	ChannelFor(name string) chat.Channel
}

// Fallback handles chat lines that do not resolve to a registered command.
type Fallback interface {
	HandleEvent(ctx context.Context, ev chat.Event, ch chat.Channel)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Prefix string
	// ErrorMessage is sent to chat when a handler fails. Empty disables it.
	ErrorMessage string
	// MaxConcurrent bounds in-flight handlers (default 4).
	MaxConcurrent int
	// Timeout bounds one handler invocation (default 30s).
	Timeout time.Duration
	Now     func() time.Time
}

// Dispatcher routes chat events to command handlers.
type Dispatcher struct {
	registry *Registry
	cooldown *Cooldown
	activity Activity
	channels ChannelResolver
	fallback Fallback
	bot      handler.Bot
	opts     DispatcherOptions

	slots slots
	wg    sync.WaitGroup
}

// NewDispatcher wires the dispatcher. activity, fallback and bot may be nil.
func NewDispatcher(reg *Registry, cd *Cooldown, activity Activity, channels ChannelResolver, fallback Fallback, bot handler.Bot, opts DispatcherOptions) *Dispatcher {
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		registry: reg,
		cooldown: cd,
		activity: activity,
		channels: channels,
		fallback: fallback,
		bot:      bot,
		opts:     opts,
		slots:    newSlots(opts.MaxConcurrent),
	}
}

// OnChatEvent is the chat.Handler for the transport.
func (d *Dispatcher) OnChatEvent(ctx context.Context, ev chat.Event) {
	if ev.Echo {
		return
	}
	if d.activity != nil {
		d.activity.Observe()
	}
	telemetry.IncChat()

	var ch chat.Channel
	if d.channels != nil {
		ch = d.channels.ChannelFor(ev.Channel)
	}
	cmd := handler.NewContext(ev, d.opts.Prefix, ch)
	if cmd == nil {
		d.runFallback(ctx, ev, ch)
		return
	}

	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "commands"),
		slog.String("command", cmd.Command), slog.String("user", ev.User.Name))

	if d.cooldown != nil && !d.cooldown.Allow(ev.InvokerID(), d.opts.Now()) {
		log.Info("command dropped: cooldown")
		telemetry.IncCommand(cmd.Command, telemetry.OutcomeCooldown)
		return
	}

	entry, ok := d.registry.Resolve(cmd.Command)
	if !ok {
		telemetry.IncCommand("", telemetry.OutcomeUnknown)
		d.runFallback(ctx, ev, ch)
		return
	}
	if entry.ModOnly && !ev.User.Privileged() {
		log.Info("command dropped: moderator only")
		telemetry.IncCommand(entry.Name, telemetry.OutcomeForbidden)
		return
	}

	if !d.slots.acquire(ctx) {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.slots.release()
		d.invoke(ctx, log, entry, cmd, ev, ch)
	}()
}

func (d *Dispatcher) invoke(ctx context.Context, log *slog.Logger, entry Entry, cmd *handler.Context, ev chat.Event, ch chat.Channel) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "commands", "command.invoke",
		attribute.String("command", entry.Name), attribute.String("origin", entry.Origin))
	defer span.End()

	var out handler.CallOutcome
	telemetry.TimeFunc(telemetry.CommandDuration, func() {
		out = entry.Handler.Invoke(ctx, handler.Invocation{Context: cmd, Event: &ev, Target: ch, Bot: d.bot})
	})
	span.SetAttributes(attribute.String("convention", out.Convention.String()), attribute.Int("attempts", out.Attempts))
	if out.OK() {
		telemetry.SetSpanSuccess(span)
		telemetry.IncCommand(entry.Name, telemetry.OutcomeOK)
		return
	}

	telemetry.RecordError(span, out.Err)
	telemetry.IncCommand(entry.Name, telemetry.OutcomeError)
	log.Error("command failed", slog.String("origin", entry.Origin),
		slog.String("convention", out.Convention.String()), slog.Any("err", out.Err))
	if ch == nil || d.opts.ErrorMessage == "" {
		return
	}
	// The invocation context may already be past its deadline.
	sendCtx, sendCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer sendCancel()
	if err := ch.Send(sendCtx, d.opts.ErrorMessage); err != nil {
		log.Warn("failed to send command failure notice", slog.Any("err", err))
	}
}

func (d *Dispatcher) runFallback(ctx context.Context, ev chat.Event, ch chat.Channel) {
	if d.fallback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("fallback handler panic", slog.String("component", "commands"), slog.Any("panic", r))
		}
	}()
	d.fallback.HandleEvent(ctx, ev, ch)
}

// InFlight returns the number of running handlers.
func (d *Dispatcher) InFlight() int { return d.slots.active() }

// Wait blocks until all started handlers have returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }
