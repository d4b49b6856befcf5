// Package liveness polls Helix for stream online/offline transitions and
// announces each flip in chat exactly once.
package liveness

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/streambot/chat"
	"github.com/onnwee/streambot/telemetry"
)

// TokenCache is the subset of twitchapi.TokenSource the poller uses.
type TokenCache interface {
	EnsureValid(ctx context.Context) bool
	Token() string
	Invalidate()
}

// Query reports whether login is live using an app token.
type Query interface {
	IsLive(ctx context.Context, login, token string) (bool, error)
}

// Options tunes the poller delays and transition notices.
type Options struct {
	Interval       time.Duration // normal tick
	TokenRetry     time.Duration // after a failed token refresh
	ErrorRetry     time.Duration // after a failed query
	OnlineMessage  string
	OfflineMessage string
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.TokenRetry <= 0 {
		o.TokenRetry = 60 * time.Second
	}
	if o.ErrorRetry <= 0 {
		o.ErrorRetry = 15 * time.Second
	}
}

// Poller tracks the Offline/Live state of one channel. Only the Run goroutine
// writes the state; IsLive is safe from any goroutine.
type Poller struct {
	login   string
	tokens  TokenCache
	query   Query
	targets chat.TargetResolver
	opts    Options

	live atomic.Bool
}

// NewPoller builds a poller starting in the Offline state.
func NewPoller(login string, tokens TokenCache, query Query, targets chat.TargetResolver, opts Options) *Poller {
	opts.defaults()
	return &Poller{login: login, tokens: tokens, query: query, targets: targets, opts: opts}
}

// IsLive reports the last observed state.
func (p *Poller) IsLive() bool { return p.live.Load() }

// Run polls until ctx is cancelled. The first cycle runs immediately.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("stream liveness poller starting", slog.String("channel", p.login), slog.Duration("interval", p.opts.Interval))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("stream liveness poller stopped")
			return
		case <-timer.C:
			timer.Reset(p.Step(ctx))
		}
	}
}

// Step performs one poll cycle and returns the delay before the next one.
func (p *Poller) Step(ctx context.Context) time.Duration {
	ctx, span := telemetry.StartSpan(ctx, "liveness", "liveness.poll", attribute.String("channel", p.login))
	defer span.End()

	if !p.tokens.EnsureValid(ctx) {
		telemetry.IncLivenessPoll("no_token")
		slog.Warn("no app token for liveness poll; backing off",
			slog.String("component", "liveness"), slog.Duration("retry_in", p.opts.TokenRetry))
		return p.opts.TokenRetry
	}

	live, err := p.query.IsLive(ctx, p.login, p.tokens.Token())
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.IncLivenessPoll("error")
		p.tokens.Invalidate()
		slog.Warn("liveness query failed", slog.String("component", "liveness"),
			slog.Any("err", err), slog.Duration("retry_in", p.opts.ErrorRetry))
		return p.opts.ErrorRetry
	}

	was := p.live.Load()
	if live {
		telemetry.IncLivenessPoll("live")
	} else {
		telemetry.IncLivenessPoll("offline")
	}
	if live == was {
		return p.opts.Interval
	}

	p.live.Store(live)
	telemetry.SetStreamLive(live)
	span.SetAttributes(attribute.Bool("live", live))
	if live {
		slog.Info("stream went live", slog.String("channel", p.login))
		p.notify(ctx, p.opts.OnlineMessage)
	} else {
		slog.Info("stream went offline", slog.String("channel", p.login))
		p.notify(ctx, p.opts.OfflineMessage)
	}
	return p.opts.Interval
}

func (p *Poller) notify(ctx context.Context, text string) {
	if text == "" || p.targets == nil {
		return
	}
	target := p.targets.SendTarget()
	if target == nil {
		slog.Warn("no chat channel to announce stream state", slog.String("component", "liveness"))
		return
	}
	if err := target.Send(ctx, text); err != nil {
		slog.Warn("stream state notice failed", slog.String("component", "liveness"), slog.Any("err", err))
	}
}
