package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// maxMessageLen is the Twitch PRIVMSG body limit.
const maxMessageLen = 500

const (
	defaultRetryMin      = time.Second
	defaultRetryMax      = 2 * time.Minute
	defaultCloseDeadline = 5 * time.Second
)

// Handler receives chat events. The transport calls it from a single reader
// goroutine, so events arrive one at a time in order.
type Handler func(ctx context.Context, ev Event)

// Config holds the IRC identity and the single channel to join.
type Config struct {
	Username   string
	OAuthToken string
	Channel    string
}

// Client wraps go-twitch-irc for one channel.
type Client struct {
	username string
	channel  string
	irc      *twitch.Client
	say      func(channel, text string)

	retryMin      time.Duration
	retryMax      time.Duration
	closeDeadline time.Duration
	attempts      atomic.Int64
	closing       atomic.Bool

	mu        sync.RWMutex
	handler   Handler
	baseCtx   context.Context
	connected bool
	joined    bool
	main      string
}

// NewClient builds the IRC client and registers callbacks. Call Run to connect.
func NewClient(cfg Config) *Client {
	token := cfg.OAuthToken
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	irc := twitch.NewClient(cfg.Username, token)
	c := &Client{
		username: strings.ToLower(cfg.Username),
		channel:  NormalizeChannel(cfg.Channel),
		irc:      irc,
		say:      irc.Say,

		retryMin:      defaultRetryMin,
		retryMax:      defaultRetryMax,
		closeDeadline: defaultCloseDeadline,
	}

	irc.OnConnect(func() {
		if c.closing.Load() {
			// Shutdown started while the login was still in flight.
			go c.disconnect()
			return
		}
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		slog.Info("chat: connected", slog.String("channel", c.channel), slog.String("component", "chat"))
		if c.channel != "" {
			irc.Join(c.channel)
		}
	})
	irc.OnSelfJoinMessage(func(m twitch.UserJoinMessage) {
		if NormalizeChannel(m.Channel) != c.channel {
			return
		}
		c.mu.Lock()
		c.joined = true
		c.mu.Unlock()
		slog.Info("chat: joined", slog.String("channel", c.channel), slog.String("component", "chat"))
	})
	irc.OnSelfPartMessage(func(m twitch.UserPartMessage) {
		if NormalizeChannel(m.Channel) != c.channel {
			return
		}
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		slog.Info("chat: parted", slog.String("channel", c.channel), slog.String("component", "chat"))
	})
	irc.OnReconnectMessage(func(m twitch.ReconnectMessage) {
		slog.Info("chat: server requested reconnect", slog.String("component", "chat"))
	})
	irc.OnPrivateMessage(c.handlePrivateMessage)
	return c
}

// OnEvent installs the single event handler.
func (c *Client) OnEvent(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Run connects and keeps reconnecting with exponential backoff until ctx is
// cancelled. Only a rejected login is returned as an error.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()
	c.closing.Store(false)

	delay := c.retryMin
	for {
		err := c.connectOnce(ctx)
		wasUp := c.Connected()
		c.markDisconnected()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, twitch.ErrLoginAuthenticationFailed) {
			return fmt.Errorf("chat: login: %w", err)
		}
		if wasUp {
			delay = c.retryMin
		}
		slog.Warn("chat: connection lost, retrying", slog.String("component", "chat"),
			slog.Any("err", err), slog.Duration("delay", delay))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, c.retryMax)
	}
}

// connectOnce runs one Connect call. On cancellation it waits at most
// closeDeadline for the library to return; a connection that never finished
// its login cannot be closed from outside and is abandoned.
func (c *Client) connectOnce(ctx context.Context) error {
	c.attempts.Add(1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.irc.Connect()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	c.closing.Store(true)
	c.disconnect()
	t := time.NewTimer(c.closeDeadline)
	defer t.Stop()
	select {
	case <-errCh:
	case <-t.C:
		slog.Warn("chat: connection did not close in time", slog.String("component", "chat"))
	}
	return ctx.Err()
}

func (c *Client) disconnect() {
	if err := c.irc.Disconnect(); err != nil && !errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		slog.Warn("chat: disconnect", slog.String("component", "chat"), slog.Any("err", err))
	}
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.joined = false
	c.mu.Unlock()
}

// Connected reports whether the IRC connection is up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Joined reports whether the configured channel is currently joined.
func (c *Client) Joined() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.joined
}

// MainChannel returns the first channel chat was observed on, or "".
func (c *Client) MainChannel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.main
}

// SendTarget prefers the joined channel and falls back to the main channel
// observed from chat. It returns nil when neither is known.
func (c *Client) SendTarget() Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.connected && c.joined && c.channel != "" {
		return &ircChannel{client: c, name: c.channel}
	}
	if c.main != "" {
		return &ircChannel{client: c, name: c.main}
	}
	return nil
}

// ChannelFor returns a send handle for the channel an event came from.
func (c *Client) ChannelFor(name string) Channel {
	name = NormalizeChannel(name)
	if name == "" {
		return nil
	}
	return &ircChannel{client: c, name: name}
}

func (c *Client) handlePrivateMessage(m twitch.PrivateMessage) {
	ev := toEvent(m, c.username)

	c.mu.Lock()
	if c.main == "" && ev.Channel != "" {
		c.main = ev.Channel
	}
	h := c.handler
	ctx := c.baseCtx
	c.mu.Unlock()

	if h == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h(ctx, ev)
}

func toEvent(m twitch.PrivateMessage, self string) Event {
	sentAt := m.Time
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	return Event{
		ID:      m.ID,
		Channel: NormalizeChannel(m.Channel),
		User: User{
			ID:            m.User.ID,
			Name:          m.User.Name,
			DisplayName:   m.User.DisplayName,
			IsMod:         m.User.Badges["moderator"] > 0,
			IsBroadcaster: m.User.Badges["broadcaster"] > 0,
		},
		Message: m.Message,
		Time:    sentAt,
		Echo:    self != "" && strings.EqualFold(m.User.Name, self),
	}
}

type ircChannel struct {
	client *Client
	name   string
}

func (ch *ircChannel) Name() string { return ch.name }

func (ch *ircChannel) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ch.client.Connected() {
		return ErrNotConnected
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if r := []rune(text); len(r) > maxMessageLen {
		text = string(r[:maxMessageLen])
	}
	ch.client.say(ch.name, text)
	return nil
}
