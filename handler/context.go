package handler

import (
	"context"
	"strings"

	"github.com/onnwee/streambot/chat"
)

// Context is the rich argument passed to command handlers. The bot is passed
// separately, through Invocation.Bot.
type Context struct {
	Event   chat.Event
	Channel chat.Channel

	Prefix  string
	Command string
	// Raw is the message without the prefix.
	Raw  string
	Args []string
}

// NewContext parses a prefixed chat line. It returns nil if the message does
// not start with prefix or names no command.
func NewContext(ev chat.Event, prefix string, ch chat.Channel) *Context {
	text := strings.TrimSpace(ev.Message)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return nil
	}
	raw := strings.TrimPrefix(text, prefix)
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return nil
	}
	return &Context{
		Event:   ev,
		Channel: ch,
		Prefix:  prefix,
		Command: parts[0],
		Raw:     raw,
		Args:    parts[1:],
	}
}

// Author returns the display name of the invoker, falling back to the login.
func (c *Context) Author() string {
	if c.Event.User.DisplayName != "" {
		return c.Event.User.DisplayName
	}
	return c.Event.User.Name
}

// Reply sends text to the channel the command came from.
func (c *Context) Reply(ctx context.Context, text string) error {
	if c.Channel == nil {
		return chat.ErrNotConnected
	}
	return c.Channel.Send(ctx, text)
}
