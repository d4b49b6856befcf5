package chat

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotConnected is returned by Send when the transport has no live connection.
var ErrNotConnected = errors.New("chat: not connected")

// User describes the author of a chat line.
type User struct {
	ID            string
	Name          string
	DisplayName   string
	IsMod         bool
	IsBroadcaster bool
}

// Privileged reports whether the user may run mod-only commands.
func (u User) Privileged() bool { return u.IsMod || u.IsBroadcaster }

// Event is a single chat line delivered by the transport.
type Event struct {
	ID      string
	Channel string
	User    User
	Message string
	Time    time.Time
	// Echo is set for lines authored by the bot account itself.
	Echo bool
}

// InvokerID identifies the author for rate limiting: the platform user id when
// known, otherwise the lowercased login.
func (e Event) InvokerID() string {
	if e.User.ID != "" {
		return e.User.ID
	}
	return strings.ToLower(e.User.Name)
}

// Channel is a send handle for one joined channel.
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// TargetResolver picks the channel announcements and notices are sent to.
// It returns nil when no channel is resolvable.
type TargetResolver interface {
	SendTarget() Channel
}

// NormalizeChannel strips the IRC '#' prefix and surrounding whitespace.
func NormalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}
