package announce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/onnwee/streambot/chat"
	"github.com/onnwee/streambot/handler"
)

// Handler kinds accepted in the announcements file.
const (
	KindText = "text"
	KindGame = "game"
)

// GameLookup returns the category currently set on a channel.
type GameLookup interface {
	CurrentGame(ctx context.Context, login string) (string, error)
}

// Seconds decodes either a number of seconds or a Go duration string.
type Seconds time.Duration

func (s *Seconds) UnmarshalYAML(node *yaml.Node) error {
	v := strings.TrimSpace(node.Value)
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		*s = Seconds(time.Duration(n * float64(time.Second)))
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid interval %q", node.Value)
	}
	*s = Seconds(d)
	return nil
}

// Definition is one announcement in the YAML file.
type Definition struct {
	ID              string   `yaml:"id"`
	Interval        Seconds  `yaml:"interval"`
	MinChatMessages int      `yaml:"min_chat_messages"`
	Handler         string   `yaml:"handler"`
	Message         string   `yaml:"message"`
	Games           []string `yaml:"games"`
}

// File is the announcements file:
//
//	announcements:
//	  - id: socials
//	    interval: 600          # seconds, or "10m"
//	    min_chat_messages: 3
//	    message: "Follow the channel!"
//	  - id: chess-tip
//	    interval: 15m
//	    handler: game
//	    games: [Chess]
//	    message: "Analysis board is linked in the panels."
type File struct {
	Announcements []Definition `yaml:"announcements"`
}

// Validate checks a single definition.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("id is required")
	}
	if time.Duration(d.Interval) <= 0 {
		return fmt.Errorf("%s: interval must be positive", d.ID)
	}
	if d.MinChatMessages < 0 {
		return fmt.Errorf("%s: min_chat_messages must not be negative", d.ID)
	}
	if strings.TrimSpace(d.Message) == "" {
		return fmt.Errorf("%s: message is required", d.ID)
	}
	switch d.kind() {
	case KindText:
	case KindGame:
		if len(d.Games) == 0 {
			return fmt.Errorf("%s: game handler needs at least one game", d.ID)
		}
	default:
		return fmt.Errorf("%s: unknown handler %q", d.ID, d.Handler)
	}
	return nil
}

func (d Definition) kind() string {
	k := strings.ToLower(strings.TrimSpace(d.Handler))
	if k == "" {
		return KindText
	}
	return k
}

// LoadFile reads the announcements file and builds entries. A missing file
// yields no entries. Invalid definitions are logged and skipped; duplicate IDs
// keep the first definition.
func LoadFile(path string, games GameLookup) ([]*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("no announcements file", slog.String("path", path))
			return nil, nil
		}
		return nil, fmt.Errorf("announce: read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("announce: decode %s: %w", path, err)
	}
	return Build(f.Announcements, games), nil
}

// Build turns definitions into entries, skipping invalid ones.
func Build(defs []Definition, games GameLookup) []*Entry {
	seen := make(map[string]bool, len(defs))
	entries := make([]*Entry, 0, len(defs))
	for i, d := range defs {
		if err := d.Validate(); err != nil {
			slog.Warn("skipping announcement", slog.String("component", "announce"), slog.Int("index", i), slog.Any("err", err))
			continue
		}
		if seen[d.ID] {
			slog.Warn("duplicate announcement id; keeping the first", slog.String("component", "announce"), slog.String("id", d.ID))
			continue
		}
		h, err := buildHandler(d, games)
		if err != nil {
			slog.Warn("skipping announcement", slog.String("component", "announce"), slog.String("id", d.ID), slog.Any("err", err))
			continue
		}
		seen[d.ID] = true
		entries = append(entries, &Entry{
			ID:              d.ID,
			Interval:        time.Duration(d.Interval),
			MinChatMessages: d.MinChatMessages,
			Handler:         h,
		})
	}
	return entries
}

func buildHandler(d Definition, games GameLookup) (*handler.Handler, error) {
	msg := d.Message
	switch d.kind() {
	case KindGame:
		if games == nil {
			return nil, errors.New("game handler needs Twitch client credentials")
		}
		return handler.Adapt(d.ID, GameGated(games, d.Games, msg))
	default:
		return handler.Adapt(d.ID, func(ctx context.Context, target chat.Channel) error {
			return target.Send(ctx, msg)
		})
	}
}

// GameGated sends msg only while the channel's current category is one of
// allowed (case-insensitive).
func GameGated(games GameLookup, allowed []string, msg string) func(context.Context, chat.Channel, handler.Bot) error {
	set := make(map[string]bool, len(allowed))
	for _, g := range allowed {
		set[strings.ToLower(strings.TrimSpace(g))] = true
	}
	return func(ctx context.Context, target chat.Channel, bot handler.Bot) error {
		game, err := games.CurrentGame(ctx, bot.ChannelName())
		if err != nil {
			return fmt.Errorf("current game: %w", err)
		}
		if !set[strings.ToLower(strings.TrimSpace(game))] {
			slog.Debug("announcement skipped for category", slog.String("component", "announce"), slog.String("game", game))
			return nil
		}
		return target.Send(ctx, msg)
	}
}
