package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/onnwee/streambot/handler"
)

// registerBuiltins adds the commands implemented in code. Files in
// COMMANDS_DIR with the same name override them.
func (r *Runtime) registerBuiltins() error {
	if err := r.static.Register("live", func(ctx context.Context, bot handler.Bot, c *handler.Context) error {
		if bot.IsLive() {
			return c.Reply(ctx, fmt.Sprintf("%s is live right now!", bot.ChannelName()))
		}
		return c.Reply(ctx, fmt.Sprintf("%s is offline.", bot.ChannelName()))
	}, false); err != nil {
		return err
	}

	if err := r.static.Register("rescan", func(ctx context.Context, c *handler.Context) error {
		if err := r.registry.Scan(ctx); err != nil {
			return err
		}
		return c.Reply(ctx, fmt.Sprintf("Reloaded %d commands.", r.registry.Len()))
	}, true); err != nil {
		return err
	}

	if r.games != nil {
		if err := r.static.Register("game", func(ctx context.Context, bot handler.Bot, c *handler.Context) error {
			lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			game, err := r.games.CurrentGame(lookupCtx, bot.ChannelName())
			if err != nil {
				return err
			}
			if game == "" {
				return c.Reply(ctx, "No category set.")
			}
			return c.Reply(ctx, "Current category: "+game)
		}, false); err != nil {
			return err
		}
	}
	return nil
}
