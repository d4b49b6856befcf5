// Package bot assembles one chat-bot process: the IRC transport, the command
// pipeline, the announcement scheduler, the liveness poller and the HTTP
// surface. Runtime is also the handler.Bot handed to handlers.
package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/streambot/announce"
	"github.com/onnwee/streambot/chat"
	"github.com/onnwee/streambot/commands"
	"github.com/onnwee/streambot/config"
	"github.com/onnwee/streambot/db"
	"github.com/onnwee/streambot/handler"
	"github.com/onnwee/streambot/liveness"
	"github.com/onnwee/streambot/server"
	"github.com/onnwee/streambot/twitchapi"
)

// Options carries the collaborators main builds outside of config.
type Options struct {
	// DB is required when the state backend is postgres.
	DB *sql.DB
	// HTTPClient is used for every Twitch API call. Nil uses a 10s-timeout client.
	HTTPClient *http.Client
}

// Runtime owns every long-lived component of the bot.
type Runtime struct {
	cfg *config.Config
	db  *sql.DB

	chat       *chat.Client
	tokens     *twitchapi.TokenSource
	games      *twitchapi.ChannelInfo
	poller     *liveness.Poller
	static     *commands.StaticSource
	registry   *commands.Registry
	cooldown   *commands.Cooldown
	router     *commands.Router
	dispatcher *commands.Dispatcher
	activity   *announce.Activity
	scheduler  *announce.Scheduler
}

var _ handler.Bot = (*Runtime)(nil)

// New wires the runtime from cfg. It loads the announcements file and restores
// persisted announcement state, but does not connect anywhere until Run.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}

	r := &Runtime{
		cfg:      cfg,
		db:       opts.DB,
		activity: &announce.Activity{},
		cooldown: commands.NewCooldown(cfg.CommandCooldown),
		static:   &commands.StaticSource{},
	}
	r.chat = chat.NewClient(chat.Config{
		Username:   cfg.TwitchBotUsername,
		OAuthToken: cfg.TwitchOAuthToken,
		Channel:    cfg.TwitchChannel,
	})

	if cfg.LivenessEnabled() {
		r.tokens = &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret, HTTPClient: hc}
		helixBase := cfg.HelixBaseURL
		r.poller = liveness.NewPoller(cfg.TwitchChannel, r.tokens,
			&twitchapi.HelixClient{ClientID: cfg.TwitchClientID, HTTPClient: hc, BaseURL: helixBase},
			r.chat, liveness.Options{
				Interval:       cfg.StreamPollInterval,
				TokenRetry:     cfg.StreamTokenRetry,
				ErrorRetry:     cfg.StreamErrorRetry,
				OnlineMessage:  cfg.StreamOnlineMessage,
				OfflineMessage: cfg.StreamOfflineMessage,
			})
		games, err := twitchapi.NewChannelInfo(cfg.TwitchClientID, r.tokens, hc, helixBase)
		if err != nil {
			return nil, err
		}
		r.games = games
	} else {
		slog.Warn("TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET not set - stream polling disabled, announcements will not fire",
			slog.String("component", "bot"))
	}

	r.registry = commands.NewRegistry(commands.MultiSource{r.static, commands.DirSource{Dir: cfg.CommandsDir}})
	r.router = commands.NewRouter(cfg.CommandPrefix, r.registry)
	if err := r.registerBuiltins(); err != nil {
		return nil, err
	}
	r.dispatcher = commands.NewDispatcher(r.registry, r.cooldown, r.activity, r.chat, r.router, r, commands.DispatcherOptions{
		Prefix:        cfg.CommandPrefix,
		ErrorMessage:  cfg.CommandErrorMessage,
		MaxConcurrent: cfg.CommandMaxConcurrent,
		Timeout:       cfg.CommandTimeout,
	})
	r.chat.OnEvent(r.dispatcher.OnChatEvent)

	store, err := r.stateStore()
	if err != nil {
		return nil, err
	}
	var lookup announce.GameLookup
	if r.games != nil {
		lookup = r.games
	}
	entries, err := announce.LoadFile(cfg.AnnouncementsFile, lookup)
	if err != nil {
		return nil, err
	}
	r.scheduler = announce.NewScheduler(entries, r.activity, r, r.chat, r, store, cfg.AnnounceTick)
	if err := r.scheduler.Restore(ctx); err != nil {
		// Unreadable state is not fatal; entries start fresh.
		slog.Warn("announcement state restore failed", slog.String("component", "bot"), slog.Any("err", err))
	}

	if err := r.registry.Scan(ctx); err != nil {
		slog.Warn("initial command scan failed", slog.String("component", "bot"), slog.Any("err", err))
	}
	return r, nil
}

func (r *Runtime) stateStore() (announce.StateStore, error) {
	switch r.cfg.StateBackend {
	case config.StateBackendPostgres:
		if r.db == nil {
			return nil, errors.New("STATE_BACKEND=postgres requires a database connection")
		}
		return &db.AnnouncementStore{DB: r.db}, nil
	default:
		return &announce.FileStore{Path: r.cfg.StateFile}, nil
	}
}

// Run starts every loop and blocks until ctx is cancelled or the chat
// connection fails for good. In-flight command handlers are awaited.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			slog.Debug("loop exited", slog.String("component", "bot"), slog.String("loop", name))
		}()
	}

	start("registry", func(ctx context.Context) {
		r.registry.Run(ctx, r.cfg.CommandRescanInterval, func(now time.Time) {
			if n := r.cooldown.Sweep(now); n > 0 {
				slog.Debug("cooldown records swept", slog.String("component", "bot"), slog.Int("removed", n))
			}
		})
	})
	start("announce", r.scheduler.Run)
	if r.poller != nil {
		start("liveness", r.poller.Run)
	}
	start("http", func(ctx context.Context) {
		if err := server.Start(ctx, r.serverDeps(), r.cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	})

	err := r.chat.Run(ctx)
	cancel()
	wg.Wait()
	r.dispatcher.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runtime) serverDeps() server.Deps {
	deps := server.Deps{
		Channel:       r.cfg.TwitchChannel,
		Chat:          r.chat,
		Commands:      r.registry,
		Announcements: r.scheduler,
		DB:            r.db,
		AdminUsername: r.cfg.AdminUsername,
		AdminPassword: r.cfg.AdminPassword,
		AdminToken:    r.cfg.AdminToken,
	}
	if r.poller != nil {
		deps.Live = r.poller
	}
	return deps
}

// Nick is the bot's login.
func (r *Runtime) Nick() string { return r.cfg.TwitchBotUsername }

// ChannelName is the configured channel login.
func (r *Runtime) ChannelName() string { return r.cfg.TwitchChannel }

// IsLive reports the poller's last observed state; false when polling is disabled.
func (r *Runtime) IsLive() bool {
	return r.poller != nil && r.poller.IsLive()
}

// AppToken returns a valid Helix app token.
func (r *Runtime) AppToken(ctx context.Context) (string, error) {
	if r.tokens == nil {
		return "", fmt.Errorf("%w: client credentials not configured", twitchapi.ErrNoToken)
	}
	return r.tokens.Get(ctx)
}
