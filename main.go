// Command streambot runs the Twitch chat-bot.
// It:
//   - Loads configuration from the environment (and .env in development).
//   - Connects to the configured channel's chat and dispatches commands.
//   - Posts scheduled announcements while the stream is live.
//   - Polls Helix for stream online/offline transitions.
//   - Exposes /healthz, /readyz, /status and /metrics over HTTP.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/streambot/bot"
	"github.com/onnwee/streambot/config"
	"github.com/onnwee/streambot/db"
	"github.com/onnwee/streambot/telemetry"
)

const version = "1.0.0"

func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("streambot", version, cfg.OTLPEndpoint, cfg.TraceSampleRate)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var database *sql.DB
	if cfg.StateBackend == config.StateBackendPostgres {
		database, err = db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	rt, err := bot.New(ctx, cfg, bot.Options{DB: database})
	if err != nil {
		slog.Error("bot setup failed", slog.Any("err", err))
		os.Exit(1)
	}

	slog.Info("starting streambot", slog.String("channel", cfg.TwitchChannel), slog.String("bot", cfg.TwitchBotUsername),
		slog.Bool("liveness", cfg.LivenessEnabled()), slog.String("state_backend", cfg.StateBackend))
	start := time.Now()
	if err := rt.Run(ctx); err != nil {
		slog.Error("bot stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutting down", slog.Duration("uptime", time.Since(start)))
}
