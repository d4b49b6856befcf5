// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChatMessages       prometheus.Counter
	CommandsDispatched *prometheus.CounterVec // labels: command, outcome
	AnnouncementsSent  *prometheus.CounterVec // labels: announcement, outcome
	StateSaveFailures  prometheus.Counter
	LivenessPolls      *prometheus.CounterVec // labels: result
	RegistryScans      prometheus.Counter

	// Histograms (seconds)
	CommandDuration prometheus.Observer

	// Gauges
	StreamLiveGauge         prometheus.Gauge // 1=live,0=offline
	RegisteredCommandsGauge prometheus.Gauge
)

// Command outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCooldown  = "cooldown"
	OutcomeUnknown   = "unknown"
	OutcomeForbidden = "forbidden"
	OutcomeSkipped   = "skipped"
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_chat_messages_total", Help: "Chat lines observed, excluding the bot's own echoes"})
		CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_commands_total", Help: "Command dispatch attempts by outcome"}, []string{"command", "outcome"})
		AnnouncementsSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_announcements_total", Help: "Announcement firings by outcome"}, []string{"announcement", "outcome"})
		StateSaveFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_state_save_failures_total", Help: "Failed announcement state saves"})
		LivenessPolls = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streambot_liveness_polls_total", Help: "Liveness poll cycles by result"}, []string{"result"})
		RegistryScans = promauto.NewCounter(prometheus.CounterOpts{Name: "streambot_registry_scans_total", Help: "Command registry scans"})
		CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "streambot_command_duration_seconds", Help: "Command handler duration seconds", Buckets: prometheus.DefBuckets})
		StreamLiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streambot_stream_live", Help: "Stream live=1 offline=0"})
		RegisteredCommandsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streambot_registered_commands", Help: "Commands in the current registry snapshot"})
	})
}

// SetStreamLive sets gauge to 1 if live else 0.
func SetStreamLive(live bool) {
	if StreamLiveGauge == nil {
		return
	}
	if live {
		StreamLiveGauge.Set(1)
	} else {
		StreamLiveGauge.Set(0)
	}
}

// SetRegisteredCommands records the size of the command registry.
func SetRegisteredCommands(n int) {
	if RegisteredCommandsGauge != nil {
		RegisteredCommandsGauge.Set(float64(n))
	}
}

// IncChat counts one observed chat line.
func IncChat() {
	if ChatMessages != nil {
		ChatMessages.Inc()
	}
}

// IncCommand counts a dispatch attempt.
func IncCommand(command, outcome string) {
	if CommandsDispatched != nil {
		CommandsDispatched.WithLabelValues(command, outcome).Inc()
	}
}

// IncAnnouncement counts an announcement firing.
func IncAnnouncement(id, outcome string) {
	if AnnouncementsSent != nil {
		AnnouncementsSent.WithLabelValues(id, outcome).Inc()
	}
}

// IncLivenessPoll counts a liveness cycle.
func IncLivenessPoll(result string) {
	if LivenessPolls != nil {
		LivenessPolls.WithLabelValues(result).Inc()
	}
}

// IncStateSaveFailure counts a failed state save.
func IncStateSaveFailure() {
	if StateSaveFailures != nil {
		StateSaveFailures.Inc()
	}
}

// IncRegistryScan counts a registry scan.
func IncRegistryScan() {
	if RegistryScans != nil {
		RegistryScans.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
