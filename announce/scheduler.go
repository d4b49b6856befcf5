package announce

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/streambot/chat"
	"github.com/onnwee/streambot/handler"
	"github.com/onnwee/streambot/telemetry"
)

// LiveSource reports whether the stream is currently live.
type LiveSource interface {
	IsLive() bool
}

// Status is a read-only view of one entry for the status endpoint.
type Status struct {
	ID              string     `json:"id"`
	IntervalSeconds float64    `json:"interval_seconds"`
	MinChatMessages int        `json:"min_chat_messages"`
	MessageCounter  int        `json:"message_counter"`
	LastSentAt      *time.Time `json:"last_sent_at,omitempty"` // nil until the first send
}

// Scheduler owns the announcement entries. All entry mutation happens on the
// goroutine calling Tick.
type Scheduler struct {
	entries  []*Entry
	activity *Activity
	live     LiveSource
	targets  chat.TargetResolver
	bot      handler.Bot
	store    StateStore
	tick     time.Duration

	// unknown keeps persisted state for IDs no longer configured.
	unknown map[string]State

	snapshot atomic.Pointer[[]Status]
}

// NewScheduler builds a scheduler. store may be nil to disable persistence.
func NewScheduler(entries []*Entry, activity *Activity, live LiveSource, targets chat.TargetResolver, bot handler.Bot, store StateStore, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = 5 * time.Second
	}
	if activity == nil {
		activity = &Activity{}
	}
	s := &Scheduler{
		entries:  entries,
		activity: activity,
		live:     live,
		targets:  targets,
		bot:      bot,
		store:    store,
		tick:     tick,
		unknown:  map[string]State{},
	}
	s.publish()
	return s
}

// Restore loads persisted state into the entries. Call once before Run.
func (s *Scheduler) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	states, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]*Entry, len(s.entries))
	for _, e := range s.entries {
		byID[e.ID] = e
	}
	for id, st := range states {
		if e, ok := byID[id]; ok {
			st.apply(e)
			continue
		}
		s.unknown[id] = st
	}
	s.publish()
	slog.Info("announcement state restored", slog.String("component", "announce"),
		slog.Int("entries", len(s.entries)), slog.Int("stored", len(states)))
	return nil
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("announcement scheduler starting", slog.Int("entries", len(s.entries)), slog.Duration("tick", s.tick))
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("announcement scheduler stopped")
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick is one scheduler step. Chat activity is credited to every entry even
// while offline; entries fire only while live.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if n := s.activity.Drain(); n > 0 {
		for _, e := range s.entries {
			e.MessageCounter += n
		}
	}
	defer s.publish()

	if s.live == nil || !s.live.IsLive() {
		return
	}

	processed := 0
	for _, e := range s.entries {
		if !e.Due(now) {
			continue
		}
		s.fire(ctx, e)
		e.reset(now)
		processed++
	}
	if processed > 0 {
		s.persist(ctx)
	}
}

func (s *Scheduler) fire(ctx context.Context, e *Entry) {
	var target chat.Channel
	if s.targets != nil {
		target = s.targets.SendTarget()
	}
	if target == nil {
		slog.Warn("no chat channel for announcement", slog.String("component", "announce"), slog.String("announcement", e.ID))
		telemetry.IncAnnouncement(e.ID, telemetry.OutcomeSkipped)
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "announce", "announcement.fire", attribute.String("announcement", e.ID))
	defer span.End()
	out := e.Handler.Invoke(ctx, handler.Invocation{Target: target, Bot: s.bot})
	if out.OK() {
		telemetry.SetSpanSuccess(span)
		telemetry.IncAnnouncement(e.ID, telemetry.OutcomeOK)
		slog.Debug("announcement sent", slog.String("component", "announce"), slog.String("announcement", e.ID))
		return
	}
	telemetry.RecordError(span, out.Err)
	telemetry.IncAnnouncement(e.ID, telemetry.OutcomeError)
	slog.Error("announcement failed", slog.String("component", "announce"), slog.String("announcement", e.ID),
		slog.String("convention", out.Convention.String()), slog.Any("err", out.Err))
}

func (s *Scheduler) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	states := make(map[string]State, len(s.unknown)+len(s.entries))
	for id, st := range s.unknown {
		states[id] = st
	}
	for _, e := range s.entries {
		states[e.ID] = stateOf(e)
	}
	if err := s.store.Save(ctx, states); err != nil {
		telemetry.IncStateSaveFailure()
		slog.Warn("announcement state save failed", slog.String("component", "announce"), slog.Any("err", err))
	}
}

func (s *Scheduler) publish() {
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		st := Status{
			ID:              e.ID,
			IntervalSeconds: e.Interval.Seconds(),
			MinChatMessages: e.MinChatMessages,
			MessageCounter:  e.MessageCounter,
		}
		if !e.LastSentAt.IsZero() {
			last := e.LastSentAt
			st.LastSentAt = &last
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	s.snapshot.Store(&out)
}

// Snapshot returns the entry state as of the last tick. Safe from any goroutine.
func (s *Scheduler) Snapshot() []Status {
	return *s.snapshot.Load()
}
