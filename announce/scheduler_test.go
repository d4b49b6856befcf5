package announce

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/streambot/chat"
	"github.com/onnwee/streambot/handler"
)

type liveFlag struct{ v atomic.Bool }

func (l *liveFlag) IsLive() bool { return l.v.Load() }

type sinkChannel struct{ sent []string }

func (c *sinkChannel) Name() string { return "somechannel" }
func (c *sinkChannel) Send(ctx context.Context, text string) error {
	c.sent = append(c.sent, text)
	return nil
}

type target struct{ ch chat.Channel }

func (t target) SendTarget() chat.Channel { return t.ch }

type memStore struct {
	states map[string]State
	saves  int
	err    error
}

func (m *memStore) Load(ctx context.Context) (map[string]State, error) {
	out := map[string]State{}
	for k, v := range m.states {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Save(ctx context.Context, states map[string]State) error {
	m.saves++
	if m.err != nil {
		return m.err
	}
	m.states = states
	return nil
}

func textEntry(id string, interval time.Duration, min int) *Entry {
	return &Entry{
		ID:              id,
		Interval:        interval,
		MinChatMessages: min,
		Handler: handler.MustAdapt(id, func(ctx context.Context, ch chat.Channel) error {
			return ch.Send(ctx, id)
		}),
	}
}

type schedFixture struct {
	s        *Scheduler
	live     *liveFlag
	ch       *sinkChannel
	activity *Activity
	store    *memStore
}

func newSchedFixture(entries ...*Entry) *schedFixture {
	f := &schedFixture{live: &liveFlag{}, ch: &sinkChannel{}, activity: &Activity{}, store: &memStore{}}
	f.live.v.Store(true)
	f.s = NewScheduler(entries, f.activity, f.live, target{f.ch}, nil, f.store, time.Second)
	return f
}

func (f *schedFixture) chat(n int) {
	for i := 0; i < n; i++ {
		f.activity.Observe()
	}
}

var t0 = time.Unix(1_700_000_000, 0)

func TestTickGatesOnInterval(t *testing.T) {
	e := textEntry("socials", 600*time.Second, 0)
	f := newSchedFixture(e)

	f.s.Tick(context.Background(), t0)
	require.Equal(t, []string{"socials"}, f.ch.sent)

	f.s.Tick(context.Background(), t0.Add(599*time.Second))
	assert.Len(t, f.ch.sent, 1, "must not fire before the interval")

	f.s.Tick(context.Background(), t0.Add(600*time.Second))
	assert.Len(t, f.ch.sent, 2)
}

func TestTickGatesOnChatVolume(t *testing.T) {
	e := textEntry("socials", time.Minute, 3)
	f := newSchedFixture(e)

	f.chat(2)
	f.s.Tick(context.Background(), t0)
	assert.Empty(t, f.ch.sent)
	assert.Equal(t, 2, e.MessageCounter)

	f.chat(1)
	f.s.Tick(context.Background(), t0.Add(time.Second))
	require.Len(t, f.ch.sent, 1)
	assert.Equal(t, 0, e.MessageCounter)
	assert.Equal(t, t0.Add(time.Second), e.LastSentAt)
}

func TestTickOfflineCreditsActivityWithoutFiring(t *testing.T) {
	e := textEntry("socials", time.Minute, 2)
	f := newSchedFixture(e)
	f.live.v.Store(false)

	f.chat(5)
	f.s.Tick(context.Background(), t0)
	assert.Empty(t, f.ch.sent)
	assert.Equal(t, 5, e.MessageCounter)
	assert.Zero(t, f.store.saves, "nothing processed, nothing saved")

	f.live.v.Store(true)
	f.s.Tick(context.Background(), t0.Add(time.Second))
	assert.Len(t, f.ch.sent, 1)
}

func TestTickResetsAfterFailure(t *testing.T) {
	calls := 0
	e := &Entry{
		ID:       "broken",
		Interval: time.Minute,
		Handler: handler.MustAdapt("broken", func(ctx context.Context, ch chat.Channel) error {
			calls++
			return errors.New("send failed")
		}),
	}
	f := newSchedFixture(e)
	f.chat(4)

	f.s.Tick(context.Background(), t0)
	assert.Equal(t, 1, calls)
	assert.Equal(t, t0, e.LastSentAt)
	assert.Zero(t, e.MessageCounter)

	// Reset makes the next tick a no-op for this entry.
	f.s.Tick(context.Background(), t0.Add(time.Second))
	assert.Equal(t, 1, calls)
}

func TestTickRecoversPanickingHandler(t *testing.T) {
	boom := &Entry{ID: "boom", Interval: time.Minute, Handler: handler.MustAdapt("boom", func() { panic("kaboom") })}
	ok := textEntry("ok", time.Minute, 0)
	f := newSchedFixture(boom, ok)

	f.s.Tick(context.Background(), t0)
	assert.Equal(t, []string{"ok"}, f.ch.sent)
	assert.Equal(t, t0, boom.LastSentAt)
}

func TestTickWithoutTargetStillResets(t *testing.T) {
	e := textEntry("socials", time.Minute, 0)
	f := newSchedFixture(e)
	f.s.targets = target{}

	f.s.Tick(context.Background(), t0)
	assert.Empty(t, f.ch.sent)
	assert.Equal(t, t0, e.LastSentAt)
	assert.Equal(t, 1, f.store.saves)
}

func TestTickPersistsOncePerTick(t *testing.T) {
	a := textEntry("a", time.Minute, 0)
	b := textEntry("b", time.Minute, 0)
	f := newSchedFixture(a, b)
	f.store.states = map[string]State{"retired": {LastSent: 42, Counter: 7}}
	require.NoError(t, f.s.Restore(context.Background()))

	f.s.Tick(context.Background(), t0)
	assert.Equal(t, 1, f.store.saves)
	require.Contains(t, f.store.states, "a")
	require.Contains(t, f.store.states, "b")
	assert.Equal(t, State{LastSent: 42, Counter: 7}, f.store.states["retired"], "unknown ids are preserved")
	assert.InDelta(t, float64(t0.Unix()), f.store.states["a"].LastSent, 0.001)
}

func TestTickSaveFailureKeepsMemoryState(t *testing.T) {
	e := textEntry("socials", time.Minute, 0)
	f := newSchedFixture(e)
	f.store.err = errors.New("disk full")

	f.s.Tick(context.Background(), t0)
	assert.Equal(t, t0, e.LastSentAt)
	f.s.Tick(context.Background(), t0.Add(30*time.Second))
	assert.Len(t, f.ch.sent, 1, "in-memory state still advanced")
}

func TestRestoreWithPersistedCounterFiresOnFirstTick(t *testing.T) {
	e := textEntry("socials", 10*time.Minute, 5)
	f := newSchedFixture(e)
	f.store.states = map[string]State{
		"socials": {LastSent: float64(t0.Add(-time.Hour).Unix()), Counter: 5},
	}
	require.NoError(t, f.s.Restore(context.Background()))
	assert.Equal(t, 5, e.MessageCounter)

	f.s.Tick(context.Background(), t0)
	assert.Equal(t, []string{"socials"}, f.ch.sent)
}

func TestRestoreRecentLastSentWaitsForInterval(t *testing.T) {
	e := textEntry("socials", 10*time.Minute, 0)
	f := newSchedFixture(e)
	f.store.states = map[string]State{"socials": {LastSent: float64(t0.Add(-time.Minute).Unix()), Counter: 10}}
	require.NoError(t, f.s.Restore(context.Background()))

	f.s.Tick(context.Background(), t0)
	assert.Empty(t, f.ch.sent)
	f.s.Tick(context.Background(), t0.Add(9*time.Minute))
	assert.Len(t, f.ch.sent, 1)
}

// Interval 600s, three messages required: the third message arriving just
// before the tick that crosses the interval makes that tick fire.
func TestIntervalAndVolumeScenario(t *testing.T) {
	e := textEntry("socials", 600*time.Second, 3)
	f := newSchedFixture(e)

	f.chat(3)
	f.s.Tick(context.Background(), t0)
	require.Len(t, f.ch.sent, 1)

	f.chat(2)
	f.s.Tick(context.Background(), t0.Add(300*time.Second))
	f.s.Tick(context.Background(), t0.Add(600*time.Second))
	assert.Len(t, f.ch.sent, 1, "two messages are not enough")

	f.chat(1)
	f.s.Tick(context.Background(), t0.Add(605*time.Second))
	assert.Len(t, f.ch.sent, 2)
	assert.Zero(t, e.MessageCounter)
	assert.Equal(t, t0.Add(605*time.Second), e.LastSentAt)
}

func TestSnapshot(t *testing.T) {
	e := textEntry("socials", time.Minute, 2)
	f := newSchedFixture(e)
	f.live.v.Store(false)
	f.chat(1)
	f.s.Tick(context.Background(), t0)

	snap := f.s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "socials", snap[0].ID)
	assert.Equal(t, 1, snap[0].MessageCounter)
	assert.Equal(t, 60.0, snap[0].IntervalSeconds)
	assert.Nil(t, snap[0].LastSentAt, "never sent")

	data, err := json.Marshal(snap[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "last_sent_at")

	f.live.v.Store(true)
	f.chat(1)
	f.s.Tick(context.Background(), t0)
	snap = f.s.Snapshot()
	require.NotNil(t, snap[0].LastSentAt)
	assert.Equal(t, t0, *snap[0].LastSentAt)
}

func TestStateRoundTripPreservesSubsecond(t *testing.T) {
	e := &Entry{LastSentAt: time.Unix(1_700_000_000, 500_000_000), MessageCounter: 3}
	st := stateOf(e)
	var back Entry
	st.apply(&back)
	assert.WithinDuration(t, e.LastSentAt, back.LastSentAt, time.Millisecond)
	assert.Equal(t, 3, back.MessageCounter)

	st = stateOf(&Entry{})
	assert.Zero(t, st.LastSent)
}
