package liveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/streambot/chat"
)

type fakeTokens struct {
	valid       bool
	invalidated int
}

func (f *fakeTokens) EnsureValid(ctx context.Context) bool { return f.valid }
func (f *fakeTokens) Token() string                        { return "app-token" }
func (f *fakeTokens) Invalidate()                          { f.invalidated++ }

type queryResult struct {
	live bool
	err  error
}

type fakeQuery struct {
	mu      sync.Mutex
	results []queryResult
	calls   int
	token   string
}

func (f *fakeQuery) IsLive(ctx context.Context, login, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
	r := f.results[f.calls%len(f.results)]
	f.calls++
	return r.live, r.err
}

type recordingChannel struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (c *recordingChannel) Name() string { return "somechannel" }
func (c *recordingChannel) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return c.err
}

type staticTarget struct{ ch chat.Channel }

func (s staticTarget) SendTarget() chat.Channel { return s.ch }

var testOpts = Options{
	Interval:       30 * time.Second,
	TokenRetry:     60 * time.Second,
	ErrorRetry:     15 * time.Second,
	OnlineMessage:  "online",
	OfflineMessage: "offline",
}

func newTestPoller(results ...queryResult) (*Poller, *fakeTokens, *fakeQuery, *recordingChannel) {
	tokens := &fakeTokens{valid: true}
	q := &fakeQuery{results: results}
	ch := &recordingChannel{}
	return NewPoller("somechannel", tokens, q, staticTarget{ch}, testOpts), tokens, q, ch
}

func TestStepLiveTwiceAnnouncesOnce(t *testing.T) {
	p, _, q, ch := newTestPoller(queryResult{live: true})
	for i := 0; i < 3; i++ {
		if d := p.Step(context.Background()); d != testOpts.Interval {
			t.Errorf("step %d delay = %v, want %v", i, d, testOpts.Interval)
		}
	}
	if !p.IsLive() {
		t.Error("expected live state")
	}
	if len(ch.sent) != 1 || ch.sent[0] != "online" {
		t.Errorf("notices = %v, want [online]", ch.sent)
	}
	if q.token != "app-token" {
		t.Errorf("query token = %q", q.token)
	}
}

func TestStepFlipFlopAnnouncesEachTransition(t *testing.T) {
	p, _, _, ch := newTestPoller(
		queryResult{live: true},
		queryResult{live: false},
		queryResult{live: true},
	)
	for i := 0; i < 3; i++ {
		p.Step(context.Background())
	}
	want := []string{"online", "offline", "online"}
	if len(ch.sent) != len(want) {
		t.Fatalf("notices = %v, want %v", ch.sent, want)
	}
	for i := range want {
		if ch.sent[i] != want[i] {
			t.Errorf("notice %d = %q, want %q", i, ch.sent[i], want[i])
		}
	}
}

func TestStepOfflineFromStartIsSilent(t *testing.T) {
	p, _, _, ch := newTestPoller(queryResult{live: false})
	p.Step(context.Background())
	p.Step(context.Background())
	if p.IsLive() || len(ch.sent) != 0 {
		t.Errorf("live = %v notices = %v, want offline and silent", p.IsLive(), ch.sent)
	}
}

func TestStepNoTokenBacksOff(t *testing.T) {
	p, tokens, q, _ := newTestPoller(queryResult{live: true})
	tokens.valid = false
	if d := p.Step(context.Background()); d != testOpts.TokenRetry {
		t.Errorf("delay = %v, want %v", d, testOpts.TokenRetry)
	}
	if q.calls != 0 {
		t.Errorf("query called %d times without a token", q.calls)
	}
}

func TestStepQueryErrorInvalidatesToken(t *testing.T) {
	p, tokens, _, ch := newTestPoller(queryResult{live: true}, queryResult{err: errors.New("boom")})
	p.Step(context.Background())

	if d := p.Step(context.Background()); d != testOpts.ErrorRetry {
		t.Errorf("delay = %v, want %v", d, testOpts.ErrorRetry)
	}
	if tokens.invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", tokens.invalidated)
	}
	if !p.IsLive() {
		t.Error("query error must not change the state")
	}
	if len(ch.sent) != 1 {
		t.Errorf("notices = %v, want only the first transition", ch.sent)
	}
}

func TestStepSendFailureStillTransitions(t *testing.T) {
	p, _, _, ch := newTestPoller(queryResult{live: true})
	ch.err = chat.ErrNotConnected
	p.Step(context.Background())
	if !p.IsLive() {
		t.Error("expected live state despite send failure")
	}
	p.Step(context.Background())
	if len(ch.sent) != 1 {
		t.Errorf("send attempts = %d, want 1", len(ch.sent))
	}
}

func TestStepWithoutTarget(t *testing.T) {
	tokens := &fakeTokens{valid: true}
	q := &fakeQuery{results: []queryResult{{live: true}}}
	p := NewPoller("somechannel", tokens, q, staticTarget{}, testOpts)
	p.Step(context.Background())
	if !p.IsLive() {
		t.Error("expected live state without a chat target")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p, _, q, _ := newTestPoller(queryResult{live: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		q.mu.Lock()
		calls := q.calls
		q.mu.Unlock()
		if calls > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if !p.IsLive() {
		t.Error("expected first cycle to run immediately")
	}
}

func TestOptionsDefaults(t *testing.T) {
	p := NewPoller("x", &fakeTokens{}, &fakeQuery{}, nil, Options{})
	if p.opts.Interval != 30*time.Second || p.opts.TokenRetry != 60*time.Second || p.opts.ErrorRetry != 15*time.Second {
		t.Errorf("defaults = %+v", p.opts)
	}
}
