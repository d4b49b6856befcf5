package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/streambot/announce"
	"github.com/onnwee/streambot/telemetry"
)

type fakeChat struct{ connected, joined bool }

func (f fakeChat) Connected() bool { return f.connected }
func (f fakeChat) Joined() bool    { return f.joined }

type fakeLive bool

func (f fakeLive) IsLive() bool { return bool(f) }

type fakeCommands struct {
	names []string
	scans atomic.Int32
	err   error
}

func (f *fakeCommands) Scan(ctx context.Context) error {
	f.scans.Add(1)
	return f.err
}

func (f *fakeCommands) Names() []string { return f.names }

type fakeAnnouncements []announce.Status

func (f fakeAnnouncements) Snapshot() []announce.Status { return f }

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(NewMux(ctx, deps))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, Deps{})
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("expected generated correlation id header")
	}
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	srv := newTestServer(t, Deps{})
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Correlation-ID"); got != "abc-123" {
		t.Fatalf("correlation id = %q", got)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name   string
		chat   ChatState
		status int
		failed string
	}{
		{"no chat", nil, http.StatusServiceUnavailable, "chat"},
		{"connected not joined", fakeChat{connected: true}, http.StatusServiceUnavailable, "chat"},
		{"joined", fakeChat{connected: true, joined: true}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, Deps{Chat: tt.chat})
			resp, err := http.Get(srv.URL + "/readyz")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["failed_check"] != tt.failed {
				t.Errorf("failed_check = %q, want %q", body["failed_check"], tt.failed)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	last := time.Unix(1_700_000_000, 0).UTC()
	srv := newTestServer(t, Deps{
		Channel:  "somechannel",
		Chat:     fakeChat{connected: true, joined: true},
		Live:     fakeLive(true),
		Commands: &fakeCommands{names: []string{"hello", "lurk"}},
		Announcements: fakeAnnouncements{
			{ID: "socials", IntervalSeconds: 600, MinChatMessages: 3, MessageCounter: 1, LastSentAt: &last},
			{ID: "raid", IntervalSeconds: 900},
		},
	})
	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Channel != "somechannel" || !body.Connected || !body.Joined {
		t.Errorf("unexpected chat fields: %+v", body)
	}
	if body.Live == nil || !*body.Live {
		t.Errorf("live = %v, want true", body.Live)
	}
	if strings.Join(body.Commands, ",") != "hello,lurk" {
		t.Errorf("commands = %v", body.Commands)
	}
	if len(body.Announcements) != 2 || body.Announcements[0].ID != "socials" || !body.Announcements[0].LastSentAt.Equal(last) {
		t.Errorf("announcements = %+v", body.Announcements)
	}
	if len(body.Announcements) == 2 && body.Announcements[1].LastSentAt != nil {
		t.Errorf("never-sent announcement has last_sent_at = %v", body.Announcements[1].LastSentAt)
	}
}

func TestStatusWithoutLiveness(t *testing.T) {
	srv := newTestServer(t, Deps{Chat: fakeChat{}})
	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["live"]) != "null" {
		t.Errorf("live = %s, want null", raw["live"])
	}
	if string(raw["commands"]) != "[]" {
		t.Errorf("commands = %s, want []", raw["commands"])
	}
}

func TestAdminRescan(t *testing.T) {
	cmds := &fakeCommands{names: []string{"hello"}}
	srv := newTestServer(t, Deps{Commands: cmds, AdminToken: "s3cret"})

	resp, err := http.Post(srv.URL+"/admin/commands/rescan", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/admin/commands/rescan", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if n := cmds.scans.Load(); n != 1 {
		t.Errorf("scans = %d, want 1", n)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 {
		t.Errorf("count = %d", body.Count)
	}
}

func TestAdminRescanErrors(t *testing.T) {
	cmds := &fakeCommands{err: errors.New("dir unreadable")}
	srv := newTestServer(t, Deps{Commands: cmds})

	resp, err := http.Get(srv.URL + "/admin/commands/rescan")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/admin/commands/rescan", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	telemetry.Init()
	telemetry.IncChat()
	srv := newTestServer(t, Deps{})
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}

func TestStartShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, Deps{}, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
