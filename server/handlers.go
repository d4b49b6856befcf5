package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/onnwee/streambot/announce"
)

// ChatState reports the IRC connection state.
type ChatState interface {
	Connected() bool
	Joined() bool
}

// LiveState reports the last observed stream state.
type LiveState interface {
	IsLive() bool
}

// CommandIndex is the command registry as seen by the HTTP API.
type CommandIndex interface {
	Scan(ctx context.Context) error
	Names() []string
}

// AnnouncementView exposes the scheduler's published state.
type AnnouncementView interface {
	Snapshot() []announce.Status
}

// Deps are the collaborators the handlers read from. Any of them may be nil
// except Chat.
type Deps struct {
	Channel       string
	Chat          ChatState
	Live          LiveState
	Commands      CommandIndex
	Announcements AnnouncementView
	DB            *sql.DB

	AdminUsername string
	AdminPassword string
	AdminToken    string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
