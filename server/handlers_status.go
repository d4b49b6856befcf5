package server

import (
	"net/http"

	"github.com/onnwee/streambot/announce"
)

type statusResponse struct {
	Channel       string            `json:"channel"`
	Connected     bool              `json:"connected"`
	Joined        bool              `json:"joined"`
	Live          *bool             `json:"live"`
	Commands      []string          `json:"commands"`
	Announcements []announce.Status `json:"announcements"`
}

// HandleStatus returns a JSON summary of the bot. live is null when stream
// polling is disabled.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{
		Channel:       h.deps.Channel,
		Commands:      []string{},
		Announcements: []announce.Status{},
	}
	if c := h.deps.Chat; c != nil {
		resp.Connected = c.Connected()
		resp.Joined = c.Joined()
	}
	if l := h.deps.Live; l != nil {
		live := l.IsLive()
		resp.Live = &live
	}
	if h.deps.Commands != nil {
		resp.Commands = h.deps.Commands.Names()
	}
	if h.deps.Announcements != nil {
		resp.Announcements = h.deps.Announcements.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}
