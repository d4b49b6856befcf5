package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/streambot/telemetry"
)

// HandleAdminRescan forces an immediate command registry scan.
func (h *Handlers) HandleAdminRescan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Commands == nil {
		http.Error(w, "command registry unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := h.deps.Commands.Scan(r.Context()); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("admin rescan failed", slog.String("component", "http"), slog.Any("err", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	names := h.deps.Commands.Names()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "count": len(names), "commands": names})
}
