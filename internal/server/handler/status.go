package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports the service mode and configured universe for the
// dashboard.
type StatusHandler struct {
	Mode      string
	Symbols   []string
	Windows   []time.Duration
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, symbols []string, windows []time.Duration, startedAt time.Time) *StatusHandler {
	return &StatusHandler{Mode: mode, Symbols: symbols, Windows: windows, StartedAt: startedAt}
}

// GetStatus responds with the current mode, symbols, and emission windows.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	windows := make([]string, 0, len(h.Windows))
	for _, w := range h.Windows {
		windows = append(windows, w.String())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"symbols":        h.Symbols,
		"windows":        windows,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
