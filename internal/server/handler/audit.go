package handler

import (
	"log/slog"
	"net/http"

	"github.com/quantfeed/compindex/internal/domain"
)

// AuditHandler exposes the operational audit log.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		store:  store,
		logger: logHandler(logger, "audit"),
	}
}

// ListEntries returns audit log entries, newest first.
// GET /api/audit?limit=50&since=...&until=...
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	entries, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit list failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "audit list failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}
