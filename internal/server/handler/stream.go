package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quantfeed/compindex/internal/domain"
	"github.com/quantfeed/compindex/internal/publish"
)

// StreamReader is the slice of the signal bus the handler needs.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// StreamHandler serves the durable replay streams that mirror the live bus
// channels, so consumers that missed pub/sub messages can catch up.
type StreamHandler struct {
	reader StreamReader
	logger *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(reader StreamReader, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		reader: reader,
		logger: logHandler(logger, "stream"),
	}
}

// ReadStream returns buffered messages from a channel's durable stream.
// GET /api/stream/{channel}?last_id=0&count=100
func (h *StreamHandler) ReadStream(w http.ResponseWriter, r *http.Request) {
	channel := pathParam(r, "channel")
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}

	lastID := r.URL.Query().Get("last_id")
	if lastID == "" {
		lastID = "0"
	}

	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}
	if count > 1000 {
		count = 1000
	}

	msgs, err := h.reader.StreamRead(r.Context(), publish.StreamName(channel), lastID, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stream read failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "stream read failed")
		return
	}

	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]any{
			"id":      m.ID,
			"payload": json.RawMessage(m.Payload),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channel":  channel,
		"count":    len(out),
		"messages": out,
	})
}
