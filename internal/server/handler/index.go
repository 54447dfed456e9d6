package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfeed/compindex/internal/domain"
)

// IndexReader is the slice of the index service the handler needs.
type IndexReader interface {
	Latest(ctx context.Context, symbol string, window time.Duration) (domain.IndexResult, error)
	History(ctx context.Context, symbol string, window time.Duration, opts domain.ListOpts) ([]domain.IndexResult, error)
}

// IndexHandler serves the computed index values.
type IndexHandler struct {
	reader        IndexReader
	defaultWindow time.Duration
	logger        *slog.Logger
}

// NewIndexHandler creates an IndexHandler. defaultWindow is used when the
// request does not carry a window parameter.
func NewIndexHandler(reader IndexReader, defaultWindow time.Duration, logger *slog.Logger) *IndexHandler {
	return &IndexHandler{
		reader:        reader,
		defaultWindow: defaultWindow,
		logger:        logHandler(logger, "index"),
	}
}

// GetLatest returns the most recent emission for a symbol.
// GET /api/index/{symbol}?window=5s
func (h *IndexHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	window := parseWindow(r, h.defaultWindow)

	res, err := h.reader.Latest(r.Context(), symbol, window)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no index value for symbol")
			return
		}
		h.logger.ErrorContext(r.Context(), "latest index lookup failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "index lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// GetHistory returns stored emissions for a symbol, newest first.
// GET /api/index/{symbol}/history?window=5s&limit=100&since=...&until=...
func (h *IndexHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	window := parseWindow(r, h.defaultWindow)
	opts := parseListOpts(r)

	results, err := h.reader.History(r.Context(), symbol, window, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "index history lookup failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "index history lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"window":  window.String(),
		"count":   len(results),
		"results": results,
	})
}
