package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfeed/compindex/internal/domain"
)

type fakeReader struct {
	latest     domain.IndexResult
	latestErr  error
	history    []domain.IndexResult
	historyErr error

	gotSymbol string
	gotWindow time.Duration
	gotOpts   domain.ListOpts
}

func (f *fakeReader) Latest(_ context.Context, symbol string, window time.Duration) (domain.IndexResult, error) {
	f.gotSymbol = symbol
	f.gotWindow = window
	return f.latest, f.latestErr
}

func (f *fakeReader) History(_ context.Context, symbol string, window time.Duration, opts domain.ListOpts) ([]domain.IndexResult, error) {
	f.gotSymbol = symbol
	f.gotWindow = window
	f.gotOpts = opts
	return f.history, f.historyErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func muxFor(h *IndexHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/index/{symbol}", h.GetLatest)
	mux.HandleFunc("GET /api/index/{symbol}/history", h.GetHistory)
	return mux
}

// TestGetLatest verifies the happy path serves the cached record as JSON and
// honors the window query parameter.
func TestGetLatest(t *testing.T) {
	reader := &fakeReader{latest: domain.IndexResult{Symbol: "BTC-USD", Window: 5 * time.Second, IndexMid: 42750.25}}
	h := NewIndexHandler(reader, time.Second, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/index/BTC-USD?window=5s", nil)
	muxFor(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTC-USD", reader.gotSymbol)
	assert.Equal(t, 5*time.Second, reader.gotWindow)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BTC-USD", body["symbol"])
	assert.Equal(t, 42750.25, body["index_mid"])
}

// TestGetLatestDefaultWindow verifies a missing window parameter falls back
// to the configured default.
func TestGetLatestDefaultWindow(t *testing.T) {
	reader := &fakeReader{}
	h := NewIndexHandler(reader, 5*time.Second, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/index/BTC-USD", nil)
	muxFor(h).ServeHTTP(rec, req)

	assert.Equal(t, 5*time.Second, reader.gotWindow)
}

// TestGetLatestNotFound verifies a cache miss maps to 404.
func TestGetLatestNotFound(t *testing.T) {
	reader := &fakeReader{latestErr: domain.ErrNotFound}
	h := NewIndexHandler(reader, time.Second, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/index/BTC-USD", nil)
	muxFor(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no index value")
}

// TestGetHistory verifies pagination and time-range parameters reach the
// reader and the envelope carries the count.
func TestGetHistory(t *testing.T) {
	reader := &fakeReader{history: []domain.IndexResult{
		{Symbol: "BTC-USD", IndexMid: 100},
		{Symbol: "BTC-USD", IndexMid: 101},
	}}
	h := NewIndexHandler(reader, time.Second, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/api/index/BTC-USD/history?window=10s&limit=2&offset=4&since=2026-01-02T10:00:00Z", nil)
	muxFor(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10*time.Second, reader.gotWindow)
	assert.Equal(t, 2, reader.gotOpts.Limit)
	assert.Equal(t, 4, reader.gotOpts.Offset)
	require.NotNil(t, reader.gotOpts.Since)
	assert.Equal(t, time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC), reader.gotOpts.Since.UTC())
	assert.Nil(t, reader.gotOpts.Until)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, "10s", body["window"])
}

// TestParseListOptsBounds verifies the limit clamp and the defaults.
func TestParseListOptsBounds(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=9999", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 500, opts.Limit)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	opts = parseListOpts(req)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
	assert.Nil(t, opts.Since)
	assert.Nil(t, opts.Until)

	// Garbage values fall back instead of erroring.
	req = httptest.NewRequest(http.MethodGet, "/?limit=abc&since=yesterday", nil)
	opts = parseListOpts(req)
	assert.Equal(t, 50, opts.Limit)
	assert.Nil(t, opts.Since)
}

// TestParseWindow verifies duration parsing with fallback on garbage.
func TestParseWindow(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?window=500ms", nil)
	assert.Equal(t, 500*time.Millisecond, parseWindow(req, time.Second))

	req = httptest.NewRequest(http.MethodGet, "/?window=-5s", nil)
	assert.Equal(t, time.Second, parseWindow(req, time.Second))

	req = httptest.NewRequest(http.MethodGet, "/?window=fast", nil)
	assert.Equal(t, time.Second, parseWindow(req, time.Second))
}

// TestStatusHandler verifies the status envelope shape.
func TestStatusHandler(t *testing.T) {
	started := time.Now().Add(-90 * time.Second)
	h := NewStatusHandler("full", []string{"BTC-USD"}, []time.Duration{time.Second, 5 * time.Second}, started)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	h.GetStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "full", body["mode"])
	assert.Equal(t, []any{"1s", "5s"}, body["windows"])
	assert.GreaterOrEqual(t, body["uptime_seconds"], float64(90))
}
