package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfeed/compindex/internal/domain"
)

type fakeStreamReader struct {
	msgs      []domain.StreamMessage
	err       error
	gotStream string
	gotLastID string
	gotCount  int
}

func (f *fakeStreamReader) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	f.gotStream = stream
	f.gotLastID = lastID
	f.gotCount = count
	return f.msgs, f.err
}

func streamMux(h *StreamHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stream/{channel}", h.ReadStream)
	return mux
}

// TestReadStream verifies the channel maps to its durable stream key and
// messages come back with their stream IDs.
func TestReadStream(t *testing.T) {
	reader := &fakeStreamReader{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"symbol":"BTC-USD","index_mid":100}`)},
		{ID: "2-0", Payload: []byte(`{"symbol":"BTC-USD","index_mid":101}`)},
	}}
	h := NewStreamHandler(reader, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stream/index:BTC-USD?last_id=1-0&count=50", nil)
	streamMux(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stream:index:BTC-USD", reader.gotStream)
	assert.Equal(t, "1-0", reader.gotLastID)
	assert.Equal(t, 50, reader.gotCount)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["count"])
	msgs := body["messages"].([]any)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "1-0", first["id"])
}

// TestReadStreamDefaults verifies last_id defaults to the stream start and
// count is clamped.
func TestReadStreamDefaults(t *testing.T) {
	reader := &fakeStreamReader{}
	h := NewStreamHandler(reader, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stream/events?count=99999", nil)
	streamMux(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", reader.gotLastID)
	assert.Equal(t, 1000, reader.gotCount)
}

// TestReadStreamBackendError verifies a bus failure maps to 500.
func TestReadStreamBackendError(t *testing.T) {
	reader := &fakeStreamReader{err: errors.New("redis down")}
	h := NewStreamHandler(reader, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stream/events", nil)
	streamMux(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
