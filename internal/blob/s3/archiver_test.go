package s3blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfeed/compindex/internal/domain"
)

type memWriter struct {
	puts   map[string]string
	types  map[string]string
	putErr error
}

func newMemWriter() *memWriter {
	return &memWriter{puts: map[string]string{}, types: map[string]string{}}
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.puts[path] = string(b)
	m.types[path] = contentType
	return nil
}

func (m *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

// sole returns the single stored object and fails when there is not exactly
// one.
func (m *memWriter) sole(t *testing.T) (key, body string) {
	t.Helper()
	require.Len(t, m.puts, 1, "expected exactly one object, got %v", m.puts)
	for k, v := range m.puts {
		return k, v
	}
	return "", ""
}

type memArchiveStore struct {
	rows      []domain.IndexResult
	deleted   []time.Time
	deleteErr error
}

func (m *memArchiveStore) ListBefore(_ context.Context, _ time.Time) ([]domain.IndexResult, error) {
	return m.rows, nil
}

func (m *memArchiveStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	m.deleted = append(m.deleted, before)
	return int64(len(m.rows)), nil
}

type memAudit struct {
	events  []string
	details []map[string]any
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.events = append(m.events, event)
	m.details = append(m.details, detail)
	return nil
}

func (m *memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func archiveRow(symbol string, at time.Time) domain.IndexResult {
	return domain.IndexResult{
		Symbol:    symbol,
		Window:    time.Second,
		IndexMid:  100,
		CreatedAt: at,
	}
}

// TestArchiveIndexResults verifies the full move: JSONL upload under the
// month-partitioned key, deletion, and an audit record.
func TestArchiveIndexResults(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-time.Hour)

	writer := newMemWriter()
	store := &memArchiveStore{rows: []domain.IndexResult{
		archiveRow("BTC-USD", old),
		archiveRow("ETH-USD", old),
	}}
	audit := &memAudit{}

	moved, err := NewArchiver(writer, store, audit).ArchiveIndexResults(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), moved)

	key, body := writer.sole(t)
	assert.True(t, strings.HasPrefix(key, "archive/index/2026-08/"), "key %q not under the month prefix", key)
	assert.True(t, strings.HasSuffix(key, ".jsonl"), "key %q missing the jsonl suffix", key)
	assert.Equal(t, "application/x-ndjson", writer.types[key])

	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"symbol":"BTC-USD"`)
	assert.Contains(t, lines[1], `"symbol":"ETH-USD"`)

	require.Len(t, store.deleted, 1)
	assert.Equal(t, cutoff, store.deleted[0])

	require.Equal(t, []string{"archive.index"}, audit.events)
	assert.Equal(t, 2, audit.details[0]["count"])
}

// TestArchiveIndexResultsEmpty verifies a no-op pass touches neither the
// bucket nor the database.
func TestArchiveIndexResultsEmpty(t *testing.T) {
	writer := newMemWriter()
	store := &memArchiveStore{}
	audit := &memAudit{}

	moved, err := NewArchiver(writer, store, audit).ArchiveIndexResults(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, moved)
	assert.Empty(t, writer.puts)
	assert.Empty(t, store.deleted)
	assert.Empty(t, audit.events)
}

// TestArchiveUploadFailureKeepsRows verifies rows are deleted only after a
// successful upload.
func TestArchiveUploadFailureKeepsRows(t *testing.T) {
	writer := newMemWriter()
	writer.putErr = errors.New("bucket unreachable")
	store := &memArchiveStore{rows: []domain.IndexResult{archiveRow("BTC-USD", time.Now())}}

	_, err := NewArchiver(writer, store, &memAudit{}).ArchiveIndexResults(context.Background(), time.Now())
	require.Error(t, err)
	assert.Empty(t, store.deleted)
}

// TestArchiveRepeatedRunsKeepEarlierObjects verifies a second run in the
// same month writes a new object instead of overwriting the first run's
// upload, whose rows are already gone from the database.
func TestArchiveRepeatedRunsKeepEarlierObjects(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	writer := newMemWriter()
	audit := &memAudit{}

	store := &memArchiveStore{rows: []domain.IndexResult{archiveRow("BTC-USD", cutoff.Add(-2 * time.Hour))}}
	_, err := NewArchiver(writer, store, audit).ArchiveIndexResults(context.Background(), cutoff)
	require.NoError(t, err)

	store.rows = []domain.IndexResult{archiveRow("ETH-USD", cutoff.Add(-time.Hour))}
	_, err = NewArchiver(writer, store, audit).ArchiveIndexResults(context.Background(), cutoff)
	require.NoError(t, err)

	require.Len(t, writer.puts, 2)
	bodies := make([]string, 0, 2)
	for key, body := range writer.puts {
		assert.True(t, strings.HasPrefix(key, "archive/index/2026-08/"), "key %q not under the month prefix", key)
		bodies = append(bodies, body)
	}
	joined := strings.Join(bodies, "")
	assert.Contains(t, joined, `"symbol":"BTC-USD"`)
	assert.Contains(t, joined, `"symbol":"ETH-USD"`)
}

// TestArchivePath verifies the month partitioning and per-run uniqueness of
// object keys.
func TestArchivePath(t *testing.T) {
	before := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	runAt := time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)

	key := archivePath("index", before, runAt)
	assert.True(t, strings.HasPrefix(key, "archive/index/2026-01/20260201T030000Z-"), "unexpected key %q", key)
	assert.True(t, strings.HasSuffix(key, ".jsonl"), "unexpected key %q", key)

	// Two runs at the same instant still get distinct keys.
	assert.NotEqual(t, key, archivePath("index", before, runAt))
}
