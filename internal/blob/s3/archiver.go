package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantfeed/compindex/internal/domain"
)

// IndexArchiveStore is the slice of the index store the archiver needs:
// time-ranged reads plus the deletion that completes a move.
type IndexArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.IndexResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by draining aged index rows to
// JSONL files in object storage. Rows are deleted from the primary store
// only after the upload succeeds, so a failed run leaves the database
// intact and the next run retries the same range.
type ArchiveImpl struct {
	writer domain.BlobWriter
	store  IndexArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, store IndexArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		store:  store,
		audit:  audit,
	}
}

// ArchiveIndexResults uploads every index row older than the cutoff to a
// per-run object under archive/index/YYYY-MM/, deletes the archived rows,
// records the run in the audit log, and returns the number of rows moved.
// Each run gets a fresh key, so repeated runs within the same month (cron
// plus manual trigger) never overwrite an earlier upload.
func (a *ArchiveImpl) ArchiveIndexResults(ctx context.Context, before time.Time) (int64, error) {
	results, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive index query: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(results)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive index marshal: %w", err)
	}

	path := archivePath("index", before, time.Now().UTC())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive index upload: %w", err)
	}

	deleted, err := a.store.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive index delete: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.index", map[string]any{
		"path":    path,
		"count":   len(results),
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return deleted, fmt.Errorf("s3blob: archive index audit log: %w", err)
	}

	return deleted, nil
}

// archivePath builds the object key for one archive run, partitioned by the
// year-month of the cutoff and named by run time plus a random suffix:
//
//	archive/index/2026-08/20260815T030000Z-1b9f3c2a.jsonl
func archivePath(kind string, before, runAt time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s-%s.jsonl",
		kind,
		before.Format("2006-01"),
		runAt.Format("20060102T150405Z"),
		uuid.NewString()[:8],
	)
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
