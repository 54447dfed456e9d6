package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// IndexStore persists emitted index results, one row per emission per
// window. CreatedAt is the event-time ordering key.
type IndexStore interface {
	Insert(ctx context.Context, res IndexResult) error
	InsertBatch(ctx context.Context, results []IndexResult) error
	ListBySymbol(ctx context.Context, symbol string, window time.Duration, opts ListOpts) ([]IndexResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]IndexResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	GetLastTimestamp(ctx context.Context, symbol string, window time.Duration) (time.Time, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only operational audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
