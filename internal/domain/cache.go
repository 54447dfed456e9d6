package domain

import (
	"context"
	"time"
)

// IndexCache provides fast last-value lookups for emitted index results,
// keyed by (symbol, window). It stores only the most recent emission.
type IndexCache interface {
	SetIndex(ctx context.Context, res IndexResult) error
	GetIndex(ctx context.Context, symbol string, window time.Duration) (IndexResult, error)
	GetIndexes(ctx context.Context, symbols []string, window time.Duration) (map[string]IndexResult, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams for emitted index
// records and operational events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under the given
	// limit and window, counting the request if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request for key is allowed or ctx is cancelled.
	Wait(ctx context.Context, key string) error
}
