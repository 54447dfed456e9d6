package publish

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfeed/compindex/internal/domain"
)

const (
	// collectorWriteWait bounds each outbound write.
	collectorWriteWait = 10 * time.Second

	// collectorPingPeriod keeps the collector connection alive.
	collectorPingPeriod = 30 * time.Second

	// collectorRedial is the pause between reconnect attempts.
	collectorRedial = 2 * time.Second
)

// CollectorTransport pushes serialized index records to a remote WebSocket
// collector. Enqueues fail fast while the connection is down; the Run loop
// redials with backoff until the context is cancelled.
type CollectorTransport struct {
	url    string
	logger *slog.Logger

	mu        sync.Mutex // serializes writes on the connection
	conn      *websocket.Conn
	connected atomic.Bool
}

// NewCollectorTransport creates a transport for the given collector URL.
func NewCollectorTransport(url string, logger *slog.Logger) *CollectorTransport {
	return &CollectorTransport{
		url:    url,
		logger: logger.With(slog.String("component", "collector_transport")),
	}
}

// Connected reports whether the collector connection is established.
func (t *CollectorTransport) Connected() bool {
	return t.connected.Load()
}

// Send writes one message as a text frame with a write deadline. It returns
// domain.ErrTransportDown when the connection is not established.
func (t *CollectorTransport) Send(ctx context.Context, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return domain.ErrTransportDown
	}

	deadline := time.Now().Add(collectorWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)

	if err := t.conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
		t.dropConnLocked()
		return err
	}
	return nil
}

// Run maintains the collector connection: dial, keep alive with pings,
// redial on failure. It returns when the context is cancelled.
func (t *CollectorTransport) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			t.closeConn()
			return ctx.Err()
		default:
		}

		if err := t.dial(ctx); err != nil {
			t.logger.Warn("collector dial failed, retrying",
				slog.String("url", t.url),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(collectorRedial):
			}
			continue
		}

		t.logger.Info("collector connected", slog.String("url", t.url))
		t.keepAlive(ctx)

		if ctx.Err() != nil {
			t.closeConn()
			return ctx.Err()
		}
		t.logger.Warn("collector disconnected, redialing")
	}
}

func (t *CollectorTransport) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, t.url, nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.connected.Store(true)
	return nil
}

// keepAlive pings the collector until the connection breaks or the context
// is cancelled.
func (t *CollectorTransport) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(collectorPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			conn := t.conn
			if conn == nil {
				t.mu.Unlock()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(collectorWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				t.dropConnLocked()
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()
		}
	}
}

// dropConnLocked marks the connection lost. The caller must hold t.mu.
func (t *CollectorTransport) dropConnLocked() {
	t.connected.Store(false)
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

func (t *CollectorTransport) closeConn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropConnLocked()
}

var _ Transport = (*CollectorTransport)(nil)
