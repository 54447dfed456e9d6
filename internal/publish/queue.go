// Package publish implements the backpressure-bounded delivery pipeline
// between the index computation loop and the outbound transports.
package publish

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantfeed/compindex/internal/domain"
)

// Message is one serialized index record awaiting delivery.
type Message struct {
	ID         string
	Channel    string
	Payload    []byte
	EnqueuedAt time.Time
}

// Handle tracks the fate of an enqueued message. Done is closed exactly once,
// after which Err reports nil for a confirmed send, domain.ErrDropped for an
// overflow eviction, or the transport error.
type Handle struct {
	done chan struct{}
	err  error
}

// Done returns a channel closed when the message has been sent or dropped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the delivery outcome. Only valid after Done is closed.
func (h *Handle) Err() error { return h.err }

func (h *Handle) resolve(err error) {
	h.err = err
	close(h.done)
}

// Transport pushes messages to a remote endpoint.
type Transport interface {
	// Connected reports whether the transport can currently accept sends.
	Connected() bool
	// Send delivers one message. The transport owns its protocol timeout.
	Send(ctx context.Context, msg Message) error
}

type queueItem struct {
	msg    Message
	handle *Handle
}

// Queue is a bounded FIFO delivery queue with a single drain loop. Producers
// are never blocked by a slow or disconnected subscriber: when the queue is
// full the oldest message is evicted (or, with DropOldest disabled, the new
// message is rejected), trading delivery completeness for bounded memory.
type Queue struct {
	transport  Transport
	max        int
	dropOldest bool
	logger     *slog.Logger

	mu    sync.Mutex
	items []queueItem
	wake  chan struct{}

	draining atomic.Bool
	dropped  atomic.Int64
	sent     atomic.Int64
}

// NewQueue creates a Queue bounded at max messages.
func NewQueue(transport Transport, max int, dropOldest bool, logger *slog.Logger) *Queue {
	return &Queue{
		transport:  transport,
		max:        max,
		dropOldest: dropOldest,
		logger:     logger.With(slog.String("component", "publish_queue")),
		wake:       make(chan struct{}, 1),
	}
}

// Enqueue appends a message and returns its pending handle. It fails fast
// with domain.ErrTransportDown when the transport is not established, so an
// outage that outlives the bound cannot grow memory. When the queue is full
// it either evicts the head (resolving that handle with domain.ErrDropped)
// or rejects the new message with domain.ErrQueueFull.
func (q *Queue) Enqueue(channel string, payload []byte) (*Handle, error) {
	if !q.transport.Connected() {
		return nil, domain.ErrTransportDown
	}

	msg := Message{
		ID:         uuid.New().String(),
		Channel:    channel,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	h := &Handle{done: make(chan struct{})}

	// Evict and append under one critical section so concurrent producers
	// can never observe a momentarily shortened queue and overshoot the
	// bound. The evicted handle is resolved after unlocking.
	q.mu.Lock()
	var evicted queueItem
	var didEvict bool
	if len(q.items) >= q.max {
		if !q.dropOldest {
			q.mu.Unlock()
			return nil, domain.ErrQueueFull
		}
		evicted = q.items[0]
		q.items = q.items[1:]
		didEvict = true
	}
	q.items = append(q.items, queueItem{msg: msg, handle: h})
	q.mu.Unlock()

	if didEvict {
		evicted.handle.resolve(domain.ErrDropped)
		q.dropped.Add(1)
		q.logger.Debug("publish queue overflow, dropped oldest",
			slog.String("dropped_id", evicted.msg.ID),
		)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return h, nil
}

// Len returns the number of messages currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns the total counts of sent and dropped messages.
func (q *Queue) Stats() (sent, dropped int64) {
	return q.sent.Load(), q.dropped.Load()
}

// Run drains the queue strictly in FIFO order until the context is
// cancelled. Only one drain loop may run per queue instance; a second call
// returns immediately. Pending handles are resolved with the context error
// on shutdown.
func (q *Queue) Run(ctx context.Context) error {
	if !q.draining.CompareAndSwap(false, true) {
		q.logger.Warn("drain loop already running")
		return nil
	}
	defer q.draining.Store(false)

	for {
		item, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				q.failPending(ctx.Err())
				return ctx.Err()
			case <-q.wake:
				continue
			}
		}

		err := q.transport.Send(ctx, item.msg)
		item.handle.resolve(err)
		if err != nil {
			q.logger.Debug("publish send failed",
				slog.String("id", item.msg.ID),
				slog.String("channel", item.msg.Channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		q.sent.Add(1)
	}
}

func (q *Queue) pop() (queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queueItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *Queue) failPending(err error) {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	for _, it := range pending {
		it.handle.resolve(err)
	}
}
