package publish

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfeed/compindex/internal/domain"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	sent      []Message
	sendErr   error
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) sentPayloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = string(m.Payload)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitDone(t *testing.T, h *Handle) error {
	t.Helper()
	select {
	case <-h.Done():
		return h.Err()
	case <-time.After(2 * time.Second):
		t.Fatal("handle never resolved")
		return nil
	}
}

// TestEnqueueTransportDown verifies the fail-fast path: nothing is queued
// while the transport is disconnected.
func TestEnqueueTransportDown(t *testing.T) {
	tr := &fakeTransport{connected: false}
	q := NewQueue(tr, 4, true, testLogger())

	h, err := q.Enqueue("index:BTC-USD", []byte("x"))
	assert.ErrorIs(t, err, domain.ErrTransportDown)
	assert.Nil(t, h)
	assert.Equal(t, 0, q.Len())
}

// TestEnqueueDropOldest verifies that pushing N+1 messages into a queue
// bounded at N evicts the head: the last N survive in order and the evicted
// handle resolves with the drop error.
func TestEnqueueDropOldest(t *testing.T) {
	tr := &fakeTransport{connected: true}
	q := NewQueue(tr, 3, true, testLogger())

	handles := make([]*Handle, 0, 4)
	for i := 0; i < 4; i++ {
		h, err := q.Enqueue("ch", []byte(strconv.Itoa(i)))
		require.NoError(t, err)
		handles = append(handles, h)
	}

	assert.Equal(t, 3, q.Len())
	assert.ErrorIs(t, waitDone(t, handles[0]), domain.ErrDropped)

	_, dropped := q.Stats()
	assert.Equal(t, int64(1), dropped)

	// Drain and confirm the survivors kept their relative order.
	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	for _, h := range handles[1:] {
		assert.NoError(t, waitDone(t, h))
	}
	cancel()

	assert.Equal(t, []string{"1", "2", "3"}, tr.sentPayloads())
}

// TestEnqueueConcurrentProducersBound verifies the depth bound holds while
// many producers race the eviction path: the queue must sit exactly at its
// bound once the producers stop, with every displaced message accounted for.
func TestEnqueueConcurrentProducersBound(t *testing.T) {
	const (
		max       = 4
		producers = 16
		perWorker = 200
	)
	tr := &fakeTransport{connected: true}
	q := NewQueue(tr, max, true, testLogger())

	var wg sync.WaitGroup
	var failed atomic.Int64
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := q.Enqueue("ch", []byte(strconv.Itoa(n*perWorker+j))); err != nil {
					failed.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(0), failed.Load())
	assert.Equal(t, max, q.Len())

	// Every enqueue past the bound evicts exactly one, so all but the
	// resident messages must have resolved as dropped.
	_, dropped := q.Stats()
	assert.Equal(t, int64(producers*perWorker-max), dropped)
}

// TestEnqueueRejectWhenFull verifies the dropOldest=false variant rejects
// the incoming message and leaves the queue untouched.
func TestEnqueueRejectWhenFull(t *testing.T) {
	tr := &fakeTransport{connected: true}
	q := NewQueue(tr, 2, false, testLogger())

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue("ch", []byte(strconv.Itoa(i)))
		require.NoError(t, err)
	}

	h, err := q.Enqueue("ch", []byte("overflow"))
	assert.ErrorIs(t, err, domain.ErrQueueFull)
	assert.Nil(t, h)
	assert.Equal(t, 2, q.Len())
}

// TestRunDrainsFIFO verifies messages are delivered in enqueue order and
// handles resolve nil on confirmed sends.
func TestRunDrainsFIFO(t *testing.T) {
	tr := &fakeTransport{connected: true}
	q := NewQueue(tr, 16, true, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	handles := make([]*Handle, 0, 5)
	for i := 0; i < 5; i++ {
		h, err := q.Enqueue("ch", []byte(strconv.Itoa(i)))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		assert.NoError(t, waitDone(t, h))
	}

	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, tr.sentPayloads())
	sent, dropped := q.Stats()
	assert.Equal(t, int64(5), sent)
	assert.Equal(t, int64(0), dropped)
}

// TestRunResolvesSendError verifies a transport failure surfaces through the
// handle rather than stalling the drain loop.
func TestRunResolvesSendError(t *testing.T) {
	tr := &fakeTransport{connected: true, sendErr: domain.ErrTransportDown}
	q := NewQueue(tr, 4, true, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	h, err := q.Enqueue("ch", []byte("x"))
	require.NoError(t, err)
	assert.ErrorIs(t, waitDone(t, h), domain.ErrTransportDown)

	sent, _ := q.Stats()
	assert.Equal(t, int64(0), sent)
}

// blockingTransport holds every Send until its context dies, simulating a
// stalled subscriber.
type blockingTransport struct {
	entered chan struct{}
}

func (b *blockingTransport) Connected() bool { return true }

func (b *blockingTransport) Send(ctx context.Context, _ Message) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

// TestRunShutdownFailsPending verifies cancellation resolves every
// outstanding handle with the context error and exits the drain loop.
func TestRunShutdownFailsPending(t *testing.T) {
	tr := &blockingTransport{entered: make(chan struct{}, 1)}
	q := NewQueue(tr, 8, true, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	handles := make([]*Handle, 0, 3)
	for i := 0; i < 3; i++ {
		h, err := q.Enqueue("ch", []byte(strconv.Itoa(i)))
		require.NoError(t, err)
		handles = append(handles, h)
	}

	// Wait for the first send to stall, then shut down.
	select {
	case <-tr.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("transport never entered Send")
	}
	cancel()

	for _, h := range handles {
		assert.ErrorIs(t, waitDone(t, h), context.Canceled)
	}

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("drain loop never exited")
	}
}

// TestRunSingleDrainLoop verifies a second Run call is a no-op while the
// first is active.
func TestRunSingleDrainLoop(t *testing.T) {
	tr := &fakeTransport{connected: true}
	q := NewQueue(tr, 4, true, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	// Give the first loop a moment to claim the CAS guard.
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, q.Run(ctx))
}
