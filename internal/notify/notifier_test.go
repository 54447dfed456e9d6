package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name   string
	titles []string
	err    error
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestNotifyFiltersEvents verifies only configured event types are delivered.
func TestNotifyFiltersEvents(t *testing.T) {
	sender := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{sender}, []string{"index_no_publish"}, testLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "index_no_publish", "Gap", "details"))
	require.NoError(t, n.Notify(ctx, "index_recovered", "Recovered", "details"))

	assert.Equal(t, []string{"Gap"}, sender.titles)
}

// TestNotifyEmptyEventListAllowsAll verifies an empty filter passes every
// event through.
func TestNotifyEmptyEventListAllowsAll(t *testing.T) {
	sender := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "Title", "msg"))
	assert.Len(t, sender.titles, 1)
}

// TestDispatchContinuesPastFailures verifies one failing sender does not
// block the others and the error names the failed channel.
func TestDispatchContinuesPastFailures(t *testing.T) {
	bad := &fakeSender{name: "telegram", err: errors.New("api timeout")}
	good := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "Title", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Len(t, good.titles, 1)
}

// TestNotifyNoSenders verifies a notifier without channels is a no-op.
func TestNotifyNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	assert.NoError(t, n.Notify(context.Background(), "event", "Title", "msg"))
}
