package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobArchiver struct {
	cutoffs  []time.Time
	archived int64
	err      error
}

func (f *fakeBlobArchiver) ArchiveIndexResults(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return f.archived, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestRunUsesRetentionCutoff verifies one pass archives with a cutoff
// retention_days in the past.
func TestRunUsesRetentionCutoff(t *testing.T) {
	fake := &fakeBlobArchiver{archived: 42}
	a := NewArchiver(fake, 90, testLogger())

	before := time.Now().UTC().Add(-90 * 24 * time.Hour)
	require.NoError(t, a.Run(context.Background()))
	after := time.Now().UTC().Add(-90 * 24 * time.Hour)

	require.Len(t, fake.cutoffs, 1)
	cutoff := fake.cutoffs[0]
	assert.False(t, cutoff.Before(before))
	assert.False(t, cutoff.After(after))
}

// TestRunWrapsArchiveError verifies the underlying failure surfaces.
func TestRunWrapsArchiveError(t *testing.T) {
	wantErr := errors.New("bucket unreachable")
	a := NewArchiver(&fakeBlobArchiver{err: wantErr}, 30, testLogger())

	err := a.Run(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

// TestRunCronStopsOnCancel verifies the schedule loop exits on context
// cancellation without running a pass.
func TestRunCronStopsOnCancel(t *testing.T) {
	fake := &fakeBlobArchiver{}
	a := NewArchiver(fake, 30, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunCron(ctx, "0 3 1 * *") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cron loop never exited")
	}
	assert.Empty(t, fake.cutoffs)
}

// TestRunCronRejectsBadExpression verifies a malformed expression fails fast.
func TestRunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&fakeBlobArchiver{}, 30, testLogger())
	err := a.RunCron(context.Background(), "not a cron")
	assert.Error(t, err)
}

// TestParseCronFieldForms covers wildcard, single value, and value lists.
func TestParseCronFieldForms(t *testing.T) {
	f, err := parseCronField("*")
	require.NoError(t, err)
	assert.True(t, f.matches(0))
	assert.True(t, f.matches(59))

	f, err = parseCronField("15")
	require.NoError(t, err)
	assert.True(t, f.matches(15))
	assert.False(t, f.matches(16))

	f, err = parseCronField("1,15,30")
	require.NoError(t, err)
	assert.True(t, f.matches(1))
	assert.True(t, f.matches(30))
	assert.False(t, f.matches(2))

	_, err = parseCronField("abc")
	assert.Error(t, err)
}

// TestParseCronFieldCount verifies the 5-field shape is enforced.
func TestParseCronFieldCount(t *testing.T) {
	_, err := parseCron("0 3 1 *")
	assert.Error(t, err)

	_, err = parseCron("0 3 1 * * *")
	assert.Error(t, err)

	_, err = parseCron("0 3 1 * *")
	assert.NoError(t, err)
}

// TestNextCronTime verifies schedule arithmetic for the monthly default and
// an every-minute wildcard.
func TestNextCronTime(t *testing.T) {
	after := time.Date(2026, 3, 15, 12, 30, 45, 0, time.UTC)

	// Monthly at 03:00 on the 1st: next run is April 1st.
	next, err := nextCronTime("0 3 1 * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC), next)

	// All wildcards: next minute boundary.
	next, err = nextCronTime("* * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 12, 31, 0, 0, time.UTC), next)

	// Same day later hour.
	next, err = nextCronTime("0 13 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC), next)
}

// TestNextCronTimeDayOfWeek verifies the weekday field participates in
// matching (0 = Sunday).
func TestNextCronTimeDayOfWeek(t *testing.T) {
	// 2026-03-15 is a Sunday.
	after := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	next, err := nextCronTime("0 0 * * 1", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Monday, next.Weekday())
}
