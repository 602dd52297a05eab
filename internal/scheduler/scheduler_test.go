package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadSpecs(t *testing.T) {
	_, err := New("", time.UTC, "refresh", func(context.Context) {})
	assert.ErrorIs(t, err, ErrNoSchedule)

	_, err = New("every five minutes", time.UTC, "refresh", func(context.Context) {})
	assert.Error(t, err)

	_, err = New("*/5 * * * * *", time.UTC, "refresh", func(context.Context) {})
	assert.Error(t, err, "seconds field is not accepted")
}

func TestNextIsScheduledAfterStart(t *testing.T) {
	s, err := New("*/5 * * * *", time.UTC, "refresh", func(context.Context) {})
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero())

	s.Start()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	next := s.Next()
	require.False(t, next.IsZero())
	assert.Zero(t, next.Minute()%5)
	assert.Equal(t, time.UTC, next.Location())
}

func TestPanickingJobKeepsTicking(t *testing.T) {
	var runs atomic.Int32
	s, err := New("@every 1s", time.UTC, "refresh", func(context.Context) {
		if runs.Add(1) == 1 {
			panic("first run fails")
		}
	})
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestStopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{}, 1)
	var cancelled atomic.Bool
	s, err := New("@every 1s", time.UTC, "capture", func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
	})
	require.NoError(t, err)

	s.Start()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.True(t, cancelled.Load())
}
