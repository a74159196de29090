package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerSchedulerRunsImmediatelyAndRepeats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var runs atomic.Int32
	s := NewTickerScheduler(5 * time.Millisecond)
	require.NoError(t, s.Start(ctx, func(time.Time) { runs.Add(1) }))
	require.NoError(t, s.Start(ctx, func(time.Time) { t.Error("second start must not run") }))

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop(ctx))

	stopped := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())
	require.NoError(t, s.Stop(ctx))
}

func TestTickerSchedulerDisabled(t *testing.T) {
	t.Parallel()

	s := NewTickerScheduler(0)
	require.NoError(t, s.Start(context.Background(), func(time.Time) { t.Error("disabled scheduler ran") }))
	require.NoError(t, s.Stop(context.Background()))
}
