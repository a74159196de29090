package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

type handlerFunc func(ctx context.Context, unit ports.Unit) error

func (f handlerFunc) Handle(ctx context.Context, unit ports.Unit) error {
	return f(ctx, unit)
}

type recorder struct {
	mu    sync.Mutex
	units []ports.Unit
}

func (r *recorder) add(unit ports.Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = append(r.units, unit)
}

func (r *recorder) all() []ports.Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ports.Unit(nil), r.units...)
}

func TestRunUntilIdleFollowsChains(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pool, err := New(4, nil)
	require.NoError(t, err)

	var rec recorder
	pool.SetHandler(handlerFunc(func(ctx context.Context, unit ports.Unit) error {
		rec.add(unit)
		switch unit.Kind {
		case ports.UnitWebhook:
			return pool.Enqueue(ctx, ports.Unit{Kind: ports.UnitAdmit})
		case ports.UnitAdmit:
			return pool.Enqueue(ctx, ports.Unit{Kind: ports.UnitProcess, BundleID: 7})
		case ports.UnitProcess:
			return errors.New("fetch failed")
		}
		return nil
	}))

	require.NoError(t, pool.Enqueue(ctx, ports.Unit{Kind: ports.UnitWebhook, WebhookID: 1}))
	require.NoError(t, pool.RunUntilIdle(ctx))

	assert.Equal(t, []ports.Unit{
		{Kind: ports.UnitWebhook, WebhookID: 1},
		{Kind: ports.UnitAdmit},
		{Kind: ports.UnitProcess, BundleID: 7},
	}, rec.all())
	assert.Zero(t, pool.Pending())
}

func TestRunHandlesUnitsConcurrently(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := New(3, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(3)
	release := make(chan struct{})
	pool.SetHandler(handlerFunc(func(ctx context.Context, unit ports.Unit) error {
		wg.Done()
		<-release
		return nil
	}))

	for i := range 3 {
		require.NoError(t, pool.Enqueue(ctx, ports.Unit{Kind: ports.UnitPublish, BundleID: int64(i + 1)}))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()

	// all three handlers are running at the same time
	wg.Wait()
	close(release)

	pool.Close()
	require.NoError(t, <-errCh)
	assert.ErrorIs(t, pool.Enqueue(ctx, ports.Unit{Kind: ports.UnitAdmit}), ErrClosed)
}

func TestPanicsAreContained(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pool, err := New(1, nil)
	require.NoError(t, err)

	var rec recorder
	pool.SetHandler(handlerFunc(func(ctx context.Context, unit ports.Unit) error {
		rec.add(unit)
		if unit.BundleID == 1 {
			panic("boom")
		}
		return nil
	}))

	require.NoError(t, pool.Enqueue(ctx, ports.Unit{Kind: ports.UnitProcess, BundleID: 1}))
	require.NoError(t, pool.Enqueue(ctx, ports.Unit{Kind: ports.UnitProcess, BundleID: 2}))
	require.NoError(t, pool.RunUntilIdle(ctx))
	assert.Len(t, rec.all(), 2)
}

func TestScheduleAfter(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := New(1, nil)
	require.NoError(t, err)

	handled := make(chan ports.Unit, 1)
	pool.SetHandler(handlerFunc(func(ctx context.Context, unit ports.Unit) error {
		handled <- unit
		return nil
	}))
	go func() { _ = pool.Run(ctx) }()

	pool.ScheduleAfter(10*time.Millisecond, ports.Unit{Kind: ports.UnitAdmit})

	select {
	case unit := <-handled:
		assert.Equal(t, ports.UnitAdmit, unit.Kind)
	case <-ctx.Done():
		t.Fatal("scheduled unit never ran")
	}
	pool.Close()
}

func TestCloseCancelsScheduledUnits(t *testing.T) {
	t.Parallel()

	pool, err := New(1, nil)
	require.NoError(t, err)

	pool.ScheduleAfter(time.Hour, ports.Unit{Kind: ports.UnitAdmit})
	pool.Close()
	pool.ScheduleAfter(time.Millisecond, ports.Unit{Kind: ports.UnitAdmit})

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, pool.Pending())
	assert.Empty(t, pool.timers)
}

func TestRunWithoutHandler(t *testing.T) {
	t.Parallel()

	pool, err := New(1, nil)
	require.NoError(t, err)
	assert.Error(t, pool.Run(context.Background()))
}
