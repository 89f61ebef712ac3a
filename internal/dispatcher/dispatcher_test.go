package dispatcher_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/dispatcher"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/job"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newDispatcher(t *testing.T, workers int, drain time.Duration) *dispatcher.Dispatcher {
	t.Helper()
	cfg := dispatcher.DefaultConfig().WithWorkers(workers).WithDrainTimeout(drain)
	d, err := dispatcher.New(cfg, logger.NewNop(), metrics.NewNop())
	require.NoError(t, err)
	return d
}

func TestDispatcher_PriorityThenAgeOrdering(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, 1, time.Second)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var (
		mu    sync.Mutex
		order []int64
		wg    sync.WaitGroup
	)
	submit := func(id int64, p domain.Priority, created time.Time) {
		wg.Add(1)
		require.NoError(t, d.Submit(dispatcher.TaskFunc{
			Env: job.Envelope{ID: id, Priority: p, CreatedAt: created},
			Fn: func(context.Context) error {
				defer wg.Done()
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			},
		}))
	}

	submit(1, domain.PriorityLow, t0)
	submit(2, domain.PriorityHigh, t0.Add(time.Second))
	submit(3, domain.PriorityHigh, t0)
	submit(4, "", t0)

	require.NoError(t, d.Start(context.Background()))
	wg.Wait()

	_, err := d.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 4, 1}, order)
}

func TestDispatcher_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	const workers = 2
	d := newDispatcher(t, workers, time.Second)
	require.NoError(t, d.Start(context.Background()))

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		require.NoError(t, d.Submit(dispatcher.TaskFunc{
			Env: job.Envelope{ID: int64(i), CreatedAt: time.Now()},
			Fn: func(context.Context) error {
				defer wg.Done()
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				running.Add(-1)
				return nil
			},
		}))
	}

	wg.Wait()
	_, err := d.Stop(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(workers))
	stats := d.Stats()
	assert.Equal(t, int64(8), stats.Submitted)
	assert.Equal(t, int64(8), stats.Completed)
}

func TestDispatcher_PanicAndErrorDoNotKillWorker(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, 1, time.Second)
	require.NoError(t, d.Start(context.Background()))

	done := make(chan struct{})
	require.NoError(t, d.Submit(dispatcher.TaskFunc{
		Env: job.Envelope{ID: 1, CreatedAt: time.Now()},
		Fn:  func(context.Context) error { panic("boom") },
	}))
	require.NoError(t, d.Submit(dispatcher.TaskFunc{
		Env: job.Envelope{ID: 2, CreatedAt: time.Now()},
		Fn:  func(context.Context) error { return errors.New("failed") },
	}))
	require.NoError(t, d.Submit(dispatcher.TaskFunc{
		Env: job.Envelope{ID: 3, CreatedAt: time.Now()},
		Fn: func(context.Context) error {
			close(done)
			return nil
		},
	}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("third job never ran")
	}

	_, err := d.Stop(context.Background())
	require.NoError(t, err)
	stats := d.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestDispatcher_SubmitAfterStop(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, 1, time.Second)
	require.NoError(t, d.Start(context.Background()))
	_, err := d.Stop(context.Background())
	require.NoError(t, err)

	err = d.Submit(dispatcher.TaskFunc{Env: job.Envelope{ID: 1}, Fn: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, dispatcher.ErrNotAccepting)
	assert.Equal(t, dispatcher.StateStopped, d.State())

	_, err = d.Stop(context.Background())
	assert.ErrorIs(t, err, dispatcher.ErrNotRunning)
}

func TestDispatcher_DrainTimeoutCancelsRunningJobs(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, 1, 50*time.Millisecond)
	require.NoError(t, d.Start(context.Background()))

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, d.Submit(dispatcher.TaskFunc{
		Env: job.Envelope{ID: 1, CreatedAt: time.Now()},
		Fn: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		},
	}))
	require.NoError(t, d.Submit(dispatcher.TaskFunc{
		Env: job.Envelope{ID: 2, CreatedAt: time.Now()},
		Fn:  func(context.Context) error { return nil },
	}))

	<-started
	left, err := d.Stop(context.Background())
	require.NoError(t, err)

	select {
	case <-cancelled:
	default:
		t.Fatal("running job was not cancelled")
	}
	assert.Equal(t, 1, left)
}

func TestDispatcher_StartTwice(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, 1, time.Second)
	require.NoError(t, d.Start(context.Background()))
	assert.ErrorIs(t, d.Start(context.Background()), dispatcher.ErrAlreadyStarted)
	_, err := d.Stop(context.Background())
	require.NoError(t, err)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := dispatcher.DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Error(t, cfg.WithWorkers(0).Validate())
	assert.Error(t, cfg.WithWorkers(101).Validate())
	assert.Error(t, cfg.WithDrainTimeout(0).Validate())

	_, err := dispatcher.New(cfg.WithWorkers(0), nil, nil)
	assert.Error(t, err)
}
