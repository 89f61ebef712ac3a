// Package dispatcher runs submitted jobs on a bounded worker pool, always
// picking the highest-priority, oldest job first.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/job"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/metrics"
)

// State represents the current state of the dispatcher.
type State int32

const (
	// StateIdle means the dispatcher accepts jobs but no worker runs yet.
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	// ErrNotAccepting is returned by Submit once Stop has been called.
	ErrNotAccepting = errors.New("dispatcher is not accepting jobs")
	// ErrAlreadyStarted is returned by Start when called twice.
	ErrAlreadyStarted = errors.New("dispatcher already started")
	// ErrNotRunning is returned by Stop when the dispatcher was never started.
	ErrNotRunning = errors.New("dispatcher is not running")
)

// Task is a unit of work the dispatcher can order and execute.
type Task interface {
	Envelope() job.Envelope
	// Run executes the job. Errors are counted but never stop the worker.
	Run(ctx context.Context) error
}

// TaskFunc adapts a function and an envelope to Task.
type TaskFunc struct {
	Env job.Envelope
	Fn  func(ctx context.Context) error
}

func (t TaskFunc) Envelope() job.Envelope        { return t.Env }
func (t TaskFunc) Run(ctx context.Context) error { return t.Fn(ctx) }

// Dispatcher is a bounded, priority-ordered job scheduler.
type Dispatcher struct {
	config  Config
	log     logger.Logger
	metrics *metrics.Metrics

	state atomic.Int32

	mu    sync.Mutex
	queue taskHeap
	seq   uint64

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	runCtx    context.Context
	runCancel context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	active    atomic.Int64
}

// New creates a dispatcher. Jobs may be submitted before Start.
func New(cfg Config, log logger.Logger, m *metrics.Metrics) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	d := &Dispatcher{
		config:  cfg,
		log:     log,
		metrics: m,
		wake:    make(chan struct{}, cfg.Workers),
		stopCh:  make(chan struct{}),
	}
	d.state.Store(int32(StateIdle))
	m.WorkerPoolSize.Set(float64(cfg.Workers))
	return d, nil
}

// Start launches the workers. ctx bounds every job run by this dispatcher.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	d.runCtx, d.runCancel = context.WithCancel(ctx)
	for i := range d.config.Workers {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.log.Info("dispatcher started",
		logger.Int("workers", d.config.Workers),
		logger.Int("queued", d.QueueLen()),
	)
	return nil
}

// Submit enqueues a task. It never blocks on worker capacity and never drops.
func (d *Dispatcher) Submit(task Task) error {
	switch d.State() {
	case StateIdle, StateRunning:
	default:
		return ErrNotAccepting
	}

	env := task.Envelope()

	d.mu.Lock()
	d.seq++
	d.queue.push(&item{task: task, envelope: env, seq: d.seq})
	depth := d.queue.Len()
	d.mu.Unlock()

	d.submitted.Add(1)
	d.metrics.JobsSubmittedTotal.WithLabelValues(string(env.Kind), env.Priority.String()).Inc()
	d.metrics.QueueDepth.Set(float64(depth))

	select {
	case d.wake <- struct{}{}:
	default:
	}

	d.log.Debug("job queued",
		logger.JobID(env.ID),
		logger.String("priority", env.Priority.String()),
		logger.Int("queue_depth", depth),
	)
	return nil
}

func (d *Dispatcher) next() *item {
	d.mu.Lock()
	defer d.mu.Unlock()
	it := d.queue.pop()
	d.metrics.QueueDepth.Set(float64(d.queue.Len()))
	return it
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		it := d.next()
		if it == nil {
			select {
			case <-d.wake:
				continue
			case <-d.stopCh:
				return
			}
		}

		d.execute(id, it)
	}
}

func (d *Dispatcher) execute(workerID int, it *item) {
	env := it.envelope
	d.active.Add(1)
	d.metrics.WorkersBusy.Inc()
	start := time.Now()

	defer func() {
		d.active.Add(-1)
		d.metrics.WorkersBusy.Dec()
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.log.Error("job panicked",
				logger.JobID(env.ID),
				logger.Int("worker", workerID),
				logger.Any("panic", r),
			)
		}
	}()

	err := it.task.Run(d.runCtx)
	if err != nil {
		d.failed.Add(1)
		d.log.Warn("job returned error",
			logger.JobID(env.ID),
			logger.Int("worker", workerID),
			logger.Error(err),
		)
	} else {
		d.completed.Add(1)
	}

	d.log.Debug("job finished",
		logger.JobID(env.ID),
		logger.Int("worker", workerID),
		logger.Duration("duration", time.Since(start)),
	)
}

// Stop stops accepting jobs and waits for running jobs to finish. Jobs still
// queued are left unexecuted. When DrainTimeout or ctx expires first, the
// context of running jobs is cancelled and Stop waits for them to return.
// It returns the number of jobs left in the queue.
func (d *Dispatcher) Stop(ctx context.Context) (int, error) {
	if d.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		return d.QueueLen(), nil
	}
	if !d.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return 0, ErrNotRunning
	}

	d.log.Info("dispatcher draining", logger.Int64("active", d.active.Load()))
	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d.config.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		d.log.Info("dispatcher stopped gracefully")
	case <-ctx.Done():
		d.log.Warn("dispatcher stop cancelled, aborting running jobs")
		d.runCancel()
		<-done
	case <-timer.C:
		d.log.Warn("dispatcher drain timeout exceeded, aborting running jobs")
		d.runCancel()
		<-done
	}
	d.runCancel()

	d.state.Store(int32(StateStopped))
	return d.QueueLen(), nil
}

// State returns the current dispatcher state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// QueueLen returns the number of queued, not yet running jobs.
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// Stats holds dispatcher statistics.
type Stats struct {
	State     State
	Workers   int
	Active    int64
	Queued    int
	Submitted int64
	Completed int64
	Failed    int64
}

// Stats returns a snapshot of dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		State:     d.State(),
		Workers:   d.config.Workers,
		Active:    d.active.Load(),
		Queued:    d.QueueLen(),
		Submitted: d.submitted.Load(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
	}
}
