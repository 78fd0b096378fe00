// Package worker runs session work for one source on a dedicated goroutine,
// one job at a time.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrBusy is returned by TrySubmit when a job is queued or running.
var ErrBusy = errors.New("worker busy")

// ErrStopped is returned when submitting to a stopped worker.
var ErrStopped = errors.New("worker stopped")

// JobFunc is the unit of work. ctx is cancelled when the worker stops.
type JobFunc func(ctx context.Context) error

type job struct {
	fn     JobFunc
	result chan error
}

// Worker executes submitted jobs sequentially on its own goroutine.
type Worker struct {
	jobs    chan job
	pending atomic.Int32 // queued + running
	quit    chan struct{}
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stop    sync.Once
	logger  zerolog.Logger
}

// New starts a worker.
func New(logger zerolog.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		jobs:   make(chan job),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	go w.run()
	return w
}

// TrySubmit hands fn to the worker only if nothing is queued or running.
// It never blocks on the job itself; the returned channel receives its
// result.
func (w *Worker) TrySubmit(fn JobFunc) (<-chan error, error) {
	if !w.pending.CompareAndSwap(0, 1) {
		return nil, ErrBusy
	}
	return w.enqueue(fn)
}

// Submit queues fn behind any pending work and returns a channel that
// receives its result. ctx bounds only the wait for a queue slot.
func (w *Worker) Submit(ctx context.Context, fn JobFunc) (<-chan error, error) {
	w.pending.Add(1)
	select {
	case <-ctx.Done():
		w.pending.Add(-1)
		return nil, ctx.Err()
	default:
	}
	return w.enqueueCtx(ctx, fn)
}

// Pending returns the number of queued and running jobs.
func (w *Worker) Pending() int32 {
	return w.pending.Load()
}

// Stop cancels the running job's context, rejects queued submissions and
// waits for the worker goroutine to exit.
func (w *Worker) Stop() {
	w.stop.Do(func() {
		w.cancel()
		close(w.quit)
	})
	<-w.done
}

func (w *Worker) enqueue(fn JobFunc) (<-chan error, error) {
	return w.enqueueCtx(context.Background(), fn)
}

func (w *Worker) enqueueCtx(ctx context.Context, fn JobFunc) (<-chan error, error) {
	j := job{fn: fn, result: make(chan error, 1)}
	select {
	case w.jobs <- j:
		return j.result, nil
	case <-w.quit:
		w.pending.Add(-1)
		return nil, ErrStopped
	case <-ctx.Done():
		w.pending.Add(-1)
		return nil, ctx.Err()
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case j := <-w.jobs:
			w.execute(j)
		case <-w.quit:
			return
		}
	}
}

func (w *Worker) execute(j job) {
	defer w.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("job panicked")
			j.result <- errors.New("job panicked")
		}
	}()
	j.result <- j.fn(w.ctx)
}
