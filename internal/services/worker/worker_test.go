package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestTrySubmit_RunsJob(t *testing.T) {
	w := New(testLogger())
	defer w.Stop()

	result, err := w.TrySubmit(func(context.Context) error { return errors.New("boom") })
	require.NoError(t, err)

	assert.EqualError(t, <-result, "boom")
	assert.Eventually(t, func() bool { return w.Pending() == 0 }, time.Second, time.Millisecond)
}

func TestTrySubmit_BusyWhileRunning(t *testing.T) {
	w := New(testLogger())
	defer w.Stop()

	release := make(chan struct{})
	started := make(chan struct{})

	first, err := w.TrySubmit(func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	_, err = w.TrySubmit(func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-first)
}

func TestSubmit_QueuesBehindRunningJob(t *testing.T) {
	w := New(testLogger())
	defer w.Stop()

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	release := make(chan struct{})
	started := make(chan struct{})

	first, err := w.TrySubmit(func(context.Context) error {
		close(started)
		<-release
		record("poll")
		return nil
	})
	require.NoError(t, err)
	<-started

	queued := make(chan (<-chan error), 1)
	go func() {
		res, err := w.Submit(context.Background(), func(context.Context) error {
			record("turn_on")
			return nil
		})
		assert.NoError(t, err)
		queued <- res
	}()

	// A poll arriving while the actuation waits is dropped.
	assert.Eventually(t, func() bool { return w.Pending() == 2 }, time.Second, time.Millisecond)
	_, err = w.TrySubmit(func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-<-queued)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"poll", "turn_on"}, order)
}

func TestSubmit_ContextCancelledWhileWaiting(t *testing.T) {
	w := New(testLogger())
	defer w.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := w.TrySubmit(func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = w.Submit(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	assert.Eventually(t, func() bool { return w.Pending() == 0 }, time.Second, time.Millisecond)
}

func TestStop_CancelsRunningJob(t *testing.T) {
	w := New(testLogger())

	started := make(chan struct{})
	result, err := w.TrySubmit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	w.Stop()

	assert.ErrorIs(t, <-result, context.Canceled)

	_, err = w.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)

	// Stop is idempotent.
	w.Stop()
}

func TestExecute_RecoversPanic(t *testing.T) {
	w := New(testLogger())
	defer w.Stop()

	result, err := w.TrySubmit(func(context.Context) error { panic("bad job") })
	require.NoError(t, err)

	assert.EqualError(t, <-result, "job panicked")

	result, err = w.Submit(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, <-result)
}
