// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package serializer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type sent struct {
	tag string
	obj any
}

type recorder struct {
	mu     sync.Mutex
	frames []sent
}

func (r *recorder) Send(tag, _ string, obj any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, sent{tag: tag, obj: obj})
}

func (r *recorder) snapshot() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.frames...)
}

func run(t *testing.T, w *Worker) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestWorker_ForwardsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &recorder{}
	w := New(rec)
	stop := run(t, w)
	defer stop()

	for i := range 20 {
		require.NoError(t, w.Submit("captureResults", ObjectFunc(i)))
	}
	require.NoError(t, w.Flush(context.Background()))

	frames := rec.snapshot()
	require.Len(t, frames, 20)
	for i, f := range frames {
		assert.Equal(t, "captureResults", f.tag)
		assert.Equal(t, i, f.obj)
	}
}

func TestWorker_BuildRunsOffCallerGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &recorder{}
	w := New(rec)
	stop := run(t, w)
	defer stop()

	release := make(chan struct{})
	require.NoError(t, w.Submit("cameraProperties", func() (any, error) {
		<-release
		return "props", nil
	}))

	// Submit returned while the build is still blocked.
	assert.Empty(t, rec.snapshot())
	close(release)

	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, []sent{{tag: "cameraProperties", obj: "props"}}, rec.snapshot())
}

func TestWorker_DropsFailedBuilds(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &recorder{}
	w := New(rec)
	stop := run(t, w)
	defer stop()

	require.NoError(t, w.Submit("captureResults", func() (any, error) { return nil, errors.New("bad key") }))
	require.NoError(t, w.Submit("captureResults", ObjectFunc("ok")))
	require.NoError(t, w.Flush(context.Background()))

	frames := rec.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, "ok", frames[0].obj)
}

func TestWorker_StoppedRejectsWork(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w := New(&recorder{})
	stop := run(t, w)
	stop()

	require.ErrorIs(t, w.Submit("x", ObjectFunc(nil)), ErrStopped)
	require.ErrorIs(t, w.Flush(context.Background()), ErrStopped)
}

func TestWorker_FlushHonoursContext(t *testing.T) {
	w := New(&recorder{}) // never run

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, w.Flush(ctx), context.DeadlineExceeded)
}

func TestWorker_ResetDiscardsQueuedAndInFlightFrames(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &recorder{}
	w := New(rec)
	stop := run(t, w)
	defer stop()

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, w.Submit("captureResults", func() (any, error) {
		close(started)
		<-release
		return "stale", nil
	}))
	require.NoError(t, w.Submit("cameraProperties", ObjectFunc("queued")))
	<-started

	// A Flush pending at Reset time is released rather than left hanging.
	flushed := make(chan error, 1)
	go func() { flushed <- w.Flush(context.Background()) }()
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.queue) == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, 1, w.Reset())
	require.NoError(t, <-flushed)
	close(release)

	require.NoError(t, w.Submit("cameraIds", ObjectFunc("fresh")))
	require.NoError(t, w.Flush(context.Background()))

	frames := rec.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, sent{tag: "cameraIds", obj: "fresh"}, frames[0])
}
