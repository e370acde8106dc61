// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package serializer converts device metadata into wire objects on a
// dedicated goroutine so capture callbacks never pay serialization cost.
package serializer

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/itsd/internal/log"
	"github.com/ManuGH/itsd/internal/metrics"
)

// ErrStopped is returned when work is submitted after the worker stopped.
var ErrStopped = errors.New("serializer stopped")

// Enqueuer is where finished frames go.
type Enqueuer interface {
	Send(tag, str string, obj any)
}

// BuildFunc produces the objValue of a frame.
type BuildFunc func() (any, error)

type job struct {
	tag     string
	build   BuildFunc
	barrier chan struct{}
	gen     uint64
}

// Worker runs BuildFuncs in submission order and forwards each result as a
// frame. The queue is unbounded; Submit never blocks.
type Worker struct {
	out Enqueuer

	mu      sync.Mutex
	queue   []job
	wake    chan struct{}
	stopped bool
	// gen advances on Reset; jobs from an older generation are never sent.
	gen uint64

	logger zerolog.Logger
}

// New returns a worker that sends frames to out. Run must be started.
func New(out Enqueuer) *Worker {
	return &Worker{
		out:    out,
		wake:   make(chan struct{}, 1),
		logger: xglog.WithComponent("serializer"),
	}
}

// Submit queues a frame whose object value is built off the caller's goroutine.
func (w *Worker) Submit(tag string, build BuildFunc) error {
	return w.push(job{tag: tag, build: build})
}

// Flush blocks until every job submitted before it has been forwarded.
func (w *Worker) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := w.push(job{barrier: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) push(j job) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	j.gen = w.gen
	w.queue = append(w.queue, j)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run processes jobs until ctx is done. Jobs still queued at that point are
// discarded and pending Flush calls are released.
func (w *Worker) Run(ctx context.Context) error {
	defer w.stop()
	for {
		j, ok := w.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.wake:
			}
			continue
		}
		w.process(j)
	}
}

func (w *Worker) pop() (job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return job{}, false
	}
	j := w.queue[0]
	w.queue[0] = job{}
	w.queue = w.queue[1:]
	return j, true
}

func (w *Worker) process(j job) {
	if j.barrier != nil {
		close(j.barrier)
		return
	}
	obj, err := j.build()
	if err != nil {
		metrics.IncFrameDrop(metrics.DropEncodeError)
		w.logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "serializer.build_failed").
			Str(xglog.FieldTag, j.tag).
			Msg("dropping frame whose metadata could not be serialized")
		return
	}

	// Send does not block, so holding mu keeps Reset from interleaving
	// between the generation check and the hand-off.
	w.mu.Lock()
	defer w.mu.Unlock()
	if j.gen != w.gen {
		metrics.IncFrameDrop(metrics.DropDetached)
		return
	}
	w.out.Send(j.tag, "", obj)
}

// Reset discards every queued job and any job still being built, and
// releases pending Flush calls. It returns the number of queued frames
// discarded.
// Work submitted after Reset is processed normally.
func (w *Worker) Reset() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	dropped := 0
	for _, j := range w.queue {
		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		dropped++
		metrics.IncFrameDrop(metrics.DropDetached)
	}
	w.queue = nil
	return dropped
}

func (w *Worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for _, j := range w.queue {
		if j.barrier != nil {
			close(j.barrier)
		}
	}
	w.queue = nil
}

// ObjectFunc wraps an already-built object.
func ObjectFunc(obj any) BuildFunc {
	return func() (any, error) { return obj, nil }
}
