// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package writer serializes every outbound frame onto the single harness
// connection in submission order.
package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/itsd/internal/its/quota"
	"github.com/ManuGH/itsd/internal/its/wire"
	xglog "github.com/ManuGH/itsd/internal/log"
	"github.com/ManuGH/itsd/internal/metrics"
)

// ErrClosed is returned by Run once the writer has been closed.
var ErrClosed = errors.New("writer closed")

// Sink receives a copy of every binary payload after it has been written.
// Implementations must not block.
type Sink interface {
	Store(connID string, seq uint64, tag string, payload []byte)
}

type item struct {
	resp wire.Response
	res  *quota.Reservation
	gen  uint64
}

// Writer is a single-consumer FIFO. Enqueue never blocks; memory is bounded
// by the quota reservations producers take before enqueueing payloads.
type Writer struct {
	mu     sync.Mutex
	queue  []item
	wake   chan struct{}
	conn   io.Writer
	connID string
	onFail func(error)
	gen    uint64
	seq    uint64
	closed bool

	sink   Sink
	logger zerolog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithSink mirrors written payloads to s.
func WithSink(s Sink) Option {
	return func(w *Writer) { w.sink = s }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// New returns an idle writer. Run must be started before frames flow.
func New(opts ...Option) *Writer {
	w := &Writer{
		wake:   make(chan struct{}, 1),
		logger: xglog.WithComponent("writer"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Attach directs subsequent frames to conn. onFail is invoked at most once,
// from the writer goroutine, when a write to conn fails.
func (w *Writer) Attach(conn io.Writer, connID string, onFail func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dropQueuedLocked(metrics.DropDetached)
	w.gen++
	w.conn = conn
	w.connID = connID
	w.onFail = onFail
	w.seq = 0
}

// Detach stops writing to the current connection, drops everything still
// queued for it and releases the quota those frames held.
func (w *Writer) Detach() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.detachLocked()
}

func (w *Writer) detachLocked() {
	w.dropQueuedLocked(metrics.DropDetached)
	w.gen++
	w.conn = nil
	w.connID = ""
	w.onFail = nil
}

func (w *Writer) dropQueuedLocked(reason string) {
	for i := range w.queue {
		w.queue[i].res.Release()
		metrics.IncFrameDrop(reason)
	}
	clear(w.queue)
	w.queue = w.queue[:0]
}

// Enqueue appends a frame. res, if non-nil, is released once the payload has
// been written or the frame is dropped. Frames enqueued while no connection
// is attached are dropped immediately.
func (w *Writer) Enqueue(resp wire.Response, res *quota.Reservation) {
	w.mu.Lock()
	if w.closed || w.conn == nil {
		w.mu.Unlock()
		res.Release()
		metrics.IncFrameDrop(metrics.DropNoConnection)
		w.logger.Debug().
			Str(xglog.FieldEvent, "writer.frame_dropped").
			Str(xglog.FieldTag, resp.Tag).
			Msg("no connection attached, dropping frame")
		return
	}
	w.queue = append(w.queue, item{resp: resp, res: res, gen: w.gen})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Send is Enqueue for frames without a payload.
func (w *Writer) Send(tag, str string, obj any) {
	w.Enqueue(wire.Response{Tag: tag, StrValue: str, ObjValue: obj}, nil)
}

// Pending returns the number of queued frames.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Close stops Run and drops anything still queued.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.detachLocked()
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is done or Close is called.
func (w *Writer) Run(ctx context.Context) error {
	for {
		it, conn, connID, seq, ok, closed := w.next()
		if closed {
			return ErrClosed
		}
		if !ok {
			select {
			case <-ctx.Done():
				w.Close()
				return ctx.Err()
			case <-w.wake:
			}
			continue
		}
		w.write(it, conn, connID, seq)
	}
}

func (w *Writer) next() (it item, conn io.Writer, connID string, seq uint64, ok, closed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return item{}, nil, "", 0, false, true
	}
	if len(w.queue) == 0 {
		return item{}, nil, "", 0, false, false
	}
	it = w.queue[0]
	w.queue[0] = item{}
	w.queue = w.queue[1:]
	if it.gen != w.gen || w.conn == nil {
		it.res.Release()
		metrics.IncFrameDrop(metrics.DropDetached)
		return item{}, nil, "", 0, false, false
	}
	w.seq++
	return it, w.conn, w.connID, w.seq, true, false
}

func (w *Writer) write(it item, conn io.Writer, connID string, seq uint64) {
	defer it.res.Release()

	line, err := it.resp.HeaderLine()
	if err != nil {
		metrics.IncFrameDrop(metrics.DropEncodeError)
		w.logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "writer.encode_failed").
			Str(xglog.FieldTag, it.resp.Tag).
			Msg("dropping frame that cannot be encoded")
		return
	}

	bufs := net.Buffers{line}
	if len(it.resp.Buf) > 0 {
		bufs = append(bufs, it.resp.Buf)
	}
	n, err := bufs.WriteTo(conn)
	metrics.BytesWrittenTotal.Add(float64(n))
	if err != nil {
		metrics.IncFrameDrop(metrics.DropWriteError)
		w.fail(it.gen, fmt.Errorf("write %s frame: %w", it.resp.Tag, err))
		return
	}

	metrics.FramesWrittenTotal.WithLabelValues(it.resp.Tag).Inc()
	if it.resp.HasPayload() {
		w.logger.Debug().
			Str(xglog.FieldEvent, "writer.payload_written").
			Str(xglog.FieldConnID, connID).
			Str(xglog.FieldTag, it.resp.Tag).
			Int(xglog.FieldBytes, len(it.resp.Buf)).
			Msg("payload written")
		if w.sink != nil {
			w.sink.Store(connID, seq, it.resp.Tag, it.resp.Buf)
		}
	}
}

// fail tears down the connection a failed write belonged to, unless it has
// already been replaced.
func (w *Writer) fail(gen uint64, err error) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	onFail := w.onFail
	connID := w.connID
	w.detachLocked()
	w.mu.Unlock()

	w.logger.Warn().
		Err(err).
		Str(xglog.FieldEvent, "writer.write_failed").
		Str(xglog.FieldConnID, connID).
		Msg("write failed, detaching connection")
	if onFail != nil {
		onFail(err)
	}
}
