// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package writer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/itsd/internal/its/quota"
	"github.com/ManuGH/itsd/internal/its/wire"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

type frame struct {
	Tag          string `json:"tag"`
	StrValue     string `json:"strValue"`
	BufValueSize *int   `json:"bufValueSize"`
	payload      []byte
}

// parseFrames demultiplexes a captured byte stream the way a harness client
// does. complete is false when the stream ends inside a frame.
func parseFrames(data []byte) (out []frame, complete bool) {
	r := bufio.NewReader(bytes.NewReader(data))
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return out, len(line) == 0
		}
		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			return out, false
		}
		if f.BufValueSize != nil {
			f.payload = make([]byte, *f.BufValueSize)
			if _, err := io.ReadFull(r, f.payload); err != nil {
				return out, false
			}
		}
		out = append(out, f)
	}
}

func countFrames(data []byte) int {
	frames, _ := parseFrames(data)
	return len(frames)
}

func readFrames(t *testing.T, data []byte) []frame {
	t.Helper()
	frames, complete := parseFrames(data)
	require.True(t, complete, "stream ends inside a frame")
	return frames
}

func startWriter(t *testing.T, opts ...Option) (*Writer, func()) {
	t.Helper()
	w := New(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	return w, func() {
		cancel()
		<-done
	}
}

func TestWriter_PreservesEnqueueOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w, stop := startWriter(t)
	defer stop()

	out := &syncBuffer{}
	w.Attach(out, "c1", nil)

	const producers, perProducer = 8, 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		next int
	)
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perProducer {
				mu.Lock()
				n := next
				next++
				payload := []byte(strconv.Itoa(n))
				w.Enqueue(wire.Response{Tag: "frame", StrValue: strconv.Itoa(n), Buf: payload}, nil)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return countFrames(out.Bytes()) == producers*perProducer
	}, 2*time.Second, 5*time.Millisecond)

	frames := readFrames(t, out.Bytes())
	for i, f := range frames {
		assert.Equal(t, strconv.Itoa(i), f.StrValue)
		assert.Equal(t, f.StrValue, string(f.payload))
	}
}

func TestWriter_ReleasesQuotaAfterWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w, stop := startWriter(t)
	defer stop()

	out := &syncBuffer{}
	w.Attach(out, "c1", nil)

	g := quota.New(1024)
	res, err := g.Acquire(context.Background(), 100)
	require.NoError(t, err)

	w.Enqueue(wire.Response{Tag: "yuvImage", Buf: make([]byte, 100)}, res)

	require.Eventually(t, func() bool { return g.Acquired() == 0 }, time.Second, 5*time.Millisecond)
	frames := readFrames(t, out.Bytes())
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].payload, 100)
}

func TestWriter_DropsWithoutConnection(t *testing.T) {
	w, stop := startWriter(t)
	defer stop()

	g := quota.New(1024)
	res, err := g.Acquire(context.Background(), 512)
	require.NoError(t, err)

	w.Enqueue(wire.Response{Tag: "jpegImage", Buf: make([]byte, 512)}, res)
	assert.Zero(t, g.Acquired())
	assert.Zero(t, w.Pending())
}

func TestWriter_WriteFailureDetaches(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w, stop := startWriter(t)
	defer stop()

	failed := make(chan error, 1)
	w.Attach(failingWriter{}, "c1", func(err error) { failed <- err })

	g := quota.New(1024)
	for range 4 {
		res, err := g.Acquire(context.Background(), 10)
		require.NoError(t, err)
		w.Enqueue(wire.Response{Tag: "rawImage", Buf: make([]byte, 10)}, res)
	}

	select {
	case err := <-failed:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("onFail not invoked")
	}

	require.Eventually(t, func() bool { return g.Acquired() == 0 }, time.Second, 5*time.Millisecond)
	acq, rel := g.Totals()
	assert.Equal(t, acq, rel)

	// Further frames are dropped until a new connection is attached.
	w.Send("cameraClosed", "", nil)
	assert.Zero(t, w.Pending())
}

func TestWriter_DetachClearsQueue(t *testing.T) {
	// Not running: frames stay queued so detach has something to clear.
	w := New()
	w.Attach(&syncBuffer{}, "c1", nil)

	g := quota.New(100)
	res, err := g.Acquire(context.Background(), 40)
	require.NoError(t, err)
	w.Enqueue(wire.Response{Tag: "yuvImage", Buf: make([]byte, 40)}, res)
	w.Send("captureResults", "", nil)
	require.Equal(t, 2, w.Pending())

	w.Detach()
	assert.Zero(t, w.Pending())
	assert.Zero(t, g.Acquired())
}

func TestWriter_ReattachStartsClean(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w := New()
	first := &syncBuffer{}
	w.Attach(first, "c1", nil)
	w.Send("stale", "", nil)

	second := &syncBuffer{}
	w.Attach(second, "c2", nil)
	w.Send("fresh", "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return countFrames(second.Bytes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, first.Bytes())
	assert.Equal(t, "fresh", readFrames(t, second.Bytes())[0].Tag)
}

type recordingSink struct {
	mu   sync.Mutex
	tags []string
	seqs []uint64
}

func (s *recordingSink) Store(_ string, seq uint64, tag string, _ []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = append(s.tags, tag)
	s.seqs = append(s.seqs, seq)
}

func (s *recordingSink) snapshot() ([]string, []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tags...), append([]uint64(nil), s.seqs...)
}

func TestWriter_SinkSeesPayloadFramesOnly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := &recordingSink{}
	w, stop := startWriter(t, WithSink(sink))
	defer stop()

	w.Attach(&syncBuffer{}, "c1", nil)
	w.Send("captureResults", "", nil)
	w.Enqueue(wire.Response{Tag: "yuvImage", Buf: []byte{1, 2, 3}}, nil)

	require.Eventually(t, func() bool {
		tags, _ := sink.snapshot()
		return len(tags) == 1
	}, time.Second, 5*time.Millisecond)
	tags, seqs := sink.snapshot()
	assert.Equal(t, []string{"yuvImage"}, tags)
	assert.Equal(t, []uint64{2}, seqs)
}

func TestWriter_CloseStopsRun(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w := New()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(context.Background()) }()

	w.Close()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}
