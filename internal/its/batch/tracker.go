// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package batch counts the asynchronous callbacks a submitted group of
// capture requests must produce, and releases the issuing goroutine once
// all of them arrived or progress stalls.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/itsd/internal/its/device"
	xglog "github.com/ManuGH/itsd/internal/log"
)

var (
	// ErrNotArmed is returned when waiting on a tracker with no batch.
	ErrNotArmed = errors.New("no capture batch armed")

	// ErrSlotOutOfRange is returned for result indices beyond the batch size.
	ErrSlotOutOfRange = errors.New("result slot out of range")
)

// TimeoutError reports a batch whose callbacks stopped arriving.
type TimeoutError struct {
	BatchID   string
	Expected  int
	Remaining int
	Idle      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no callback received within %s (batch %s: %d of %d callbacks outstanding)",
		e.Idle.Round(time.Millisecond), e.BatchID, e.Remaining, e.Expected)
}

// ResultTimeoutError reports a result slot that was not filled in time.
type ResultTimeoutError struct {
	Index   int
	Timeout time.Duration
}

func (e *ResultTimeoutError) Error() string {
	return fmt.Sprintf("capture result %d not available after %s", e.Index, e.Timeout)
}

// Expected returns the callback count for requests against countable
// streams: one buffer per stream per request plus one result per request.
func Expected(requests, countableStreams int) int {
	if requests <= 0 || countableStreams < 0 {
		return 0
	}
	return requests * (countableStreams + 1)
}

// Tracker is the completion barrier for one capture batch at a time.
type Tracker struct {
	mu           sync.Mutex
	id           string
	armed        bool
	expected     int
	remaining    int
	lastProgress time.Time
	changed      chan struct{}

	results  []*device.Result
	filled   int
	counters map[string]int
	failures []error

	logger zerolog.Logger
}

// New returns an unarmed tracker.
func New() *Tracker {
	return &Tracker{
		changed: make(chan struct{}),
		logger:  xglog.WithComponent("batch"),
	}
}

// Arm starts a batch of requests over countableStreams streams and returns
// its ID. Any previous batch is discarded.
func (t *Tracker) Arm(requests, countableStreams int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.id = uuid.NewString()
	t.armed = true
	t.expected = Expected(requests, countableStreams)
	t.remaining = t.expected
	t.lastProgress = time.Now()
	t.results = make([]*device.Result, max(requests, 0))
	t.filled = 0
	t.counters = make(map[string]int)
	t.failures = nil
	t.notifyLocked()

	t.logger.Debug().
		Str(xglog.FieldEvent, "batch.armed").
		Str(xglog.FieldBatchID, t.id).
		Int("requests", requests).
		Int("streams", countableStreams).
		Int("expected", t.expected).
		Msg("capture batch armed")
	return t.id
}

// Disarm ends the current batch. Late callbacks are ignored.
func (t *Tracker) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
	t.results = nil
	t.notifyLocked()
}

// Armed reports whether a batch is in progress.
func (t *Tracker) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// ID returns the current batch ID.
func (t *Tracker) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Remaining returns the outstanding callback count.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// SignalOne records one callback. It reports false, and changes nothing,
// when no batch is armed or the batch is already complete.
func (t *Tracker) SignalOne() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed || t.remaining == 0 {
		t.logger.Warn().
			Str(xglog.FieldEvent, "batch.extra_callback").
			Str(xglog.FieldBatchID, t.id).
			Bool("armed", t.armed).
			Msg("callback arrived with no outstanding count")
		return false
	}
	t.remaining--
	t.lastProgress = time.Now()
	t.notifyLocked()
	return true
}

// AwaitZero blocks until the batch completes. The timeout is rolling: it is
// measured from the most recent callback, not from the start of the wait.
func (t *Tracker) AwaitZero(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		t.mu.Lock()
		armed, remaining, last, changed := t.armed, t.remaining, t.lastProgress, t.changed
		id, expected := t.id, t.expected
		t.mu.Unlock()

		if !armed {
			return ErrNotArmed
		}
		if remaining == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-timer.C:
			if idle := time.Since(last); idle < timeout {
				timer.Reset(timeout - idle)
				continue
			}
			return &TimeoutError{BatchID: id, Expected: expected, Remaining: remaining, Idle: timeout}
		}
	}
}

// AddResult stores a result in the next free slot and returns its index.
func (t *Tracker) AddResult(r *device.Result) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return -1, ErrNotArmed
	}
	if t.filled >= len(t.results) {
		return -1, ErrSlotOutOfRange
	}
	i := t.filled
	t.results[i] = r
	t.filled++
	t.notifyLocked()
	return i, nil
}

// WaitResult blocks until slot i holds a result.
func (t *Tracker) WaitResult(ctx context.Context, i int, timeout time.Duration) (*device.Result, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		t.mu.Lock()
		if !t.armed {
			t.mu.Unlock()
			return nil, ErrNotArmed
		}
		if i < 0 || i >= len(t.results) {
			t.mu.Unlock()
			return nil, ErrSlotOutOfRange
		}
		r, changed := t.results[i], t.changed
		t.mu.Unlock()

		if r != nil {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		case <-timer.C:
			return nil, &ResultTimeoutError{Index: i, Timeout: timeout}
		}
	}
}

// Next returns the per-kind arrival index and advances it. Buffers of one
// stream arrive in request order, so the index pairs a buffer with the
// result slot of the same request.
func (t *Tracker) Next(kind string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counters == nil {
		t.counters = make(map[string]int)
	}
	n := t.counters[kind]
	t.counters[kind] = n + 1
	return n
}

// RecordFailure notes a callback whose payload could not be delivered.
func (t *Tracker) RecordFailure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return
	}
	t.failures = append(t.failures, err)
}

// Err joins every failure recorded for the current batch.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return errors.Join(t.failures...)
}

func (t *Tracker) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}
