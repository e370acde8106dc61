// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sensor buffers motion sensor events between client reads.
package sensor

import (
	"context"
	"sync"

	"github.com/ManuGH/itsd/internal/its/device"
)

// DefaultLimit caps the events kept per sensor between reads.
const DefaultLimit = 10000

// Event is the wire form of a sensor sample.
type Event struct {
	Time int64   `json:"time"`
	X    float32 `json:"x"`
	Y    float32 `json:"y"`
	Z    float32 `json:"z"`
}

// Events is the payload of a sensorEvents frame.
type Events struct {
	Accel []Event `json:"accel"`
	Mag   []Event `json:"mag"`
	Gyro  []Event `json:"gyro"`
}

// Recorder collects events from a source while recording is on.
type Recorder struct {
	src   device.SensorSource
	limit int

	mu        sync.Mutex
	recording bool
	cancel    context.CancelFunc
	events    Events
	dropped   int
}

// NewRecorder returns a recorder over src. limit <= 0 selects DefaultLimit.
func NewRecorder(src device.SensorSource, limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Recorder{src: src, limit: limit}
}

// Start clears the buffer and begins recording.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	r.events = Events{}
	r.dropped = 0
	if r.recording {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	r.recording = true
	r.cancel = cancel
	r.mu.Unlock()

	if err := r.src.Start(ctx, r.record); err != nil {
		r.mu.Lock()
		r.recording = false
		r.cancel = nil
		r.mu.Unlock()
		cancel()
		return err
	}
	return nil
}

// Stop ends recording. Buffered events are kept until the next Drain.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	r.recording = false
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	// Stop outside the lock: sources may deliver a final event while stopping.
	r.src.Stop()
	cancel()
}

// Recording reports whether events are being collected.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Drain returns the buffered events and clears the buffer. The returned
// slices are never nil so they encode as empty arrays.
func (r *Recorder) Drain() (Events, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Events{
		Accel: nonNil(r.events.Accel),
		Mag:   nonNil(r.events.Mag),
		Gyro:  nonNil(r.events.Gyro),
	}
	dropped := r.dropped
	r.events = Events{}
	r.dropped = 0
	return out, dropped
}

func (r *Recorder) record(kind device.SensorKind, ev device.SensorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	var dst *[]Event
	switch kind {
	case device.SensorAccel:
		dst = &r.events.Accel
	case device.SensorMag:
		dst = &r.events.Mag
	case device.SensorGyro:
		dst = &r.events.Gyro
	default:
		return
	}
	if len(*dst) >= r.limit {
		r.dropped++
		return
	}
	*dst = append(*dst, Event{Time: ev.Time, X: ev.X, Y: ev.Y, Z: ev.Z})
}

func nonNil(e []Event) []Event {
	if e == nil {
		return []Event{}
	}
	return e
}
