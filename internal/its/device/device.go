// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package device declares the capture device contract the harness drives:
// device enumeration, stream sessions, asynchronous buffer and result
// delivery, and reprocessing input queues.
package device

import (
	"context"
	"sync"
)

// Template selects the device defaults a new request starts from.
type Template int

const (
	TemplatePreview Template = 1
	TemplateStill   Template = 2
)

// Request is a mutable capture request. Settings are copied on submit, so a
// request may be modified and resubmitted.
type Request struct {
	Template Template
	Settings Metadata
	Targets  []int

	// Input is set on reprocess requests and carries the result of the
	// capture that produced the input buffer.
	Input *Result
}

// NewRequest returns an empty request for the template.
func NewRequest(t Template) *Request {
	return &Request{Template: t, Settings: Metadata{}}
}

// Set stores a setting.
func (r *Request) Set(key string, v any) { r.Settings[key] = v }

// Get returns a setting.
func (r *Request) Get(key string) (any, bool) {
	v, ok := r.Settings[key]
	return v, ok
}

// Delete removes a setting.
func (r *Request) Delete(key string) { delete(r.Settings, key) }

// AddTarget appends an output stream.
func (r *Request) AddTarget(stream int) { r.Targets = append(r.Targets, stream) }

// Clone returns a copy with its own settings map and target list.
func (r *Request) Clone() *Request {
	return &Request{
		Template: r.Template,
		Settings: r.Settings.Clone(),
		Targets:  append([]int(nil), r.Targets...),
		Input:    r.Input,
	}
}

// Result is the metadata record a device produces for a completed request.
type Result struct {
	Request     *Request
	Metadata    Metadata
	FrameNumber int64
}

// Plane is one memory plane of a buffer.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// Buffer is an image delivered on one output stream. Close must be called
// once the harness is done with it so the device can recycle the memory.
type Buffer struct {
	Stream    int
	Format    Format
	Size      Size
	Planes    []Plane
	Timestamp int64

	once    sync.Once
	release func()
}

// NewBuffer wraps device memory. release may be nil.
func NewBuffer(stream int, f Format, size Size, planes []Plane, ts int64, release func()) *Buffer {
	return &Buffer{Stream: stream, Format: f, Size: size, Planes: planes, Timestamp: ts, release: release}
}

// Close returns the buffer to the device. It is safe to call more than once.
func (b *Buffer) Close() {
	b.once.Do(func() {
		if b.release != nil {
			b.release()
		}
	})
}

// Listener receives asynchronous session events. OnBuffer is invoked on a
// goroutine dedicated to the buffer's stream; OnResult and OnFailure share a
// result goroutine. Implementations must not block indefinitely.
type Listener interface {
	OnBuffer(b *Buffer)
	OnResult(r *Result)
	OnFailure(req *Request, err error)
}

// Manager enumerates and opens devices.
type Manager interface {
	CameraIDs(ctx context.Context) ([]string, error)
	Characteristics(ctx context.Context, id string) (Metadata, error)
	Open(ctx context.Context, id string) (Device, error)
}

// Device is an opened camera.
type Device interface {
	ID() string
	Characteristics() Metadata
	NewRequest(t Template) *Request
	CreateSession(ctx context.Context, outputs []StreamConfig, l Listener) (Session, error)
	CreateReprocessSession(ctx context.Context, input StreamConfig, outputs []StreamConfig, l Listener) (ReprocessSession, error)
	Close() error
}

// Session is a configured set of output streams.
type Session interface {
	Submit(ctx context.Context, req *Request) error
	SetRepeating(ctx context.Context, reqs []*Request) error
	StopRepeating() error
	Close(ctx context.Context) error
}

// ReprocessSession is a session that additionally accepts input buffers.
type ReprocessSession interface {
	Session
	NewReprocessRequest(input *Result) (*Request, error)
	OpenInputQueue() (InputQueue, error)
}

// InputQueue feeds previously captured buffers back into a reprocess session.
type InputQueue interface {
	Queue(ctx context.Context, b *Buffer) error
	Close() error
}

// SensorEvent is one motion sensor sample.
type SensorEvent struct {
	Time int64
	X    float32
	Y    float32
	Z    float32
}

// SensorKind names a motion sensor.
type SensorKind string

const (
	SensorAccel SensorKind = "accel"
	SensorMag   SensorKind = "mag"
	SensorGyro  SensorKind = "gyro"
)

// SensorSource streams motion events until stopped.
type SensorSource interface {
	Start(ctx context.Context, sink func(SensorKind, SensorEvent)) error
	Stop()
}

// Vibrator actuates a vibration pattern (alternating off/on durations in ms).
type Vibrator interface {
	Vibrate(ctx context.Context, pattern []int64) error
}
