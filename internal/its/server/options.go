// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"errors"
	"time"

	"github.com/ManuGH/itsd/internal/its/device"
	"github.com/ManuGH/itsd/internal/its/writer"
)

// Defaults for Options fields left zero.
const (
	DefaultMaxLineBytes    = 1 << 20
	DefaultQuotaMultiplier = 3
	DefaultAcceptRetryRate = 10.0

	// MaxOutputSurfaces bounds the streams of one capture session,
	// background stream included.
	MaxOutputSurfaces = 4
)

// Timeouts bounds every blocking wait a handler performs.
type Timeouts struct {
	// Callback is the rolling batch timeout before the exposure allowance.
	Callback time.Duration
	// ThreeA bounds a 3A run from its start.
	ThreeA time.Duration
	// Warmup is how long background requests run before real captures.
	Warmup time.Duration
	// CaptureResult bounds the wait for the result a DNG frame embeds.
	CaptureResult time.Duration
	// SessionIdle bounds the wait for queued metadata frames to be
	// handed to the writer after a batch completes.
	SessionIdle time.Duration
	// SessionClose bounds closing a device session.
	SessionClose time.Duration
	// ReprocessItem bounds each reprocess input capture.
	ReprocessItem time.Duration
}

// DefaultTimeouts returns the stock harness timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Callback:      10 * time.Second,
		ThreeA:        10 * time.Second,
		Warmup:        2 * time.Second,
		CaptureResult: 2 * time.Second,
		SessionIdle:   2 * time.Second,
		SessionClose:  3 * time.Second,
		ReprocessItem: 10 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	pick := func(v, def time.Duration) time.Duration {
		if v <= 0 {
			return def
		}
		return v
	}
	return Timeouts{
		Callback:      pick(t.Callback, d.Callback),
		ThreeA:        pick(t.ThreeA, d.ThreeA),
		Warmup:        pick(t.Warmup, d.Warmup),
		CaptureResult: pick(t.CaptureResult, d.CaptureResult),
		SessionIdle:   pick(t.SessionIdle, d.SessionIdle),
		SessionClose:  pick(t.SessionClose, d.SessionClose),
		ReprocessItem: pick(t.ReprocessItem, d.ReprocessItem),
	}
}

// Options wires a Server to its collaborators.
type Options struct {
	Manager  device.Manager
	Frames   device.FrameCodec
	Metadata device.MetadataCodec

	// Sensors and Vibrator are optional; the related commands fail with a
	// device error when they are nil.
	Sensors  device.SensorSource
	Vibrator device.Vibrator

	// Sink, when set, receives every payload after it was written.
	Sink writer.Sink

	MaxLineBytes    int
	QuotaMultiplier int
	// AcceptRetryRate limits accept retries per second after errors.
	AcceptRetryRate float64
	// SensorEventLimit caps buffered events per sensor.
	SensorEventLimit int

	Timeouts Timeouts
}

func (o Options) validate() error {
	var errs []error
	if o.Manager == nil {
		errs = append(errs, errors.New("device manager is required"))
	}
	if o.Frames == nil {
		errs = append(errs, errors.New("frame codec is required"))
	}
	if o.Metadata == nil {
		errs = append(errs, errors.New("metadata codec is required"))
	}
	return errors.Join(errs...)
}

func (o Options) withDefaults() Options {
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = DefaultMaxLineBytes
	}
	if o.QuotaMultiplier <= 0 {
		o.QuotaMultiplier = DefaultQuotaMultiplier
	}
	if o.AcceptRetryRate <= 0 {
		o.AcceptRetryRate = DefaultAcceptRetryRate
	}
	o.Timeouts = o.Timeouts.withDefaults()
	return o
}
