// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/itsd/internal/its/device"
)

const (
	blackLevel = 64
	whiteLevel = 1023
)

func characteristics(s CameraSpec) device.Metadata {
	var configs []device.StreamConfiguration
	add := func(f device.Format, sizes []device.Size, input bool) {
		for _, sz := range sizes {
			configs = append(configs, device.StreamConfiguration{Format: f, Size: sz, Input: input})
		}
	}
	add(device.FormatYUV420, s.YUVSizes, false)
	add(device.FormatPrivate, s.YUVSizes, false)
	add(device.FormatJPEG, s.JPEGSizes, false)
	add(device.FormatRawSensor, s.RawSizes, false)
	add(device.FormatRaw10, s.RawSizes, false)
	add(device.FormatRaw12, s.RawSizes, false)
	// Reprocessing from the largest YUV and private frames.
	add(device.FormatYUV420, s.YUVSizes[:1], true)
	add(device.FormatPrivate, s.YUVSizes[:1], true)

	return device.Metadata{
		device.KeyHardwareLevel:           s.HardwareLevel,
		device.KeyStreamConfigurations:    configs,
		device.KeySensorActiveArraySize:   device.Rect{Right: int32(s.ActiveArray.Width), Bottom: int32(s.ActiveArray.Height)},
		device.KeySensorPixelArraySize:    s.ActiveArray,
		device.KeySensorWhiteLevel:        int32(whiteLevel),
		device.KeySensorColorArrangement:  int32(0),
		device.KeySensorBlackLevelPattern: []int32{blackLevel, blackLevel, blackLevel, blackLevel},
		device.KeyLensMinFocusDistance:    s.MinFocusDistance,
		device.KeyLensFacing:              int32(1),
		device.KeyAERange:                 device.IntRange{Lower: -6, Upper: 6},
		device.KeyAvailableCapabilities:   []int32{0, 1, 2, 3, 4, 7},
	}
}

// Camera is an opened simulated camera.
type Camera struct {
	spec     CameraSpec
	chars    device.Metadata
	interval time.Duration
	release  func()

	mu      sync.Mutex
	session *session
	closed  bool
}

var _ device.Device = (*Camera)(nil)

func newCamera(s CameraSpec, interval time.Duration, release func()) *Camera {
	return &Camera{spec: s, chars: characteristics(s), interval: interval, release: release}
}

func (c *Camera) ID() string { return c.spec.ID }

func (c *Camera) Characteristics() device.Metadata { return c.chars }

// NewRequest returns a request pre-filled with the template defaults.
func (c *Camera) NewRequest(t device.Template) *device.Request {
	req := device.NewRequest(t)
	intent := device.CaptureIntentPreview
	if t == device.TemplateStill {
		intent = device.CaptureIntentStill
	}
	req.Set(device.KeyControlMode, device.ControlModeAuto)
	req.Set(device.KeyControlCaptureIntent, intent)
	req.Set(device.KeyControlAEMode, device.AEModeOn)
	req.Set(device.KeyControlAFMode, device.AFModeAuto)
	req.Set(device.KeyControlAWBMode, device.AWBModeAuto)
	req.Set(device.KeyNoiseReductionMode, int32(1))
	req.Set(device.KeyEdgeMode, int32(1))
	return req
}

func (c *Camera) validate(f device.Format, sz device.Size, input bool) error {
	for _, cfg := range c.chars.StreamConfigurations() {
		if cfg.Format == f && cfg.Size == sz && cfg.Input == input {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s (input=%t)", device.ErrUnsupportedStream, f, sz, input)
}

// CreateSession replaces any active session with one over outputs.
func (c *Camera) CreateSession(ctx context.Context, outputs []device.StreamConfig, l device.Listener) (device.Session, error) {
	s, err := c.createSession(ctx, nil, outputs, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateReprocessSession creates a session that also accepts input frames.
func (c *Camera) CreateReprocessSession(ctx context.Context, input device.StreamConfig, outputs []device.StreamConfig, l device.Listener) (device.ReprocessSession, error) {
	s, err := c.createSession(ctx, &input, outputs, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Camera) createSession(ctx context.Context, input *device.StreamConfig, outputs []device.StreamConfig, l device.Listener) (*session, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: no outputs", device.ErrUnsupportedStream)
	}
	seen := make(map[int]bool, len(outputs))
	for _, o := range outputs {
		if seen[o.ID] {
			return nil, fmt.Errorf("%w: duplicate stream id %d", device.ErrUnsupportedStream, o.ID)
		}
		seen[o.ID] = true
		if err := c.validate(o.Format, o.Size, false); err != nil {
			return nil, err
		}
	}
	if input != nil {
		if err := c.validate(input.Format, input.Size, true); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, device.ErrSessionClosed
	}
	if c.session != nil {
		_ = c.session.Close(ctx)
	}
	c.session = newSession(c, input, outputs, l)
	return c.session, nil
}

// Close closes the active session and releases the camera.
func (c *Camera) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	}
	c.release()
	return nil
}
