// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sim is a software camera stack implementing the device contract.
// It produces synthetic frames with plausible metadata and a 3A model that
// converges after a configurable number of frames.
package sim

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/itsd/internal/its/device"
	xglog "github.com/ManuGH/itsd/internal/log"
)

// CameraSpec describes one simulated camera.
type CameraSpec struct {
	ID               string
	HardwareLevel    int32
	ActiveArray      device.Size
	YUVSizes         []device.Size
	JPEGSizes        []device.Size
	RawSizes         []device.Size
	MinFocusDistance float32
	ConvergeFrames   int
}

// Config configures the simulated stack.
type Config struct {
	Cameras       []CameraSpec
	FrameInterval time.Duration
}

// DefaultFrameInterval paces simulated frames.
const DefaultFrameInterval = 10 * time.Millisecond

// DefaultConfig returns one full-level back camera and one legacy camera.
func DefaultConfig() Config {
	return Config{
		FrameInterval: DefaultFrameInterval,
		Cameras: []CameraSpec{
			{
				ID:               "0",
				HardwareLevel:    device.HardwareLevelFull,
				ActiveArray:      device.Size{Width: 1280, Height: 960},
				YUVSizes:         []device.Size{{Width: 1280, Height: 960}, {Width: 640, Height: 480}, {Width: 320, Height: 240}},
				JPEGSizes:        []device.Size{{Width: 1280, Height: 960}, {Width: 640, Height: 480}},
				RawSizes:         []device.Size{{Width: 1280, Height: 960}},
				MinFocusDistance: 10,
				ConvergeFrames:   3,
			},
			{
				ID:             "1",
				HardwareLevel:  device.HardwareLevelLegacy,
				ActiveArray:    device.Size{Width: 640, Height: 480},
				YUVSizes:       []device.Size{{Width: 640, Height: 480}},
				JPEGSizes:      []device.Size{{Width: 640, Height: 480}},
				ConvergeFrames: 3,
			},
		},
	}
}

// Manager enumerates the simulated cameras.
type Manager struct {
	interval time.Duration
	specs    map[string]CameraSpec
	order    []string

	mu   sync.Mutex
	open map[string]bool

	logger zerolog.Logger
}

var _ device.Manager = (*Manager)(nil)

// NewManager validates cfg and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Cameras) == 0 {
		return nil, fmt.Errorf("no simulated cameras configured")
	}
	m := &Manager{
		interval: cfg.FrameInterval,
		specs:    make(map[string]CameraSpec, len(cfg.Cameras)),
		open:     make(map[string]bool),
		logger:   xglog.WithComponent("sim"),
	}
	if m.interval <= 0 {
		m.interval = DefaultFrameInterval
	}
	for _, s := range cfg.Cameras {
		if _, dup := m.specs[s.ID]; dup {
			return nil, fmt.Errorf("duplicate camera id %q", s.ID)
		}
		if len(s.YUVSizes) == 0 {
			return nil, fmt.Errorf("camera %q: no YUV sizes", s.ID)
		}
		if s.ConvergeFrames <= 0 {
			s.ConvergeFrames = 1
		}
		m.specs[s.ID] = s
		m.order = append(m.order, s.ID)
	}
	return m, nil
}

// CameraIDs returns every camera in configuration order.
func (m *Manager) CameraIDs(context.Context) ([]string, error) {
	return slices.Clone(m.order), nil
}

// Characteristics returns the static metadata of camera id.
func (m *Manager) Characteristics(_ context.Context, id string) (device.Metadata, error) {
	s, ok := m.specs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrUnknownCamera, id)
	}
	return characteristics(s), nil
}

// Open opens camera id. A camera can be open once at a time.
func (m *Manager) Open(_ context.Context, id string) (device.Device, error) {
	s, ok := m.specs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrUnknownCamera, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open[id] {
		return nil, fmt.Errorf("%w: %s", device.ErrCameraInUse, id)
	}
	m.open[id] = true
	m.logger.Info().
		Str(xglog.FieldEvent, "sim.camera_opened").
		Str(xglog.FieldCameraID, id).
		Msg("simulated camera opened")
	return newCamera(s, m.interval, func() { m.release(id) }), nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, id)
}
