// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/itsd/internal/its/device"
	xglog "github.com/ManuGH/itsd/internal/log"
)

// DefaultSensorInterval is the simulated sensor sampling period.
const DefaultSensorInterval = 5 * time.Millisecond

// Sensors emits a slow rotation about the z axis on all three sensors.
type Sensors struct {
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ device.SensorSource = (*Sensors)(nil)

// NewSensors returns a stopped sensor source.
func NewSensors(interval time.Duration) *Sensors {
	if interval <= 0 {
		interval = DefaultSensorInterval
	}
	return &Sensors{interval: interval}
}

// Start begins delivering events to sink from a background goroutine.
func (s *Sensors) Start(ctx context.Context, sink func(device.SensorKind, device.SensorEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("sensors already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, sink, s.done)
	return nil
}

// Stop halts delivery and waits for the goroutine to exit.
func (s *Sensors) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sensors) loop(ctx context.Context, sink func(device.SensorKind, device.SensorEvent), done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			phase := now.Sub(start).Seconds()
			ts := now.UnixNano()
			sink(device.SensorAccel, device.SensorEvent{Time: ts, X: 0, Y: 0, Z: 9.81})
			sink(device.SensorMag, device.SensorEvent{Time: ts, X: float32(40 * math.Cos(phase)), Y: float32(40 * math.Sin(phase))})
			sink(device.SensorGyro, device.SensorEvent{Time: ts, Z: 1})
		}
	}
}

// Vibrator records patterns instead of actuating anything.
type Vibrator struct {
	mu     sync.Mutex
	last   []int64
	logger zerolog.Logger
}

var _ device.Vibrator = (*Vibrator)(nil)

// NewVibrator returns a simulated vibrator.
func NewVibrator() *Vibrator {
	return &Vibrator{logger: xglog.WithComponent("sim")}
}

// Vibrate validates and records pattern.
func (v *Vibrator) Vibrate(ctx context.Context, pattern []int64) error {
	if len(pattern) == 0 {
		return errors.New("empty vibration pattern")
	}
	for i, d := range pattern {
		if d < 0 {
			return fmt.Errorf("pattern entry %d is negative", i)
		}
	}
	v.mu.Lock()
	v.last = append([]int64(nil), pattern...)
	v.mu.Unlock()
	logger := xglog.WithContext(ctx, v.logger)
	logger.Info().
		Str(xglog.FieldEvent, "sim.vibrate").
		Ints64("pattern_ms", pattern).
		Msg("vibration pattern started")
	return nil
}

// Last returns the most recent pattern.
func (v *Vibrator) Last() []int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]int64(nil), v.last...)
}
