// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/itsd/internal/its/device"
)

type manualSource struct {
	sink    func(device.SensorKind, device.SensorEvent)
	stopped int
	err     error
}

func (s *manualSource) Start(_ context.Context, sink func(device.SensorKind, device.SensorEvent)) error {
	if s.err != nil {
		return s.err
	}
	s.sink = sink
	return nil
}

func (s *manualSource) Stop() { s.stopped++ }

func TestRecorder_CollectsWhileRecording(t *testing.T) {
	src := &manualSource{}
	r := NewRecorder(src, 0)

	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.Recording())

	src.sink(device.SensorAccel, device.SensorEvent{Time: 1, X: 0.5})
	src.sink(device.SensorGyro, device.SensorEvent{Time: 2, Z: -1})

	ev, dropped := r.Drain()
	assert.Zero(t, dropped)
	assert.Equal(t, []Event{{Time: 1, X: 0.5}}, ev.Accel)
	assert.Equal(t, []Event{{Time: 2, Z: -1}}, ev.Gyro)
	assert.Empty(t, ev.Mag)

	// Drained buffers are cleared.
	ev, _ = r.Drain()
	assert.Empty(t, ev.Accel)

	r.Stop()
	assert.False(t, r.Recording())
	assert.Equal(t, 1, src.stopped)

	src.sink(device.SensorMag, device.SensorEvent{Time: 3})
	ev, _ = r.Drain()
	assert.Empty(t, ev.Mag, "events after stop are ignored")

	r.Stop()
	assert.Equal(t, 1, src.stopped, "stop is idempotent")
}

func TestRecorder_DrainEncodesEmptyArrays(t *testing.T) {
	r := NewRecorder(&manualSource{}, 0)
	ev, _ := r.Drain()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"accel":[],"mag":[],"gyro":[]}`, string(raw))
}

func TestRecorder_Limit(t *testing.T) {
	src := &manualSource{}
	r := NewRecorder(src, 2)
	require.NoError(t, r.Start(context.Background()))
	for i := range 5 {
		src.sink(device.SensorAccel, device.SensorEvent{Time: int64(i)})
	}
	ev, dropped := r.Drain()
	assert.Len(t, ev.Accel, 2)
	assert.Equal(t, 3, dropped)
}

func TestRecorder_StartFailure(t *testing.T) {
	boom := errors.New("no sensors")
	r := NewRecorder(&manualSource{err: boom}, 0)
	require.ErrorIs(t, r.Start(context.Background()), boom)
	assert.False(t, r.Recording())
}
