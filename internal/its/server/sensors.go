// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"context"
	"fmt"

	"github.com/ManuGH/itsd/internal/its/wire"
	xglog "github.com/ManuGH/itsd/internal/log"
)

// Response tags of the sensor and vibrator commands.
const (
	TagSensorEventsStarted = "sensorEventsStarted"
	TagSensorEventsStopped = "sensorEventsStopped"
	TagSensorEvents        = "sensorEvents"
	TagVibrationStarted    = "vibrationStarted"
)

func (c *conn) startSensorEvents(_ context.Context, _ map[string]any) error {
	if c.recorder == nil {
		return deviceError(ErrNoSensors)
	}
	// Recording outlives the command, so it is bound to the connection.
	if err := c.recorder.Start(c.ctx); err != nil {
		return deviceError(fmt.Errorf("start sensors: %w", err))
	}
	c.s.writer.Send(TagSensorEventsStarted, "", nil)
	return nil
}

func (c *conn) stopSensorEvents(_ context.Context, _ map[string]any) error {
	if c.recorder == nil {
		return deviceError(ErrNoSensors)
	}
	c.recorder.Stop()
	c.s.writer.Send(TagSensorEventsStopped, "", nil)
	return nil
}

// sensorEvents returns and clears the buffered events.
func (c *conn) sensorEvents(_ context.Context, _ map[string]any) error {
	if c.recorder == nil {
		return deviceError(ErrNoSensors)
	}
	events, dropped := c.recorder.Drain()
	if dropped > 0 {
		c.logger.Warn().
			Str(xglog.FieldEvent, "its.sensor_events_dropped").
			Int("dropped", dropped).
			Msg("sensor buffer overflowed since last read")
	}
	c.s.writer.Send(TagSensorEvents, "", events)
	return nil
}

func (c *conn) vibrate(ctx context.Context, params map[string]any) error {
	if c.s.opts.Vibrator == nil {
		return deviceError(ErrNoVibrator)
	}
	raw, _, err := wire.Array(params, "pattern")
	if err != nil {
		return protocolError(err)
	}
	pattern := make([]int64, 0, len(raw))
	for i, v := range raw {
		ms, err := wire.AsInt(v)
		if err != nil {
			return protocolError(fmt.Errorf("pattern[%d]: %w", i, err))
		}
		if ms < 0 {
			return protocolError(fmt.Errorf("pattern[%d]: negative duration %d", i, ms))
		}
		pattern = append(pattern, ms)
	}
	if err := c.s.opts.Vibrator.Vibrate(ctx, pattern); err != nil {
		return deviceError(fmt.Errorf("vibrate: %w", err))
	}
	c.s.writer.Send(TagVibrationStarted, "", nil)
	return nil
}
