// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/itsd/internal/its/device"
	"github.com/ManuGH/itsd/internal/its/threea"
	"github.com/ManuGH/itsd/internal/its/wire"
	"github.com/ManuGH/itsd/internal/metrics"
	"github.com/ManuGH/itsd/internal/telemetry"
)

// do3A converges the requested controls on a preview stream of the largest
// YUV size. Regions are normalized to the active pixel array.
func (c *conn) do3A(ctx context.Context, params map[string]any) error {
	if err := c.requireCamera(); err != nil {
		return err
	}
	p, err := threeAParams(params, c.chars)
	if err != nil {
		return err
	}

	size, ok := c.chars.MaxOutputSize(device.FormatYUV420)
	if !ok {
		return deviceError(fmt.Errorf("%w: no yuv output sizes", device.ErrUnsupportedStream))
	}
	cb := c.newCallbacks(ctx, nil)
	cb.threeA = true
	sess, err := c.camera.CreateSession(ctx, []device.StreamConfig{{ID: 0, Format: device.FormatYUV420, Size: size}}, cb)
	if err != nil {
		return deviceError(fmt.Errorf("create 3A session: %w", err))
	}
	defer c.closeSession(ctx, sess)

	cam := c.camera
	newRequest := func() *device.Request {
		req := cam.NewRequest(device.TemplatePreview)
		req.Targets = []int{0}
		return req
	}
	st, n, err := c.engine.Run(ctx, sess, newRequest, p)
	metrics.RecordThreeA(err == nil, n)
	trace.SpanFromContext(ctx).SetAttributes(telemetry.ThreeAAttributes(n, string(st.Phase(p)))...)
	return err
}

func threeAParams(params map[string]any, chars device.Metadata) (threea.Params, error) {
	p := threea.Params{FixedFocus: threea.FixedFocus(chars)}

	area := activeArray(chars)
	regions, _, err := wire.Object(params, "regions")
	if err != nil {
		return p, protocolError(err)
	}
	for _, r := range []struct {
		key string
		dst *[]device.MeteringRect
	}{
		{"ae", &p.RegionsAE},
		{"af", &p.RegionsAF},
		{"awb", &p.RegionsAWB},
	} {
		norm, err := floats(regions, r.key)
		if err != nil {
			return p, protocolError(err)
		}
		rects, err := threea.Regions(norm, area)
		if err != nil {
			return p, protocolError(fmt.Errorf("%s regions: %w", r.key, err))
		}
		*r.dst = rects
	}

	triggers, _, err := wire.Object(params, "triggers")
	if err != nil {
		return p, protocolError(err)
	}
	if p.DoAE, err = wire.Bool(triggers, "ae", true); err != nil {
		return p, protocolError(err)
	}
	if p.DoAF, err = wire.Bool(triggers, "af", true); err != nil {
		return p, protocolError(err)
	}
	if p.LockAE, err = wire.Bool(params, "aeLock", false); err != nil {
		return p, protocolError(err)
	}
	if p.LockAWB, err = wire.Bool(params, "awbLock", false); err != nil {
		return p, protocolError(err)
	}
	ev, err := wire.Int(params, "evComp", 0)
	if err != nil {
		return p, protocolError(err)
	}
	p.EVComp = int32(ev)
	return p, nil
}

// activeArray returns the size regions are scaled to: the active pixel
// array, or the largest YUV size when the device does not report one.
func activeArray(chars device.Metadata) device.Size {
	if r, ok := chars[device.KeySensorActiveArraySize].(device.Rect); ok && r.Right > r.Left && r.Bottom > r.Top {
		return device.Size{Width: int(r.Right - r.Left), Height: int(r.Bottom - r.Top)}
	}
	s, _ := chars.MaxOutputSize(device.FormatYUV420)
	return s
}

// floats reads an optional array of numbers.
func floats(obj map[string]any, key string) ([]float64, error) {
	raw, _, err := wire.Array(obj, key)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(raw))
	for i, v := range raw {
		f, err := wire.AsFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		out = append(out, f)
	}
	return out, nil
}
