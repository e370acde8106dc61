// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"context"
	"fmt"

	"github.com/ManuGH/itsd/internal/its/device"
	"github.com/ManuGH/itsd/internal/its/quota"
	"github.com/ManuGH/itsd/internal/its/serializer"
	"github.com/ManuGH/itsd/internal/its/wire"
	xglog "github.com/ManuGH/itsd/internal/log"
)

// Response tags of the camera commands.
const (
	TagCameraOpened     = "cameraOpened"
	TagCameraClosed     = "cameraClosed"
	TagCameraProperties = "cameraProperties"
	TagCameraIDs        = "cameraIds"
)

// open opens the camera at index cameraId of the device list, closing any
// camera already open on this connection.
func (c *conn) open(ctx context.Context, params map[string]any) error {
	idx, err := wire.Int(params, "cameraId", 0)
	if err != nil {
		return protocolError(err)
	}
	ids, err := c.s.opts.Manager.CameraIDs(ctx)
	if err != nil {
		return deviceError(fmt.Errorf("list cameras: %w", err))
	}
	if idx < 0 || idx >= int64(len(ids)) {
		return deviceError(fmt.Errorf("%w: index %d of %d", device.ErrUnknownCamera, idx, len(ids)))
	}
	id := ids[idx]

	c.closeCamera()
	cam, err := c.s.opts.Manager.Open(ctx, id)
	if err != nil {
		return deviceError(fmt.Errorf("open camera %s: %w", id, err))
	}
	chars := cam.Characteristics()
	c.camera, c.chars = cam, chars
	c.gate = quota.New(quotaCapacity(chars, c.s.opts.QuotaMultiplier))

	c.logger.Info().
		Str(xglog.FieldEvent, "its.camera_opened").
		Str(xglog.FieldCameraID, id).
		Int64("quota_bytes", c.gate.Capacity()).
		Msg("camera opened")
	c.s.writer.Send(TagCameraOpened, "", nil)
	return nil
}

// quotaCapacity sizes the payload gate to a few of the largest frames the
// camera produces.
func quotaCapacity(chars device.Metadata, multiplier int) int64 {
	var largest int
	for _, f := range []device.Format{device.FormatYUV420, device.FormatRawSensor, device.FormatJPEG} {
		if s, ok := chars.MaxOutputSize(f); ok {
			largest = max(largest, s.Area()*2)
		}
	}
	if largest == 0 {
		largest = BackgroundSize.Area() * 2
	}
	return int64(largest) * int64(multiplier)
}

func (c *conn) close(_ context.Context, _ map[string]any) error {
	if c.camera != nil {
		c.logger.Info().
			Str(xglog.FieldEvent, "its.camera_closed").
			Str(xglog.FieldCameraID, c.camera.ID()).
			Msg("camera closed")
	}
	c.closeCamera()
	c.s.writer.Send(TagCameraClosed, "", nil)
	return nil
}

func (c *conn) cameraProperties(_ context.Context, _ map[string]any) error {
	if err := c.requireCamera(); err != nil {
		return err
	}
	codec, chars := c.s.opts.Metadata, c.chars
	err := c.s.ser.Submit(TagCameraProperties, func() (any, error) {
		return map[string]any{"cameraProperties": codec.ToWire(chars)}, nil
	})
	if err != nil {
		return deviceError(err)
	}
	return nil
}

// cameraIDs lists the cameras the harness can drive. LEGACY devices are left
// out.
func (c *conn) cameraIDs(ctx context.Context, _ map[string]any) error {
	m := c.s.opts.Manager
	ids, err := m.CameraIDs(ctx)
	if err != nil {
		return deviceError(fmt.Errorf("list cameras: %w", err))
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		chars, err := m.Characteristics(ctx, id)
		if err != nil {
			return deviceError(fmt.Errorf("camera %s characteristics: %w", id, err))
		}
		if lvl, ok := chars.Int(device.KeyHardwareLevel); ok && int32(lvl) == device.HardwareLevelLegacy {
			continue
		}
		out = append(out, id)
	}
	return c.s.ser.Submit(TagCameraIDs, serializer.ObjectFunc(map[string]any{"cameraIdArray": out}))
}
