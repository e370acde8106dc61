// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/itsd/internal/its/batch"
	"github.com/ManuGH/itsd/internal/its/device"
	"github.com/ManuGH/itsd/internal/its/reprocess"
	"github.com/ManuGH/itsd/internal/its/wire"
	xglog "github.com/ManuGH/itsd/internal/log"
	"github.com/ManuGH/itsd/internal/metrics"
	"github.com/ManuGH/itsd/internal/telemetry"
)

var reprocessFormats = map[string]device.Format{
	"yuv":     device.FormatYUV420,
	"private": device.FormatPrivate,
}

// doCapture runs one batch of still captures. Background requests, when
// given, repeat on an extra stream that is never reported and warm the
// pipeline up before the first real capture.
func (c *conn) doCapture(ctx context.Context, params map[string]any) error {
	if err := c.requireCamera(); err != nil {
		return err
	}
	reqs, err := c.requestList(params, "captureRequests")
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return protocolError(errors.New("no capture requests"))
	}
	bg, err := c.requestList(params, "repeatRequests")
	if err != nil {
		return err
	}
	rawSurfaces, _, err := wire.Array(params, "outputSurfaces")
	if err != nil {
		return protocolError(err)
	}
	surfaces, err := parseSurfaces(rawSurfaces, c.chars, len(bg) > 0)
	if err != nil {
		return err
	}

	sess, err := c.camera.CreateSession(ctx, streams(surfaces), c.newCallbacks(ctx, surfaces))
	if err != nil {
		return deviceError(fmt.Errorf("create capture session: %w", err))
	}
	defer c.closeSession(ctx, sess)
	defer c.tracker.Disarm()

	if len(bg) > 0 {
		bgID := surfaces[len(surfaces)-1].stream.ID
		for _, r := range bg {
			r.Targets = []int{bgID}
		}
		if err := sess.SetRepeating(ctx, bg); err != nil {
			return deviceError(fmt.Errorf("start background requests: %w", err))
		}
		defer func() { _ = sess.StopRepeating() }()
		if err := sleep(ctx, c.s.Timeouts().Warmup); err != nil {
			return err
		}
	}

	ids, maxExposure := prepareBatch(reqs, surfaces)
	c.arm(ctx, len(reqs), ids)
	for i, r := range reqs {
		r.Targets = ids
		if err := sess.Submit(ctx, r); err != nil {
			return deviceError(fmt.Errorf("submit capture %d: %w", i, err))
		}
	}
	return c.awaitBatch(ctx, maxExposure)
}

// doReprocessCapture captures one input frame per request and reprocesses
// each into the output surfaces. Only the reprocessed frames are reported.
func (c *conn) doReprocessCapture(ctx context.Context, params map[string]any) error {
	if err := c.requireCamera(); err != nil {
		return err
	}
	name, _, err := wire.String(params, "reprocessFormat")
	if err != nil {
		return protocolError(err)
	}
	f, ok := reprocessFormats[name]
	if !ok {
		return protocolError(fmt.Errorf("unsupported reprocess format %q", name))
	}
	inSizes := c.chars.InputSizes(f)
	if len(inSizes) == 0 {
		return deviceError(fmt.Errorf("%w: no %s reprocess input", device.ErrUnsupportedStream, f))
	}

	reqs, err := c.requestList(params, "captureRequests")
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return protocolError(errors.New("no capture requests"))
	}
	rawSurfaces, _, err := wire.Array(params, "outputSurfaces")
	if err != nil {
		return protocolError(err)
	}
	surfaces, err := parseSurfaces(rawSurfaces, c.chars, false)
	if err != nil {
		return err
	}

	// The input frames come from an output of the same format and size when
	// one was requested, otherwise from an extra unreported stream.
	input := device.StreamConfig{ID: len(surfaces), Format: f, Size: inSizes[0]}
	configs := streams(surfaces)
	shared := false
	for _, s := range surfaces {
		if s.stream.Format == input.Format && s.stream.Size == input.Size {
			input.ID, shared = s.stream.ID, true
			break
		}
	}
	if !shared {
		configs = append(configs, input)
	}

	cb := c.newCallbacks(ctx, surfaces)
	sess, err := c.camera.CreateReprocessSession(ctx, input, configs, cb)
	if err != nil {
		return deviceError(fmt.Errorf("create reprocess session: %w", err))
	}
	defer c.closeSession(ctx, sess)
	defer c.tracker.Disarm()

	ids, maxExposure := prepareBatch(reqs, surfaces)
	pipe := reprocess.New(sess, input.ID, ids, c.s.Timeouts().ReprocessItem)
	cb.reproc.Store(pipe)
	defer cb.reproc.Store(nil)

	if err := pipe.Run(ctx, reqs, func() { c.arm(ctx, len(reqs), ids) }); err != nil {
		return err
	}
	return c.awaitBatch(ctx, maxExposure)
}

// requestList decodes an array of capture requests, each starting from the
// still capture template.
func (c *conn) requestList(params map[string]any, key string) ([]*device.Request, error) {
	raw, _, err := wire.Array(params, key)
	if err != nil {
		return nil, protocolError(err)
	}
	reqs := make([]*device.Request, 0, len(raw))
	for i, v := range raw {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, protocolError(fmt.Errorf("%s[%d]: expected object, got %T", key, i, v))
		}
		req := c.camera.NewRequest(device.TemplateStill)
		if err := c.s.opts.Metadata.FromWire(obj, req); err != nil {
			return nil, protocolError(fmt.Errorf("%s[%d]: %w", key, i, err))
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// prepareBatch applies per-batch request settings and returns the reported
// stream IDs and the longest requested exposure.
func prepareBatch(reqs []*device.Request, surfaces []surface) ([]int, time.Duration) {
	dng := false
	for _, s := range surfaces {
		if s.kind == kindDNG {
			dng = true
		}
	}
	var maxExposure int64
	for _, r := range reqs {
		if dng {
			r.Set(device.KeyLensShadingMapMode, device.LensShadingMapModeOn)
		}
		if v, ok := r.Settings.Int(device.KeySensorExposureTime); ok && v > maxExposure {
			maxExposure = v
		}
	}
	return countable(surfaces), time.Duration(maxExposure)
}

func (c *conn) arm(ctx context.Context, requests int, ids []int) {
	id := c.tracker.Arm(requests, len(ids))
	expected := batch.Expected(requests, len(ids))
	trace.SpanFromContext(ctx).SetAttributes(telemetry.BatchAttributes(id, requests, len(ids), expected)...)
	logger := xglog.WithContext(ctx, c.logger)
	logger.Debug().
		Str(xglog.FieldEvent, "its.batch_started").
		Str(xglog.FieldBatchID, id).
		Int("expected", expected).
		Msg("capture batch started")
}

// awaitBatch waits for the armed batch. The rolling timeout is extended by
// the longest exposure so long captures do not trip it.
func (c *conn) awaitBatch(ctx context.Context, maxExposure time.Duration) error {
	if err := c.tracker.AwaitZero(ctx, c.s.Timeouts().Callback+maxExposure); err != nil {
		var te *batch.TimeoutError
		if errors.As(err, &te) {
			metrics.BatchTimeoutsTotal.Inc()
		}
		return err
	}
	if err := c.tracker.Err(); err != nil {
		return resourceError(err)
	}
	return nil
}

func (c *conn) closeSession(ctx context.Context, sess device.Session) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.s.Timeouts().SessionClose)
	defer cancel()
	if err := sess.Close(cctx); err != nil {
		logger := xglog.WithContext(ctx, c.logger)
		logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "its.session_close_failed").
			Msg("closing capture session failed")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
