// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ManuGH/itsd/internal/its/device"
	"github.com/ManuGH/itsd/internal/its/frame"
	"github.com/ManuGH/itsd/internal/its/quota"
	"github.com/ManuGH/itsd/internal/its/reprocess"
	"github.com/ManuGH/itsd/internal/its/wire"
	xglog "github.com/ManuGH/itsd/internal/log"
	"github.com/ManuGH/itsd/internal/metrics"
)

// TagCaptureResults is the tag of per-capture metadata frames.
const TagCaptureResults = "captureResults"

// callbacks is the device listener of one session. It routes results to the
// 3A engine or the reprocess pipeline when they claim them and turns
// everything else into response frames counted against the armed batch.
type callbacks struct {
	c   *conn
	ctx context.Context

	// threeA sessions report nothing but engine output.
	threeA bool

	surfaces map[int]surface
	outputs  []map[string]any
	chars    device.Metadata
	gate     *quota.Gate
	cfa      int32

	charsWire func() map[string]any
	reproc    atomic.Pointer[reprocess.Pipeline]

	logger zerolog.Logger
}

var _ device.Listener = (*callbacks)(nil)

func (c *conn) newCallbacks(ctx context.Context, surfaces []surface) *callbacks {
	cb := &callbacks{
		c:        c,
		ctx:      ctx,
		surfaces: make(map[int]surface, len(surfaces)),
		outputs:  make([]map[string]any, 0, len(surfaces)),
		chars:    c.chars,
		gate:     c.gate,
		logger:   xglog.WithComponentFromContext(ctx, "capture"),
	}
	for _, s := range surfaces {
		cb.surfaces[s.stream.ID] = s
		cb.outputs = append(cb.outputs, s.describe())
	}
	if v, ok := c.chars.Int(device.KeySensorColorArrangement); ok {
		cb.cfa = int32(v)
	}
	codec, chars := c.s.opts.Metadata, c.chars
	cb.charsWire = sync.OnceValue(func() map[string]any { return codec.ToWire(chars) })
	return cb
}

func (cb *callbacks) OnResult(r *device.Result) {
	if cb.c.engine.Claim(r) {
		return
	}
	if p := cb.reproc.Load(); p != nil && p.DeliverResult(r) {
		return
	}
	if cb.threeA || cb.backgroundOnly(r.Request) {
		return
	}

	tracker := cb.c.tracker
	if _, err := tracker.AddResult(r); err != nil {
		cb.logger.Debug().
			Err(err).
			Str(xglog.FieldEvent, "capture.result_ignored").
			Int64("frame", r.FrameNumber).
			Msg("result outside of a capture batch")
		return
	}

	codec, outputs := cb.c.s.opts.Metadata, cb.outputs
	err := cb.c.s.ser.Submit(TagCaptureResults, func() (any, error) {
		var settings device.Metadata
		if r.Request != nil {
			settings = r.Request.Settings
		}
		return map[string]any{
			"cameraProperties": cb.charsWire(),
			"captureRequest":   codec.ToWire(settings),
			"captureResult":    codec.ToWire(r.Metadata),
			"outputs":          outputs,
		}, nil
	})
	if err != nil {
		cb.fail(fmt.Errorf("queue capture result: %w", err), TagCaptureResults)
	}
	tracker.SignalOne()
}

func (cb *callbacks) OnBuffer(b *device.Buffer) {
	if p := cb.reproc.Load(); p != nil && p.DeliverBuffer(b) {
		return
	}
	defer b.Close()

	s, ok := cb.surfaces[b.Stream]
	if !ok || s.background {
		return
	}
	tracker := cb.c.tracker
	if !tracker.Armed() {
		cb.logger.Debug().
			Str(xglog.FieldEvent, "capture.buffer_ignored").
			Int(xglog.FieldStream, b.Stream).
			Msg("frame outside of a capture batch")
		return
	}
	if err := cb.deliver(s, b); err != nil {
		tag, _ := s.tag()
		cb.fail(err, tag)
	}
	tracker.SignalOne()
}

func (cb *callbacks) OnFailure(req *device.Request, err error) {
	metrics.CaptureFailuresTotal.Inc()
	var targets []int
	if req != nil {
		targets = req.Targets
	}
	cb.logger.Warn().
		Err(err).
		Str(xglog.FieldEvent, "capture.failed").
		Ints("targets", targets).
		Msg("device reported a capture failure")
}

// fail drops a frame that could not be produced. The batch still counts the
// callback so it can complete; the failure is reported once it does.
func (cb *callbacks) fail(err error, tag string) {
	metrics.IncFrameDrop(metrics.DropResource)
	cb.c.tracker.RecordFailure(err)
	cb.logger.Warn().
		Err(err).
		Str(xglog.FieldEvent, "capture.frame_dropped").
		Str(xglog.FieldTag, tag).
		Msg("dropping frame")
}

func (cb *callbacks) backgroundOnly(req *device.Request) bool {
	if req == nil || len(req.Targets) == 0 {
		return false
	}
	for _, id := range req.Targets {
		if s, ok := cb.surfaces[id]; !ok || !s.background {
			return false
		}
	}
	return true
}

// deliver turns b into a binary frame and hands it to the writer. Quota is
// held from before the payload exists until the writer has sent it.
func (cb *callbacks) deliver(s surface, b *device.Buffer) error {
	ctx := cb.ctx
	frames := cb.c.s.opts.Frames
	tag, err := s.tag()
	if err != nil {
		return err
	}

	var (
		payload []byte
		res     *quota.Reservation
	)
	switch s.kind {
	case kindDNG:
		i := cb.c.tracker.Next("dng/" + strconv.Itoa(b.Stream))
		r, err := cb.c.tracker.WaitResult(ctx, i, cb.c.s.Timeouts().CaptureResult)
		if err != nil {
			return err
		}
		if payload, err = frames.Container(cb.chars, r, b); err != nil {
			return fmt.Errorf("build dng: %w", err)
		}
		if res, err = cb.gate.Acquire(ctx, int64(len(payload))); err != nil {
			return err
		}
	case kindRawStats:
		if res, err = cb.gate.Acquire(ctx, int64(frame.PayloadSize(b))); err != nil {
			return err
		}
		payload, _, _, err = frames.DerivedStats(b, cb.cfa, s.cellW, s.cellH)
		if err != nil {
			res.Release()
			return fmt.Errorf("compute raw stats: %w", err)
		}
		if res, err = cb.gate.Swap(ctx, res, int64(len(payload))); err != nil {
			return err
		}
	default:
		if res, err = cb.gate.Acquire(ctx, int64(frame.PayloadSize(b))); err != nil {
			return err
		}
		if payload, err = frames.Decode(b); err != nil {
			res.Release()
			return fmt.Errorf("decode %s frame: %w", s.kind, err)
		}
	}

	cb.c.s.writer.Enqueue(wire.Response{Tag: tag, Buf: payload}, res)
	return nil
}
