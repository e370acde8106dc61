// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"runtime/debug"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/itsd/internal/its/batch"
	"github.com/ManuGH/itsd/internal/its/device"
	"github.com/ManuGH/itsd/internal/its/metadata"
	"github.com/ManuGH/itsd/internal/its/quota"
	"github.com/ManuGH/itsd/internal/its/sensor"
	"github.com/ManuGH/itsd/internal/its/threea"
	"github.com/ManuGH/itsd/internal/its/wire"
	xglog "github.com/ManuGH/itsd/internal/log"
	"github.com/ManuGH/itsd/internal/metrics"
	"github.com/ManuGH/itsd/internal/telemetry"
)

// conn is the state of one client connection. Handlers run sequentially on
// the read loop goroutine, so camera state needs no locking; device
// callbacks only see the values captured when their session was created.
type conn struct {
	s      *Server
	id     string
	remote string
	ctx    context.Context

	tracker  *batch.Tracker
	engine   *threea.Engine
	recorder *sensor.Recorder

	camera device.Device
	chars  device.Metadata
	gate   *quota.Gate

	logger zerolog.Logger
}

func newConn(s *Server, remote string) *conn {
	id := uuid.NewString()
	c := &conn{
		s:       s,
		id:      id,
		remote:  remote,
		tracker: batch.New(),
		engine:  threea.New(s.writer, s.Timeouts().ThreeA),
		logger:  s.logger.With().Str(xglog.FieldConnID, id).Logger(),
	}
	if s.opts.Sensors != nil {
		c.recorder = sensor.NewRecorder(s.opts.Sensors, s.opts.SensorEventLimit)
	}
	return c
}

// handler is one command. params lists the accepted parameter names; any
// other key is rejected. trailer, when set, is sent after the command
// whether or not it succeeded.
type handler struct {
	run     func(c *conn, ctx context.Context, params map[string]any) error
	params  []string
	trailer string
}

var handlers = map[string]handler{
	"open":                {run: (*conn).open, params: []string{"cameraId"}},
	"close":               {run: (*conn).close},
	"getCameraProperties": {run: (*conn).cameraProperties},
	"getCameraIds":        {run: (*conn).cameraIDs},
	"startSensorEvents":   {run: (*conn).startSensorEvents},
	"stopSensorEvents":    {run: (*conn).stopSensorEvents},
	"getSensorEvents":     {run: (*conn).sensorEvents},
	"doVibrate":           {run: (*conn).vibrate, params: []string{"pattern"}},
	"do3A": {
		run:     (*conn).do3A,
		params:  []string{"regions", "triggers", "aeLock", "awbLock", "evComp"},
		trailer: threea.TagDone,
	},
	"doCapture": {
		run:    (*conn).doCapture,
		params: []string{"captureRequests", "repeatRequests", "outputSurfaces"},
	},
	"doReprocessCapture": {
		run:    (*conn).doReprocessCapture,
		params: []string{"captureRequests", "outputSurfaces", "reprocessFormat"},
	},
}

// Commands returns the names of every supported command.
func Commands() []string {
	return slices.Sorted(maps.Keys(handlers))
}

func (c *conn) readLoop(ctx context.Context, r *bufio.Reader) {
	for {
		line, err := readLine(r, c.s.opts.MaxLineBytes)
		switch {
		case errors.Is(err, ErrLineTooLong):
			c.fail(ctx, nil, "", protocolError(fmt.Errorf("%w: limit is %d bytes", ErrLineTooLong, c.s.opts.MaxLineBytes)))
			continue
		case err != nil:
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				c.logger.Warn().
					Err(err).
					Str(xglog.FieldEvent, "its.read_failed").
					Msg("reading from harness client failed")
			}
			return
		}

		cmd, err := wire.ParseCommand(line)
		switch {
		case errors.Is(err, wire.ErrEmptyFrame):
			continue
		case err != nil:
			c.fail(ctx, nil, "", protocolError(err))
			continue
		}
		c.dispatch(ctx, cmd)
		if ctx.Err() != nil {
			return
		}
	}
}

// dispatch runs one command inside its span and reports its outcome.
func (c *conn) dispatch(ctx context.Context, cmd wire.Command) {
	start := time.Now()
	h, known := handlers[cmd.Name]

	spanName, label := "its."+cmd.Name, cmd.Name
	if !known {
		spanName, label = "its.unknown", ""
	}
	ctx, span := telemetry.Tracer(telemetry.TracerName).Start(ctx, spanName,
		trace.WithAttributes(telemetry.CommandAttributes(cmd.Name, c.id)...))
	defer span.End()
	ctx = xglog.ContextWithCommand(ctx, cmd.Name)

	var err error
	switch {
	case !known:
		err = protocolError(fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name))
	default:
		if err = checkParams(cmd.Params, h.params); err == nil {
			err = c.call(ctx, h, cmd.Params)
		}
	}

	c.flush(ctx)
	if h.trailer != "" {
		c.s.writer.Send(h.trailer, "", nil)
	}
	if err != nil {
		c.fail(ctx, span, cmd.Name, err)
	} else {
		c.logger.Debug().
			Str(xglog.FieldEvent, "its.command_done").
			Str(xglog.FieldCommand, cmd.Name).
			Dur("duration", time.Since(start)).
			Msg("command completed")
	}
	metrics.ObserveCommand(label, err, time.Since(start))
}

func (c *conn) call(ctx context.Context, h handler, params map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str(xglog.FieldEvent, "its.handler_panic").
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered from handler panic")
			err = deviceError(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h.run(c, ctx, params)
}

// flush waits until every metadata frame queued by the command has been
// handed to the writer, so trailers and errors follow them.
func (c *conn) flush(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, c.s.Timeouts().SessionIdle)
	defer cancel()
	if err := c.s.ser.Flush(fctx); err != nil && ctx.Err() == nil {
		c.logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "its.flush_timeout").
			Msg("metadata frames still queued after command")
	}
}

// fail sends the error frame of a failed command.
func (c *conn) fail(ctx context.Context, span trace.Span, command string, err error) {
	ce := classify(command, err)
	obj := map[string]any{"command": command, "kind": string(ce.Kind)}
	if d := details(ce.Err); d != nil {
		obj["details"] = d
	}
	c.s.writer.Send(TagError, ce.Err.Error(), obj)

	if span != nil {
		span.RecordError(ce.Err)
		span.SetStatus(codes.Error, ce.Err.Error())
		span.SetAttributes(telemetry.ErrorAttributes(string(ce.Kind))...)
	}
	logger := xglog.WithContext(ctx, c.logger)
	logger.Warn().
		Err(ce.Err).
		Str(xglog.FieldEvent, "its.command_failed").
		Str("kind", string(ce.Kind)).
		Msg("command failed")
}

// checkParams rejects keys a command does not accept.
func checkParams(params map[string]any, allowed []string) error {
	var extra []string
	for k := range params {
		if !slices.Contains(allowed, k) {
			extra = append(extra, k)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	slices.Sort(extra)
	return protocolError(&metadata.KeyError{Unknown: extra})
}

// teardown releases everything the connection holds.
func (c *conn) teardown() {
	if c.recorder != nil {
		c.recorder.Stop()
	}
	c.tracker.Disarm()
	c.closeCamera()
}

func (c *conn) requireCamera() error {
	if c.camera == nil {
		return deviceError(ErrCameraNotOpen)
	}
	return nil
}

func (c *conn) closeCamera() {
	if c.camera == nil {
		return
	}
	id := c.camera.ID()
	if err := c.camera.Close(); err != nil {
		c.logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "its.camera_close_failed").
			Str(xglog.FieldCameraID, id).
			Msg("closing camera failed")
	}
	c.camera, c.chars, c.gate = nil, nil, nil
}
