// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package server implements the harness socket service: it accepts one
// client at a time, reads newline-delimited commands, drives the capture
// device and streams metadata and image frames back in order.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ManuGH/itsd/internal/its/serializer"
	"github.com/ManuGH/itsd/internal/its/writer"
	xglog "github.com/ManuGH/itsd/internal/log"
	"github.com/ManuGH/itsd/internal/metrics"
)

const readBufferSize = 64 << 10

// Server owns the response writer, the metadata serializer and the state of
// the single active connection.
type Server struct {
	opts Options

	writer *writer.Writer
	ser    *serializer.Worker

	// connMu is held for a connection's whole life so the next one only
	// attaches once the previous teardown has finished.
	connMu sync.Mutex

	timeouts  atomic.Pointer[Timeouts]
	active    atomic.Pointer[conn]
	listening atomic.Bool
	served    atomic.Bool

	logger zerolog.Logger
}

// New validates opts and returns a server. Serve must be called to accept
// connections.
func New(opts Options) (*Server, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid server options: %w", err)
	}
	opts = opts.withDefaults()

	var wopts []writer.Option
	if opts.Sink != nil {
		wopts = append(wopts, writer.WithSink(opts.Sink))
	}
	w := writer.New(wopts...)
	s := &Server{
		opts:   opts,
		writer: w,
		ser:    serializer.New(w),
		logger: xglog.WithComponent("its"),
	}
	t := opts.Timeouts
	s.timeouts.Store(&t)
	return s, nil
}

// Timeouts returns the timeouts currently in effect.
func (s *Server) Timeouts() Timeouts { return *s.timeouts.Load() }

// SetTimeouts replaces the handler timeouts. Commands already waiting keep
// the values they started with.
func (s *Server) SetTimeouts(t Timeouts) {
	t = t.withDefaults()
	s.timeouts.Store(&t)
	if c := s.active.Load(); c != nil {
		c.engine.SetTimeout(t.ThreeA)
	}
	s.logger.Info().
		Str(xglog.FieldEvent, "its.timeouts_updated").
		Dur("callback", t.Callback).
		Dur("threea", t.ThreeA).
		Msg("harness timeouts updated")
}

// Listening reports whether Serve is accepting connections.
func (s *Server) Listening() bool { return s.listening.Load() }

// Connected reports whether a client is attached.
func (s *Server) Connected() bool { return s.active.Load() != nil }

// Serve accepts connections on ln until ctx is done. Connections are served
// one at a time; further clients wait in the listener backlog. Serve may only
// be called once per Server.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.served.CompareAndSwap(false, true) {
		return errors.New("server already served")
	}
	ln = netutil.LimitListener(ln, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return quiet(s.writer.Run(gctx)) })
	g.Go(func() error { return quiet(s.ser.Run(gctx)) })
	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		return nil
	})
	g.Go(func() error { return s.acceptLoop(gctx, ln) })
	return g.Wait()
}

// quiet maps the errors of an orderly shutdown to nil.
func quiet(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, writer.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	s.listening.Store(true)
	defer s.listening.Store(false)

	s.logger.Info().
		Str(xglog.FieldEvent, "its.listening").
		Str(xglog.FieldListenAddr, ln.Addr().String()).
		Msg("harness listening")

	retry := rate.NewLimiter(rate.Limit(s.opts.AcceptRetryRate), 1)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn().
				Err(err).
				Str(xglog.FieldEvent, "its.accept_failed").
				Msg("accept failed, retrying")
			if werr := retry.Wait(ctx); werr != nil {
				return nil
			}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, nc)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	c := newConn(s, nc.RemoteAddr().String())
	ctx = xglog.ContextWithConnID(ctx, c.id)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.ctx = ctx

	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	defer stop()

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionActive.Set(1)
	s.active.Store(c)
	s.writer.Attach(nc, c.id, func(error) { cancel() })
	c.logger.Info().
		Str(xglog.FieldEvent, "its.conn_accepted").
		Str(xglog.FieldRemoteAddr, c.remote).
		Msg("harness client connected")

	defer func() {
		s.writer.Detach()
		c.teardown()
		if n := s.ser.Reset(); n > 0 {
			c.logger.Debug().
				Str(xglog.FieldEvent, "its.pending_frames_discarded").
				Int("frames", n).
				Msg("discarded metadata frames of closed connection")
		}
		_ = nc.Close()
		s.active.CompareAndSwap(c, nil)
		metrics.ConnectionActive.Set(0)
		c.logger.Info().
			Str(xglog.FieldEvent, "its.conn_closed").
			Str(xglog.FieldRemoteAddr, c.remote).
			Msg("harness client disconnected")
	}()

	c.readLoop(ctx, bufio.NewReaderSize(nc, readBufferSize))
}

// readLine returns the next newline-terminated line without its terminator.
// Lines longer than limit are consumed and reported as ErrLineTooLong. A
// final line without terminator is returned before io.EOF.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit+1 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case err == nil:
			if tooLong {
				return nil, ErrLineTooLong
			}
			return line[:len(line)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0 && !tooLong:
			return line, nil
		default:
			return nil, err
		}
	}
}
