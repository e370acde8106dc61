// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/itsd/internal/config"
	"github.com/ManuGH/itsd/internal/its/server"
	"github.com/ManuGH/itsd/internal/log"
)

func reserveListenAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitForListen(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.New("listen timeout")
}

// recorder collects lifecycle events in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeHarness struct {
	rec       *recorder
	serveErr  error
	listening atomic.Bool
	mu        sync.Mutex
	timeouts  []server.Timeouts
}

func (f *fakeHarness) Serve(ctx context.Context, ln net.Listener) error {
	defer func() { _ = ln.Close() }()
	if f.serveErr != nil {
		return f.serveErr
	}
	f.listening.Store(true)
	defer f.listening.Store(false)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	<-ctx.Done()
	if f.rec != nil {
		f.rec.add("harness")
	}
	return nil
}

func (f *fakeHarness) Listening() bool { return f.listening.Load() }
func (f *fakeHarness) Connected() bool { return false }

func (f *fakeHarness) SetTimeouts(t server.Timeouts) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, t)
}

type fakeArchive struct {
	rec *recorder
}

func (a *fakeArchive) Run(ctx context.Context) error {
	<-ctx.Done()
	a.rec.add("archive")
	return nil
}

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Harness.ListenAddr = reserveListenAddr(t)
	cfg.Ops.ListenAddr = reserveListenAddr(t)
	return cfg
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Deps{Logger: zerolog.Nop(), Harness: &fakeHarness{}})
	assert.ErrorIs(t, err, ErrMissingLogger)

	_, err = NewManager(Deps{Logger: log.WithComponent("test")})
	assert.ErrorIs(t, err, ErrMissingHarness)

	mgr, err := NewManager(Deps{Logger: log.WithComponent("test"), Harness: &fakeHarness{}})
	require.NoError(t, err)
	assert.ErrorIs(t, mgr.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestManager_StartAndShutdownOrder(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig(t)
	h := &fakeHarness{rec: rec}
	mgr, err := NewManager(Deps{
		Logger:     log.WithComponent("test"),
		Config:     cfg,
		Harness:    h,
		OpsHandler: http.NotFoundHandler(),
		Archive:    &fakeArchive{rec: rec},
	})
	require.NoError(t, err)
	mgr.RegisterShutdownHook("first", func(context.Context) error { rec.add("hook:first"); return nil })
	mgr.RegisterShutdownHook("second", func(context.Context) error { rec.add("hook:second"); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()

	require.NoError(t, waitForListen(cfg.Harness.ListenAddr, 2*time.Second))
	require.NoError(t, waitForListen(cfg.Ops.ListenAddr, 2*time.Second))
	assert.True(t, h.Listening())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}

	assert.Equal(t, []string{"harness", "archive", "hook:second", "hook:first"}, rec.list())
	assert.NoError(t, mgr.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestManager_StartTwice(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ops.ListenAddr = ""
	mgr, err := NewManager(Deps{Logger: log.WithComponent("test"), Config: cfg, Harness: &fakeHarness{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()
	require.NoError(t, waitForListen(cfg.Harness.ListenAddr, 2*time.Second))

	assert.Error(t, mgr.Start(ctx))
	cancel()
	require.NoError(t, <-done)
}

func TestManager_HarnessFailureShutsDown(t *testing.T) {
	cfg := testConfig(t)
	serveErr := errors.New("boom")
	hookRan := false
	mgr, err := NewManager(Deps{
		Logger:     log.WithComponent("test"),
		Config:     cfg,
		Harness:    &fakeHarness{serveErr: serveErr},
		OpsHandler: http.NotFoundHandler(),
	})
	require.NoError(t, err)
	mgr.RegisterShutdownHook("cleanup", func(context.Context) error { hookRan = true; return nil })

	err = mgr.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, serveErr)
	assert.True(t, hookRan)
}

func TestManager_ListenFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = busy.Close() }()

	cfg := testConfig(t)
	cfg.Ops.ListenAddr = busy.Addr().String()
	mgr, err := NewManager(Deps{
		Logger:     log.WithComponent("test"),
		Config:     cfg,
		Harness:    &fakeHarness{},
		OpsHandler: http.NotFoundHandler(),
	})
	require.NoError(t, err)

	err = mgr.Start(context.Background())
	assert.ErrorIs(t, err, ErrServerStartFailed)

	// The harness listener was released.
	ln, err := net.Listen("tcp", cfg.Harness.ListenAddr)
	require.NoError(t, err)
	_ = ln.Close()
}

func TestManager_HookErrorsAreJoined(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ops.ListenAddr = ""
	mgr, err := NewManager(Deps{Logger: log.WithComponent("test"), Config: cfg, Harness: &fakeHarness{}})
	require.NoError(t, err)
	hookErr := errors.New("flush failed")
	mgr.RegisterShutdownHook("flush", func(context.Context) error { return hookErr })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()
	require.NoError(t, waitForListen(cfg.Harness.ListenAddr, 2*time.Second))
	cancel()

	err = <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, hookErr)
	assert.Contains(t, err.Error(), "hook flush")
}
