// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/itsd/internal/config"
	xglog "github.com/ManuGH/itsd/internal/log"
)

// DefaultShutdownTimeout bounds graceful shutdown of all servers and hooks.
const DefaultShutdownTimeout = 15 * time.Second

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Manager manages the daemon lifecycle: starting servers, handling shutdown.
type Manager interface {
	// Start starts all configured servers and blocks until shutdown
	Start(ctx context.Context) error

	// Shutdown gracefully shuts down all servers
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook registers a function to be called during shutdown
	RegisterShutdownHook(name string, hook ShutdownHook)
}

type manager struct {
	cfg  config.AppConfig
	deps Deps

	opsServer *http.Server

	stopHarness context.CancelFunc
	harnessDone chan struct{}
	stopArchive context.CancelFunc
	archiveDone chan struct{}

	shutdownHooks []namedHook

	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

// namedHook represents a shutdown hook with a name for logging
type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager creates a new daemon manager with the given dependencies.
func NewManager(deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	return &manager{
		cfg:           deps.Config,
		deps:          deps,
		logger:        deps.Logger.With().Str(xglog.FieldComponent, "manager").Logger(),
		shutdownHooks: make([]namedHook, 0),
	}, nil
}

// Start binds the harness and ops listeners, runs them and blocks until ctx
// is cancelled or a server fails.
func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str(xglog.FieldEvent, "daemon.starting").
		Str("harness_addr", m.cfg.Harness.ListenAddr).
		Str("ops_addr", m.cfg.Ops.ListenAddr).
		Msg("starting daemon manager")

	harnessLn, err := net.Listen("tcp", m.cfg.Harness.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: harness listener: %w", ErrServerStartFailed, err)
	}
	var opsLn net.Listener
	if m.deps.OpsHandler != nil && m.cfg.Ops.ListenAddr != "" {
		opsLn, err = net.Listen("tcp", m.cfg.Ops.ListenAddr)
		if err != nil {
			_ = harnessLn.Close()
			return fmt.Errorf("%w: ops listener: %w", ErrServerStartFailed, err)
		}
	}

	errChan := make(chan error, 2)

	// Background work is detached from ctx; Shutdown stops it in order.
	base := context.WithoutCancel(ctx)

	if m.deps.Archive != nil {
		actx, cancel := context.WithCancel(base)
		done := make(chan struct{})
		m.mu.Lock()
		m.stopArchive, m.archiveDone = cancel, done
		m.mu.Unlock()
		go func() {
			defer close(done)
			if err := m.deps.Archive.Run(actx); err != nil {
				m.logger.Error().Err(err).Str(xglog.FieldEvent, "archive.failed").Msg("payload archive stopped")
			}
		}()
	}

	hctx, cancel := context.WithCancel(base)
	harnessDone := make(chan struct{})
	m.mu.Lock()
	m.stopHarness, m.harnessDone = cancel, harnessDone
	m.mu.Unlock()
	go func() {
		defer close(harnessDone)
		if err := m.deps.Harness.Serve(hctx, harnessLn); err != nil {
			m.logger.Error().
				Err(err).
				Str(xglog.FieldEvent, "harness.server.failed").
				Msg("harness server failed")
			errChan <- fmt.Errorf("harness server: %w", err)
		}
	}()

	if opsLn != nil {
		m.startOpsServer(opsLn, errChan)
	}

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Msg("server error, initiating shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("server error and shutdown failure: %w", errors.Join(err, shutdownErr))
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Str(xglog.FieldEvent, "daemon.signal").Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	}
}

func (m *manager) startOpsServer(ln net.Listener, errChan chan<- error) {
	srv := &http.Server{
		Handler:           m.deps.OpsHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	m.mu.Lock()
	m.opsServer = srv
	m.mu.Unlock()

	go func() {
		m.logger.Info().
			Str(xglog.FieldListenAddr, ln.Addr().String()).
			Msg("ops server listening")

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().
				Err(err).
				Str(xglog.FieldEvent, "ops.server.failed").
				Msg("ops server failed")
			errChan <- fmt.Errorf("ops server: %w", err)
		}
	}()
}

// Shutdown stops the ops server, then the harness, then the archive, and
// finally runs the shutdown hooks.
func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	m.mu.Unlock()

	m.logger.Info().Msg("shutting down daemon manager")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()

	var errs []error

	if m.opsServer != nil {
		m.logger.Debug().Msg("shutting down ops server")
		if err := m.opsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("ops server shutdown: %w", err))
		}
	}

	if err := stopAndWait(shutdownCtx, m.stopHarness, m.harnessDone); err != nil {
		errs = append(errs, fmt.Errorf("harness shutdown: %w", err))
	}
	if err := stopAndWait(shutdownCtx, m.stopArchive, m.archiveDone); err != nil {
		errs = append(errs, fmt.Errorf("archive shutdown: %w", err))
	}

	m.logger.Debug().Int("hooks", len(m.shutdownHooks)).Msg("executing shutdown hooks")
	for i := len(m.shutdownHooks) - 1; i >= 0; i-- {
		hook := m.shutdownHooks[i]

		hookStart := time.Now()
		if err := hook.hook(shutdownCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
		} else {
			m.logger.Debug().
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook completed")
		}
	}

	if len(errs) > 0 {
		m.logger.Error().
			Int("error_count", len(errs)).
			Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	m.logger.Info().Str(xglog.FieldEvent, "daemon.stopped").Msg("daemon manager stopped cleanly")
	return nil
}

func stopAndWait(ctx context.Context, stop context.CancelFunc, done <-chan struct{}) error {
	if stop == nil {
		return nil
	}
	stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterShutdownHook registers a cleanup function to be called during shutdown.
// Hooks are executed in reverse registration order (LIFO).
func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHooks = append(m.shutdownHooks, namedHook{
		name: name,
		hook: hook,
	})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}
