// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/itsd/internal/config"
	xglog "github.com/ManuGH/itsd/internal/log"
)

// App owns the long-lived runtime lifecycle (config watcher, reload wiring)
// and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	holder       *config.Holder
	harness      Harness
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. holder and harness may be nil,
// which disables hot reload.
func NewApp(logger zerolog.Logger, manager Manager, holder *config.Holder, harness Harness) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		holder:       holder,
		harness:      harness,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.holder != nil {
		applyCh := make(chan config.AppConfig, 1)
		a.holder.RegisterListener(applyCh)
		current := a.holder.Get()

		// The watcher is best-effort: the daemon keeps running without it.
		g.Go(func() error {
			if err := a.holder.Watch(ctx); err != nil {
				a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
			}
			return nil
		})

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case next := <-applyCh:
					a.apply(current, next)
					current = next
				}
			}
		})

		if a.reloadSignal != nil {
			g.Go(func() error {
				hupChan := make(chan os.Signal, 1)
				signal.Notify(hupChan, a.reloadSignal)
				defer signal.Stop(hupChan)

				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hupChan:
						a.logger.Info().
							Str(xglog.FieldEvent, "config.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading config")

						if err := a.holder.Reload(ctx); err != nil {
							a.logger.Warn().
								Err(err).
								Str(xglog.FieldEvent, "config.reload_failed").
								Msg("config reload failed")
						}
					}
				}
			})
		}
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// apply pushes the runtime-tunable parts of a reloaded config into the
// running daemon. Everything else waits for a restart.
func (a *App) apply(prev, next config.AppConfig) {
	summary := config.Diff(prev, next)

	if next.LogLevel != prev.LogLevel {
		if err := xglog.SetLevel(strings.ToLower(next.LogLevel)); err != nil {
			a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.log_level_invalid").Msg("cannot apply log level")
		}
	}
	if next.Timeouts != prev.Timeouts && a.harness != nil {
		a.harness.SetTimeouts(harnessTimeouts(next.Timeouts))
	}

	if summary.RestartRequired {
		var pending []string
		for _, f := range summary.ChangedFields {
			if !config.HotReloadable(f) {
				pending = append(pending, f)
			}
		}
		a.logger.Warn().
			Str(xglog.FieldEvent, "config.restart_required").
			Strs("fields", pending).
			Msg("configuration changes take effect after restart")
	}
}
