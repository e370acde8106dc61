// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ManuGH/itsd/internal/config"
	"github.com/ManuGH/itsd/internal/its/server"
)

// Harness is the command socket server the daemon runs.
type Harness interface {
	Serve(ctx context.Context, ln net.Listener) error
	Listening() bool
	Connected() bool
	SetTimeouts(t server.Timeouts)
}

// Runner is a background worker that stops when its context ends.
type Runner interface {
	Run(ctx context.Context) error
}

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// Config is the resolved configuration at startup
	Config config.AppConfig

	// Harness serves the command socket
	Harness Harness

	// OpsHandler serves metrics and health (optional)
	OpsHandler http.Handler

	// Archive persists payloads in the background (optional). It is
	// stopped after the harness so late payloads are still written.
	Archive Runner
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.Harness == nil {
		return ErrMissingHarness
	}
	return nil
}

// harnessTimeouts maps the configured timeouts onto the server's.
func harnessTimeouts(t config.TimeoutsConfig) server.Timeouts {
	return server.Timeouts{
		Callback:      t.Callback,
		ThreeA:        t.ThreeA,
		Warmup:        t.Warmup,
		CaptureResult: t.CaptureResult,
		SessionIdle:   t.SessionIdle,
		SessionClose:  t.SessionClose,
		ReprocessItem: t.ReprocessItem,
	}
}
