// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the harness, its collaborators and the ops endpoint
// together and owns their lifecycle.
package daemon

import (
	"context"
	"fmt"

	"github.com/ManuGH/itsd/internal/config"
	"github.com/ManuGH/itsd/internal/health"
	"github.com/ManuGH/itsd/internal/its/archive"
	"github.com/ManuGH/itsd/internal/its/device"
	"github.com/ManuGH/itsd/internal/its/device/sim"
	"github.com/ManuGH/itsd/internal/its/frame"
	"github.com/ManuGH/itsd/internal/its/metadata"
	"github.com/ManuGH/itsd/internal/its/server"
	xglog "github.com/ManuGH/itsd/internal/log"
	"github.com/ManuGH/itsd/internal/telemetry"
)

// ServiceName identifies the daemon in logs and traces.
const ServiceName = "itsd"

var hardwareLevels = map[string]int32{
	"limited": device.HardwareLevelLimited,
	"full":    device.HardwareLevelFull,
	"legacy":  device.HardwareLevelLegacy,
	"level3":  device.HardwareLevel3,
}

// Bootstrap builds the daemon from a validated configuration. holder may be
// nil to run without hot reload.
func Bootstrap(ctx context.Context, cfg config.AppConfig, holder *config.Holder) (*App, error) {
	logger := xglog.WithComponent("daemon")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Tracing.Environment,
		ExporterType:   cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	devices, sensors, vibrator, err := newDevice(cfg.Device)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	opts := server.Options{
		Manager:          devices,
		Frames:           frame.Codec{},
		Metadata:         metadata.Codec{Logger: xglog.WithComponent("metadata")},
		Sensors:          sensors,
		Vibrator:         vibrator,
		MaxLineBytes:     cfg.Harness.MaxLineBytes,
		QuotaMultiplier:  cfg.Harness.QuotaMultiplier,
		AcceptRetryRate:  cfg.Harness.AcceptRetryRate,
		SensorEventLimit: cfg.Harness.SensorEventLimit,
		Timeouts:         harnessTimeouts(cfg.Timeouts),
	}

	var arch *archive.Archive
	if cfg.Archive.Dir != "" {
		arch, err = archive.New(cfg.Archive.Dir, cfg.Archive.QueueSize)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("init archive: %w", err)
		}
		opts.Sink = arch
	}

	srv, err := server.New(opts)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("init harness: %w", err)
	}

	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewListenerChecker(srv.Listening, srv.Connected))
	hm.RegisterChecker(health.NewDeviceChecker(devices, 0))

	deps := Deps{
		Logger:     logger,
		Config:     cfg,
		Harness:    srv,
		OpsHandler: NewOpsHandler(hm, cfg.Ops.RateLimit),
	}
	if arch != nil {
		deps.Archive = arch
	}

	mgr, err := NewManager(deps)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	if sensors != nil {
		mgr.RegisterShutdownHook("sensors", func(context.Context) error {
			sensors.Stop()
			return nil
		})
	}

	logger.Info().
		Str(xglog.FieldEvent, "daemon.bootstrapped").
		Str("driver", cfg.Device.Driver).
		Bool("archive", arch != nil).
		Bool("tracing", cfg.Tracing.Enabled).
		Msg("daemon initialized")

	return NewApp(logger, mgr, holder, srv), nil
}

// newDevice builds the camera stack for the configured driver.
func newDevice(d config.DeviceConfig) (device.Manager, *sim.Sensors, *sim.Vibrator, error) {
	switch d.Driver {
	case config.DriverSim:
		m, err := sim.NewManager(simConfig(d))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init simulated device: %w", err)
		}
		return m, sim.NewSensors(sim.DefaultSensorInterval), sim.NewVibrator(), nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, d.Driver)
	}
}

// simConfig maps the configured cameras onto the simulator. Without any,
// the simulator's default cameras are used.
func simConfig(d config.DeviceConfig) sim.Config {
	cfg := sim.DefaultConfig()
	if d.FrameInterval > 0 {
		cfg.FrameInterval = d.FrameInterval
	}
	if len(d.Cameras) > 0 {
		cfg.Cameras = make([]sim.CameraSpec, 0, len(d.Cameras))
		for _, c := range d.Cameras {
			spec := sim.CameraSpec{
				ID:               c.ID,
				HardwareLevel:    hardwareLevels[c.HardwareLevel],
				ActiveArray:      deviceSize(c.ActiveArray),
				YUVSizes:         deviceSizes(c.YUVSizes),
				JPEGSizes:        deviceSizes(c.JPEGSizes),
				RawSizes:         deviceSizes(c.RawSizes),
				MinFocusDistance: c.MinFocusDistance,
				ConvergeFrames:   c.ConvergeFrames,
			}
			if spec.ActiveArray == (device.Size{}) && len(spec.YUVSizes) > 0 {
				spec.ActiveArray = spec.YUVSizes[0]
			}
			cfg.Cameras = append(cfg.Cameras, spec)
		}
	}
	for i := range cfg.Cameras {
		if cfg.Cameras[i].ConvergeFrames == 0 {
			cfg.Cameras[i].ConvergeFrames = d.ConvergenceFrames
		}
	}
	return cfg
}

func deviceSize(s config.Size) device.Size {
	return device.Size{Width: s.Width, Height: s.Height}
}

func deviceSizes(in []config.Size) []device.Size {
	out := make([]device.Size, 0, len(in))
	for _, s := range in {
		out = append(out, deviceSize(s))
	}
	return out
}
