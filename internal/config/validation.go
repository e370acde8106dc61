// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"

	"github.com/ManuGH/itsd/internal/validate"
)

// Validate checks a resolved configuration and reports every problem at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	if _, err := validate.ParseLogLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		v.AddError("logLevel", "must be one of debug, info, warn, error", cfg.LogLevel)
	}

	v.ListenAddr("harness.listenAddr", cfg.Harness.ListenAddr)
	v.Range("harness.maxLineBytes", cfg.Harness.MaxLineBytes, 1024, 64<<20)
	v.Range("harness.quotaMultiplier", cfg.Harness.QuotaMultiplier, 1, 16)
	if cfg.Harness.AcceptRetryRate <= 0 {
		v.AddError("harness.acceptRetryRate", "must be positive", cfg.Harness.AcceptRetryRate)
	}
	v.Positive("harness.sensorEventLimit", cfg.Harness.SensorEventLimit)

	t := cfg.Timeouts
	v.PositiveDuration("timeouts.callback", t.Callback)
	v.PositiveDuration("timeouts.threeA", t.ThreeA)
	v.PositiveDuration("timeouts.warmup", t.Warmup)
	v.PositiveDuration("timeouts.captureResult", t.CaptureResult)
	v.PositiveDuration("timeouts.sessionIdle", t.SessionIdle)
	v.PositiveDuration("timeouts.sessionClose", t.SessionClose)
	v.PositiveDuration("timeouts.reprocessItem", t.ReprocessItem)

	if cfg.Ops.ListenAddr != "" {
		v.ListenAddr("ops.listenAddr", cfg.Ops.ListenAddr)
		if cfg.Ops.ListenAddr == cfg.Harness.ListenAddr {
			v.AddError("ops.listenAddr", "must differ from harness.listenAddr", cfg.Ops.ListenAddr)
		}
	}
	v.NonNegative("ops.rateLimit", cfg.Ops.RateLimit)

	v.RangeFloat("tracing.sampleRate", cfg.Tracing.SampleRate, 0, 1)
	if cfg.Tracing.Enabled {
		v.OneOf("tracing.exporter", cfg.Tracing.Exporter, []string{ExporterGRPC, ExporterHTTP})
		v.HostPort("tracing.endpoint", cfg.Tracing.Endpoint)
	}

	validateDevice(v, cfg.Device)

	v.Directory("archive.dir", cfg.Archive.Dir)
	v.NonNegative("archive.queueSize", cfg.Archive.QueueSize)

	return v.Err()
}

func validateDevice(v *validate.Validator, d DeviceConfig) {
	v.OneOf("device.driver", d.Driver, []string{DriverSim})
	v.PositiveDuration("device.frameInterval", d.FrameInterval)
	v.Range("device.convergenceFrames", d.ConvergenceFrames, 1, 1000)

	seen := make(map[string]bool, len(d.Cameras))
	for i, c := range d.Cameras {
		field := fmt.Sprintf("device.cameras[%d]", i)
		v.NotEmpty(field+".id", c.ID)
		if seen[c.ID] {
			v.AddError(field+".id", "duplicate camera id", c.ID)
		}
		seen[c.ID] = true
		v.OneOf(field+".hardwareLevel", c.HardwareLevel, HardwareLevels)
		if len(c.YUVSizes) == 0 {
			v.AddError(field+".yuvSizes", "at least one YUV size is required", c.YUVSizes)
		}
		for name, sizes := range map[string][]Size{"yuvSizes": c.YUVSizes, "jpegSizes": c.JPEGSizes, "rawSizes": c.RawSizes} {
			for j, s := range sizes {
				validateSize(v, fmt.Sprintf("%s.%s[%d]", field, name, j), s)
			}
		}
		if c.ActiveArray != (Size{}) {
			validateSize(v, field+".activeArray", c.ActiveArray)
		}
		v.NonNegative(field+".convergeFrames", c.ConvergeFrames)
	}
}

// validateSize requires even dimensions so YUV 4:2:0 planes divide cleanly.
func validateSize(v *validate.Validator, field string, s Size) {
	if s.Width <= 0 || s.Height <= 0 || s.Width%2 != 0 || s.Height%2 != 0 {
		v.AddError(field, fmt.Sprintf("size must be positive and even, got %dx%d", s.Width, s.Height), s)
	}
}
