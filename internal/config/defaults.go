// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Default returns the built-in configuration: the harness on :6000, an ops
// server on :9090 and the simulated camera stack with no explicit cameras.
func Default() AppConfig {
	return AppConfig{
		LogLevel: "info",
		Harness: HarnessConfig{
			ListenAddr:       ":6000",
			MaxLineBytes:     1 << 20,
			QuotaMultiplier:  3,
			AcceptRetryRate:  10,
			SensorEventLimit: 1024,
		},
		Timeouts: TimeoutsConfig{
			Callback:      10 * time.Second,
			ThreeA:        10 * time.Second,
			Warmup:        2 * time.Second,
			CaptureResult: 2 * time.Second,
			SessionIdle:   2 * time.Second,
			SessionClose:  3 * time.Second,
			ReprocessItem: 10 * time.Second,
		},
		Ops: OpsConfig{
			ListenAddr: ":9090",
			RateLimit:  120,
		},
		Tracing: TracingConfig{
			Exporter:    ExporterGRPC,
			Endpoint:    "localhost:4317",
			SampleRate:  1.0,
			Environment: "production",
		},
		Device: DeviceConfig{
			Driver:            DriverSim,
			FrameInterval:     10 * time.Millisecond,
			ConvergenceFrames: 3,
		},
		Archive: ArchiveConfig{
			QueueSize: 16,
		},
	}
}
