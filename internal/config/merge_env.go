// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

// Environment variables recognized by the loader.
const (
	// EnvConfigPath names the config file when no -config flag is given.
	EnvConfigPath = "ITSD_CONFIG"

	EnvLogLevel = "ITSD_LOG_LEVEL"

	EnvListenAddr       = "ITSD_LISTEN_ADDR"
	EnvMaxLineBytes     = "ITSD_MAX_LINE_BYTES"
	EnvQuotaMultiplier  = "ITSD_QUOTA_MULTIPLIER"
	EnvAcceptRetryRate  = "ITSD_ACCEPT_RETRY_RATE"
	EnvSensorEventLimit = "ITSD_SENSOR_EVENT_LIMIT"

	EnvTimeoutCallback      = "ITSD_TIMEOUT_CALLBACK"
	EnvTimeoutThreeA        = "ITSD_TIMEOUT_3A"
	EnvTimeoutWarmup        = "ITSD_TIMEOUT_WARMUP"
	EnvTimeoutCaptureResult = "ITSD_TIMEOUT_CAPTURE_RESULT"
	EnvTimeoutSessionIdle   = "ITSD_TIMEOUT_SESSION_IDLE"
	EnvTimeoutSessionClose  = "ITSD_TIMEOUT_SESSION_CLOSE"
	EnvTimeoutReprocessItem = "ITSD_TIMEOUT_REPROCESS_ITEM"

	EnvOpsListenAddr = "ITSD_OPS_LISTEN_ADDR"
	EnvOpsRateLimit  = "ITSD_OPS_RATE_LIMIT"

	EnvTracingEnabled     = "ITSD_TRACING_ENABLED"
	EnvTracingExporter    = "ITSD_TRACING_EXPORTER"
	EnvTracingEndpoint    = "ITSD_TRACING_ENDPOINT"
	EnvTracingSampleRate  = "ITSD_TRACING_SAMPLE_RATE"
	EnvTracingEnvironment = "ITSD_TRACING_ENVIRONMENT"

	EnvDeviceDriver            = "ITSD_DEVICE_DRIVER"
	EnvDeviceFrameInterval     = "ITSD_DEVICE_FRAME_INTERVAL"
	EnvDeviceConvergenceFrames = "ITSD_DEVICE_CONVERGENCE_FRAMES"

	EnvArchiveDir       = "ITSD_ARCHIVE_DIR"
	EnvArchiveQueueSize = "ITSD_ARCHIVE_QUEUE_SIZE"
)

// mergeEnvConfig overrides cfg with any ITSD_* variables that are set.
func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString(EnvLogLevel, cfg.LogLevel)

	h := &cfg.Harness
	h.ListenAddr = l.envString(EnvListenAddr, h.ListenAddr)
	h.MaxLineBytes = l.envInt(EnvMaxLineBytes, h.MaxLineBytes)
	h.QuotaMultiplier = l.envInt(EnvQuotaMultiplier, h.QuotaMultiplier)
	h.AcceptRetryRate = l.envFloat(EnvAcceptRetryRate, h.AcceptRetryRate)
	h.SensorEventLimit = l.envInt(EnvSensorEventLimit, h.SensorEventLimit)

	t := &cfg.Timeouts
	t.Callback = l.envDuration(EnvTimeoutCallback, t.Callback)
	t.ThreeA = l.envDuration(EnvTimeoutThreeA, t.ThreeA)
	t.Warmup = l.envDuration(EnvTimeoutWarmup, t.Warmup)
	t.CaptureResult = l.envDuration(EnvTimeoutCaptureResult, t.CaptureResult)
	t.SessionIdle = l.envDuration(EnvTimeoutSessionIdle, t.SessionIdle)
	t.SessionClose = l.envDuration(EnvTimeoutSessionClose, t.SessionClose)
	t.ReprocessItem = l.envDuration(EnvTimeoutReprocessItem, t.ReprocessItem)

	cfg.Ops.ListenAddr = l.envString(EnvOpsListenAddr, cfg.Ops.ListenAddr)
	cfg.Ops.RateLimit = l.envInt(EnvOpsRateLimit, cfg.Ops.RateLimit)

	tr := &cfg.Tracing
	tr.Enabled = l.envBool(EnvTracingEnabled, tr.Enabled)
	tr.Exporter = l.envString(EnvTracingExporter, tr.Exporter)
	tr.Endpoint = l.envString(EnvTracingEndpoint, tr.Endpoint)
	tr.SampleRate = l.envFloat(EnvTracingSampleRate, tr.SampleRate)
	tr.Environment = l.envString(EnvTracingEnvironment, tr.Environment)

	d := &cfg.Device
	d.Driver = l.envString(EnvDeviceDriver, d.Driver)
	d.FrameInterval = l.envDuration(EnvDeviceFrameInterval, d.FrameInterval)
	d.ConvergenceFrames = l.envInt(EnvDeviceConvergenceFrames, d.ConvergenceFrames)

	cfg.Archive.Dir = l.envString(EnvArchiveDir, cfg.Archive.Dir)
	cfg.Archive.QueueSize = l.envInt(EnvArchiveQueueSize, cfg.Archive.QueueSize)
}
