// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the fully resolved daemon configuration.
type AppConfig struct {
	// Version is set from the binary, never from the file.
	Version string `yaml:"-"`

	LogLevel string         `yaml:"logLevel"`
	Harness  HarnessConfig  `yaml:"harness"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Ops      OpsConfig      `yaml:"ops"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Device   DeviceConfig   `yaml:"device"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// HarnessConfig configures the command socket.
type HarnessConfig struct {
	ListenAddr      string  `yaml:"listenAddr"`
	MaxLineBytes    int     `yaml:"maxLineBytes"`
	QuotaMultiplier int     `yaml:"quotaMultiplier"`
	AcceptRetryRate float64 `yaml:"acceptRetryRate"`
	// SensorEventLimit caps buffered events per sensor between polls.
	SensorEventLimit int `yaml:"sensorEventLimit"`
}

// TimeoutsConfig holds the per-operation waits. All of them can be changed
// at runtime.
type TimeoutsConfig struct {
	Callback      time.Duration `yaml:"callback"`
	ThreeA        time.Duration `yaml:"threeA"`
	Warmup        time.Duration `yaml:"warmup"`
	CaptureResult time.Duration `yaml:"captureResult"`
	SessionIdle   time.Duration `yaml:"sessionIdle"`
	SessionClose  time.Duration `yaml:"sessionClose"`
	ReprocessItem time.Duration `yaml:"reprocessItem"`
}

// OpsConfig configures the HTTP endpoint for metrics and health.
type OpsConfig struct {
	// ListenAddr disables the ops server when empty.
	ListenAddr string `yaml:"listenAddr"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sampleRate"`
	Environment string  `yaml:"environment"`
}

// DeviceConfig selects and configures the camera stack.
type DeviceConfig struct {
	Driver        string        `yaml:"driver"`
	FrameInterval time.Duration `yaml:"frameInterval"`
	// ConvergenceFrames applies to simulated cameras that leave it unset.
	ConvergenceFrames int            `yaml:"convergenceFrames"`
	Cameras           []CameraConfig `yaml:"cameras"`
}

// CameraConfig describes one simulated camera.
type CameraConfig struct {
	ID               string  `yaml:"id"`
	HardwareLevel    string  `yaml:"hardwareLevel"`
	ActiveArray      Size    `yaml:"activeArray"`
	YUVSizes         []Size  `yaml:"yuvSizes"`
	JPEGSizes        []Size  `yaml:"jpegSizes"`
	RawSizes         []Size  `yaml:"rawSizes"`
	MinFocusDistance float32 `yaml:"minFocusDistance"`
	ConvergeFrames   int     `yaml:"convergeFrames"`
}

// Size is a width and height in pixels.
type Size struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// ArchiveConfig configures the on-disk payload archive.
type ArchiveConfig struct {
	// Dir disables archiving when empty.
	Dir       string `yaml:"dir"`
	QueueSize int    `yaml:"queueSize"`
}

// Device drivers.
const (
	DriverSim = "sim"
)

// Trace exporters.
const (
	ExporterGRPC = "grpc"
	ExporterHTTP = "http"
)

// Hardware levels accepted for simulated cameras.
var HardwareLevels = []string{"limited", "full", "legacy", "level3"}
