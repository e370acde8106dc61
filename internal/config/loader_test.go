// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	want := Default()
	want.Version = "v1.2.3"
	assert.Equal(t, want, cfg)
	assert.Equal(t, ":6000", cfg.Harness.ListenAddr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "itsd.yaml", `
logLevel: debug
harness:
  listenAddr: "127.0.0.1:7000"
  quotaMultiplier: 2
timeouts:
  callback: 15s
  warmup: 250ms
device:
  frameInterval: 5ms
  cameras:
    - id: "back"
      hardwareLevel: full
      activeArray: {width: 4000, height: 3000}
      yuvSizes:
        - {width: 1920, height: 1080}
      jpegSizes:
        - {width: 1920, height: 1080}
`)
	cfg, err := NewLoader(path, "test").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:7000", cfg.Harness.ListenAddr)
	assert.Equal(t, 2, cfg.Harness.QuotaMultiplier)
	assert.Equal(t, Default().Harness.MaxLineBytes, cfg.Harness.MaxLineBytes, "unset keys keep defaults")
	assert.Equal(t, 15*time.Second, cfg.Timeouts.Callback)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeouts.Warmup)
	assert.Equal(t, Default().Timeouts.ThreeA, cfg.Timeouts.ThreeA)
	assert.Equal(t, 5*time.Millisecond, cfg.Device.FrameInterval)
	require.Len(t, cfg.Device.Cameras, 1)
	assert.Equal(t, Size{Width: 4000, Height: 3000}, cfg.Device.Cameras[0].ActiveArray)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "itsd.yml", `
harness:
  listenAddr: ":7000"
timeouts:
  threeA: 3s
`)
	t.Setenv(EnvListenAddr, ":7100")
	t.Setenv(EnvTimeoutThreeA, "4s")
	t.Setenv(EnvTracingSampleRate, "0.25")
	t.Setenv(EnvTracingEnabled, "yes")
	t.Setenv(EnvTracingExporter, "http")
	t.Setenv(EnvArchiveDir, "payloads")

	l := NewLoader(path, "test")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, ":7100", cfg.Harness.ListenAddr)
	assert.Equal(t, 4*time.Second, cfg.Timeouts.ThreeA)
	assert.InDelta(t, 0.25, cfg.Tracing.SampleRate, 1e-9)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, ExporterHTTP, cfg.Tracing.Exporter)
	assert.True(t, filepath.IsAbs(cfg.Archive.Dir))
	assert.Equal(t, "payloads", filepath.Base(cfg.Archive.Dir))
	assert.Contains(t, l.ConsumedEnvKeys, EnvListenAddr)
	assert.Contains(t, l.ConsumedEnvKeys, EnvArchiveQueueSize)
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv(EnvMaxLineBytes, "lots")
	t.Setenv(EnvTimeoutWarmup, "soon")

	cfg, err := NewLoader("", "").Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Harness.MaxLineBytes, cfg.Harness.MaxLineBytes)
	assert.Equal(t, Default().Timeouts.Warmup, cfg.Timeouts.Warmup)
}

func TestLoad_StrictFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr error
		msg     string
	}{
		{
			name:    "unknown key",
			file:    "itsd.yaml",
			body:    "harness:\n  port: 6000\n",
			wantErr: ErrUnknownConfigField,
		},
		{
			name:    "json file",
			file:    "itsd.json",
			body:    "{}",
			wantErr: ErrUnsupportedFormat,
		},
		{
			name: "multiple documents",
			file: "itsd.yaml",
			body: "logLevel: info\n---\nlogLevel: debug\n",
			msg:  "multiple documents",
		},
		{
			name: "bad duration",
			file: "itsd.yaml",
			body: "timeouts:\n  callback: forever\n",
			msg:  "strict config parse error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(writeConfig(t, tt.file, tt.body), "").Load()
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "itsd.yaml", "harness:\n  quotaMultiplier: 0\n")
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "harness.quotaMultiplier")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"), "").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
