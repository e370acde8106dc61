// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/itsd/internal/validate"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		fields []string
	}{
		{name: "defaults", mutate: func(*AppConfig) {}},
		{name: "ops disabled", mutate: func(c *AppConfig) { c.Ops.ListenAddr = "" }},
		{
			name:   "log level",
			mutate: func(c *AppConfig) { c.LogLevel = "verbose" },
			fields: []string{"logLevel"},
		},
		{
			name:   "same listen addresses",
			mutate: func(c *AppConfig) { c.Ops.ListenAddr = c.Harness.ListenAddr },
			fields: []string{"ops.listenAddr"},
		},
		{
			name:   "zero timeout",
			mutate: func(c *AppConfig) { c.Timeouts.SessionClose = 0 },
			fields: []string{"timeouts.sessionClose"},
		},
		{
			name: "tracing",
			mutate: func(c *AppConfig) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "zipkin"
				c.Tracing.Endpoint = "collector"
				c.Tracing.SampleRate = 2
			},
			fields: []string{"tracing.sampleRate", "tracing.exporter", "tracing.endpoint"},
		},
		{
			name:   "driver",
			mutate: func(c *AppConfig) { c.Device.Driver = "v4l2" },
			fields: []string{"device.driver"},
		},
		{
			name: "cameras",
			mutate: func(c *AppConfig) {
				c.Device.Cameras = []CameraConfig{
					{ID: "0", HardwareLevel: "full", YUVSizes: []Size{{Width: 640, Height: 480}}},
					{ID: "0", HardwareLevel: "ultra", YUVSizes: []Size{{Width: 641, Height: 480}}},
				}
			},
			fields: []string{"device.cameras[1].id", "device.cameras[1].hardwareLevel", "device.cameras[1].yuvSizes[0]"},
		},
		{
			name:   "archive traversal",
			mutate: func(c *AppConfig) { c.Archive.Dir = "../elsewhere" },
			fields: []string{"archive.dir"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if len(tt.fields) == 0 {
				require.NoError(t, err)
				return
			}
			var ve validate.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			var got []string
			for _, e := range ve.Errors() {
				got = append(got, e.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}
