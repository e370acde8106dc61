// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package reprocess runs two-phase reprocess captures: every request is first
// captured into an input stream, then each captured frame is fed back to the
// device together with its result to produce the requested outputs.
package reprocess

import (
	"github.com/ManuGH/itsd/internal/its/device"
)

// carriedKeys are overridden during the input phase and restored for the
// reprocess phase.
var carriedKeys = []string{
	device.KeyNoiseReductionMode,
	device.KeyEdgeMode,
	device.KeyReprocessExposureFactor,
}

// Carry holds the caller's values for the carried keys.
type Carry struct {
	values map[string]any
}

// Strip records the carried keys of req, then forces zero-shutter-lag noise
// reduction and edge modes and clears the exposure factor so the input
// capture is taken unprocessed.
func Strip(req *device.Request) Carry {
	c := Carry{values: make(map[string]any, len(carriedKeys))}
	for _, k := range carriedKeys {
		if v, ok := req.Get(k); ok {
			c.values[k] = v
		}
	}
	req.Set(device.KeyNoiseReductionMode, device.NoiseReductionZeroShutterLag)
	req.Set(device.KeyEdgeMode, device.EdgeModeZeroShutterLag)
	req.Delete(device.KeyReprocessExposureFactor)
	return c
}

// Apply writes the recorded values onto req. Keys the caller never set are
// left as the device filled them.
func (c Carry) Apply(req *device.Request) {
	for k, v := range c.values {
		req.Set(k, v)
	}
}

// Has reports whether the caller set key.
func (c Carry) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}
