// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"fmt"

	"github.com/ManuGH/itsd/internal/its/device"
	"github.com/ManuGH/itsd/internal/its/frame"
	"github.com/ManuGH/itsd/internal/its/wire"
)

// Output kinds as requested by the client.
const (
	kindYUV      = "yuv"
	kindJPEG     = "jpeg"
	kindRaw      = "raw"
	kindRaw10    = "raw10"
	kindRaw12    = "raw12"
	kindDNG      = "dng"
	kindRawStats = "rawStats"
)

// BackgroundSize is the size of the warm-up stream.
var BackgroundSize = device.Size{Width: 640, Height: 480}

var surfaceFormats = map[string]struct {
	kind   string
	format device.Format
}{
	"":         {kindYUV, device.FormatYUV420},
	"yuv":      {kindYUV, device.FormatYUV420},
	"jpg":      {kindJPEG, device.FormatJPEG},
	"jpeg":     {kindJPEG, device.FormatJPEG},
	"raw":      {kindRaw, device.FormatRawSensor},
	"raw10":    {kindRaw10, device.FormatRaw10},
	"raw12":    {kindRaw12, device.FormatRaw12},
	"dng":      {kindDNG, device.FormatRawSensor},
	"rawStats": {kindRawStats, device.FormatRawSensor},
}

// surface is one configured output stream of a capture session.
type surface struct {
	kind   string
	stream device.StreamConfig

	// rawStats cell size in pixels.
	cellW, cellH int

	background bool
}

// tag returns the response tag of frames delivered on the surface.
func (s surface) tag() (string, error) {
	switch s.kind {
	case kindDNG:
		return "dngImage", nil
	case kindRawStats:
		return "rawStatsImage", nil
	}
	return frame.Tag(s.stream.Format)
}

// describe returns the entry of the surface in a captureResults outputs list.
// Statistics report their grid dimensions instead of the frame size.
func (s surface) describe() map[string]any {
	w, h := s.stream.Size.Width, s.stream.Size.Height
	if s.kind == kindRawStats {
		w, h = w/s.cellW, h/s.cellH
	}
	return map[string]any{"width": w, "height": h, "format": s.kind}
}

// parseSurfaces reads the outputSurfaces parameter. An empty list selects a
// single YUV stream of the largest size. Stream IDs follow list order; the
// background stream, if any, is appended last.
func parseSurfaces(raw []any, chars device.Metadata, background bool) ([]surface, error) {
	var out []surface
	if len(raw) == 0 {
		size, ok := chars.MaxOutputSize(device.FormatYUV420)
		if !ok {
			return nil, deviceError(fmt.Errorf("%w: no yuv output sizes", device.ErrUnsupportedStream))
		}
		out = append(out, surface{kind: kindYUV, stream: device.StreamConfig{Format: device.FormatYUV420, Size: size}})
	}
	for i, v := range raw {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, protocolError(fmt.Errorf("output surface %d: expected object, got %T", i, v))
		}
		s, err := parseSurface(obj, chars)
		if err != nil {
			return nil, annotate(err, fmt.Sprintf("output surface %d", i))
		}
		out = append(out, s)
	}
	if background {
		out = append(out, surface{
			kind:       kindYUV,
			stream:     device.StreamConfig{Format: device.FormatYUV420, Size: BackgroundSize},
			background: true,
		})
	}
	if len(out) > MaxOutputSurfaces {
		return nil, protocolError(fmt.Errorf("%w: %d requested, at most %d", ErrTooManySurfaces, len(out), MaxOutputSurfaces))
	}
	for i := range out {
		out[i].stream.ID = i
	}
	return out, nil
}

func parseSurface(obj map[string]any, chars device.Metadata) (surface, error) {
	name, _, err := wire.String(obj, "format")
	if err != nil {
		return surface{}, protocolError(err)
	}
	f, ok := surfaceFormats[name]
	if !ok {
		return surface{}, protocolError(fmt.Errorf("unsupported output format %q", name))
	}
	s := surface{kind: f.kind, stream: device.StreamConfig{Format: f.format}}

	w, err := wire.Int(obj, "width", 0)
	if err != nil {
		return surface{}, protocolError(err)
	}
	h, err := wire.Int(obj, "height", 0)
	if err != nil {
		return surface{}, protocolError(err)
	}
	if w <= 0 || h <= 0 {
		largest, ok := chars.MaxOutputSize(f.format)
		if !ok {
			return surface{}, deviceError(fmt.Errorf("%w: no %s output sizes", device.ErrUnsupportedStream, f.format))
		}
		if w <= 0 {
			w = int64(largest.Width)
		}
		if h <= 0 {
			h = int64(largest.Height)
		}
	}
	s.stream.Size = device.Size{Width: int(w), Height: int(h)}

	if s.kind == kindRawStats {
		gw, err := wire.Int(obj, "gridWidth", w)
		if err != nil {
			return surface{}, protocolError(err)
		}
		gh, err := wire.Int(obj, "gridHeight", h)
		if err != nil {
			return surface{}, protocolError(err)
		}
		if _, _, _, err := frame.StatsGrid(s.stream.Size, int(gw), int(gh)); err != nil {
			return surface{}, protocolError(err)
		}
		s.cellW, s.cellH = int(gw), int(gh)
	}
	return s, nil
}

// streams returns the device configuration of the surfaces.
func streams(surfaces []surface) []device.StreamConfig {
	out := make([]device.StreamConfig, len(surfaces))
	for i, s := range surfaces {
		out[i] = s.stream
	}
	return out
}

// countable returns the IDs of the surfaces whose frames are reported.
func countable(surfaces []surface) []int {
	var ids []int
	for _, s := range surfaces {
		if !s.background {
			ids = append(ids, s.stream.ID)
		}
	}
	return ids
}
