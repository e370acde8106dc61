// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import "fmt"

// Format is a pixel format code. Values match the camera HAL image format
// constants so they round-trip through stream configuration metadata.
type Format int

const (
	FormatRawSensor Format = 0x20
	FormatPrivate   Format = 0x22
	FormatYUV420    Format = 0x23
	FormatRaw10     Format = 0x25
	FormatRaw12     Format = 0x26
	FormatJPEG      Format = 0x100
)

func (f Format) String() string {
	switch f {
	case FormatRawSensor:
		return "raw"
	case FormatPrivate:
		return "private"
	case FormatYUV420:
		return "yuv"
	case FormatRaw10:
		return "raw10"
	case FormatRaw12:
		return "raw12"
	case FormatJPEG:
		return "jpeg"
	default:
		return fmt.Sprintf("format(0x%x)", int(f))
	}
}

// Size is a width/height pair in pixels.
type Size struct {
	Width  int
	Height int
}

// Area returns the pixel count.
func (s Size) Area() int { return s.Width * s.Height }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// StreamConfig describes one configured output (or reprocess input) stream.
type StreamConfig struct {
	ID     int
	Format Format
	Size   Size
}

// StreamConfiguration is one entry of the stream configuration map a device
// advertises in its characteristics.
type StreamConfiguration struct {
	Format Format
	Size   Size
	Input  bool
}
