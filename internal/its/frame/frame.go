// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package frame turns device buffers into the byte payloads sent to the
// client: tightly packed pixel data, raw statistics grids and DNG-style
// raw containers.
package frame

import (
	"errors"
	"fmt"

	"github.com/ManuGH/itsd/internal/its/device"
)

var (
	// ErrUnsupportedFormat is returned for formats that cannot be read back.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrShortPlane is returned when a plane holds less data than its
	// geometry requires.
	ErrShortPlane = errors.New("plane data shorter than geometry")
)

// Tag returns the response tag a format is delivered under.
func Tag(f device.Format) (string, error) {
	switch f {
	case device.FormatJPEG:
		return "jpegImage", nil
	case device.FormatYUV420:
		return "yuvImage", nil
	case device.FormatRaw10:
		return "raw10Image", nil
	case device.FormatRaw12:
		return "raw12Image", nil
	case device.FormatRawSensor:
		return "rawImage", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
}

// PackedSize returns the payload length of a frame of format f and size s.
// JPEG frames are variable length and report 0.
func PackedSize(f device.Format, s device.Size) int {
	switch f {
	case device.FormatYUV420:
		return s.Width*s.Height + 2*((s.Width/2)*(s.Height/2))
	case device.FormatRawSensor:
		return s.Width * s.Height * 2
	case device.FormatRaw10:
		return s.Width * s.Height * 5 / 4
	case device.FormatRaw12:
		return s.Width * s.Height * 3 / 2
	default:
		return 0
	}
}

// PayloadSize returns the number of bytes Pack will produce for b.
func PayloadSize(b *device.Buffer) int {
	if b.Format == device.FormatJPEG {
		if len(b.Planes) == 0 {
			return 0
		}
		return len(b.Planes[0].Data)
	}
	return PackedSize(b.Format, b.Size)
}

// Pack copies the pixel data of b into a contiguous slice, dropping row
// padding and interleaving. YUV frames are emitted as planar Y, U, V.
func Pack(b *device.Buffer) ([]byte, error) {
	w, h := b.Size.Width, b.Size.Height
	switch b.Format {
	case device.FormatJPEG:
		if len(b.Planes) != 1 {
			return nil, fmt.Errorf("jpeg frame has %d planes", len(b.Planes))
		}
		return append([]byte(nil), b.Planes[0].Data...), nil
	case device.FormatYUV420:
		if len(b.Planes) != 3 {
			return nil, fmt.Errorf("yuv frame has %d planes", len(b.Planes))
		}
		out := make([]byte, 0, PackedSize(b.Format, b.Size))
		var err error
		if out, err = appendPlane(out, b.Planes[0], w, h); err != nil {
			return nil, fmt.Errorf("y plane: %w", err)
		}
		for i, name := range []string{"u", "v"} {
			if out, err = appendPlane(out, b.Planes[i+1], w/2, h/2); err != nil {
				return nil, fmt.Errorf("%s plane: %w", name, err)
			}
		}
		return out, nil
	case device.FormatRawSensor, device.FormatRaw10, device.FormatRaw12:
		if len(b.Planes) != 1 {
			return nil, fmt.Errorf("raw frame has %d planes", len(b.Planes))
		}
		rowBytes := PackedSize(b.Format, device.Size{Width: w, Height: 1})
		return appendRows(nil, b.Planes[0], rowBytes, h)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, b.Format)
	}
}

// appendPlane copies a w x h plane of one byte samples.
func appendPlane(dst []byte, p device.Plane, w, h int) ([]byte, error) {
	ps := max(p.PixelStride, 1)
	if ps == 1 {
		return appendRows(dst, p, w, h)
	}
	rs := p.RowStride
	if rs == 0 {
		rs = w * ps
	}
	if h > 0 && (h-1)*rs+(w-1)*ps+1 > len(p.Data) {
		return nil, ErrShortPlane
	}
	for y := range h {
		row := p.Data[y*rs:]
		for x := range w {
			dst = append(dst, row[x*ps])
		}
	}
	return dst, nil
}

// appendRows copies h rows of rowBytes each.
func appendRows(dst []byte, p device.Plane, rowBytes, h int) ([]byte, error) {
	rs := p.RowStride
	if rs == 0 {
		rs = rowBytes
	}
	if h > 0 && (h-1)*rs+rowBytes > len(p.Data) {
		return nil, ErrShortPlane
	}
	if rs == rowBytes {
		return append(dst, p.Data[:rowBytes*h]...), nil
	}
	for y := range h {
		dst = append(dst, p.Data[y*rs:y*rs+rowBytes]...)
	}
	return dst, nil
}
