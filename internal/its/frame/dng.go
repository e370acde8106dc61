// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/tiff"

	"github.com/ManuGH/itsd/internal/its/device"
)

const defaultWhiteLevel = 1023

// Levels returns the black and white levels that apply to a raw frame,
// preferring the per-frame values of the result over the static
// characteristics.
func Levels(chars device.Metadata, result *device.Result) (black, white float64) {
	white = defaultWhiteLevel
	if v, ok := chars.Int(device.KeySensorWhiteLevel); ok && v > 0 {
		white = float64(v)
	}
	if pattern, ok := chars[device.KeySensorBlackLevelPattern].([]int32); ok && len(pattern) > 0 {
		black = meanInt(pattern)
	}
	if result == nil {
		return black, white
	}
	if v, ok := result.Metadata.Int(device.KeySensorDynamicWhite); ok && v > 0 {
		white = float64(v)
	}
	if levels, ok := result.Metadata[device.KeySensorBlackLevel].([]float32); ok && len(levels) > 0 {
		var s float64
		for _, l := range levels {
			s += float64(l)
		}
		black = s / float64(len(levels))
	}
	return black, white
}

func meanInt(v []int32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x)
	}
	return s / float64(len(v))
}

// Container wraps a 16-bit raw frame in an uncompressed 16-bit grayscale
// TIFF with samples rescaled from [black, white] to the full range. The
// levels, exposure time and sensitivity of the frame are recorded as extra
// tags (see TagBlackLevel and friends).
func Container(b *device.Buffer, chars device.Metadata, result *device.Result) ([]byte, error) {
	if b.Format != device.FormatRawSensor {
		return nil, fmt.Errorf("%w: container needs raw frames, got %s", ErrUnsupportedFormat, b.Format)
	}
	pix, err := Pack(b)
	if err != nil {
		return nil, err
	}
	black, white := Levels(chars, result)
	span := white - black
	if span <= 0 {
		return nil, fmt.Errorf("invalid raw levels black=%g white=%g", black, white)
	}

	w, h := b.Size.Width, b.Size.Height
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for i := range w * h {
		v := float64(binary.LittleEndian.Uint16(pix[i*2:]))
		n := math.Round((v - black) / span * math.MaxUint16)
		n = min(max(n, 0), math.MaxUint16)
		// Gray16 stores samples big endian.
		binary.BigEndian.PutUint16(img.Pix[i*2:], uint16(n))
	}

	var buf bytes.Buffer
	buf.Grow(len(img.Pix) + 512)
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Uncompressed}); err != nil {
		return nil, fmt.Errorf("encode container: %w", err)
	}
	out, err := appendEntries(buf.Bytes(), resultEntries(result, black, white))
	if err != nil {
		return nil, fmt.Errorf("tag container: %w", err)
	}
	return out, nil
}
