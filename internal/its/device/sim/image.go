// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sim

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/ManuGH/itsd/internal/its/device"
)

const defaultJPEGQuality = 95

// exposureLevel maps the requested exposure to a mid-grey level in [0, 1].
func exposureLevel(md device.Metadata) float64 {
	sens, _ := md.Int(device.KeySensorSensitivity)
	exp, _ := md.Int(device.KeySensorExposureTime)
	level := 0.18 * float64(sens) * float64(exp) / (100 * 10_000_000)
	return min(max(level, 0), 1)
}

// luma returns the synthetic luminance at x of a frame w pixels wide: the
// exposure level plus a horizontal ramp.
func luma(level float64, x, w int) uint8 {
	v := level*200 + float64(x)*55/float64(max(w, 1))
	return uint8(min(max(v, 0), 255))
}

func synthesize(cfg device.StreamConfig, md device.Metadata, ts int64) (*device.Buffer, error) {
	w, h := cfg.Size.Width, cfg.Size.Height
	level := exposureLevel(md)
	var planes []device.Plane

	switch cfg.Format {
	case device.FormatYUV420:
		y := make([]byte, w*h)
		for row := range h {
			for x := range w {
				y[row*w+x] = luma(level, x, w)
			}
		}
		cw, ch := w/2, h/2
		u := bytes.Repeat([]byte{128}, cw*ch)
		v := bytes.Repeat([]byte{128}, cw*ch)
		planes = []device.Plane{
			{Data: y, RowStride: w, PixelStride: 1},
			{Data: u, RowStride: cw, PixelStride: 1},
			{Data: v, RowStride: cw, PixelStride: 1},
		}
	case device.FormatPrivate:
		planes = []device.Plane{{Data: make([]byte, w*h*3/2)}}
	case device.FormatJPEG:
		data, err := encodeJPEG(w, h, level, md)
		if err != nil {
			return nil, err
		}
		planes = []device.Plane{{Data: data}}
	case device.FormatRawSensor:
		planes = []device.Plane{{Data: rawSensor(w, h, level), RowStride: w * 2, PixelStride: 2}}
	case device.FormatRaw10:
		planes = []device.Plane{{Data: packRaw10(rawSamples(w, h, level), w, h), RowStride: w * 5 / 4}}
	case device.FormatRaw12:
		planes = []device.Plane{{Data: packRaw12(rawSamples(w, h, level), w, h), RowStride: w * 3 / 2}}
	default:
		return nil, fmt.Errorf("%w: %s", device.ErrUnsupportedStream, cfg.Format)
	}
	return device.NewBuffer(cfg.ID, cfg.Format, cfg.Size, planes, ts, nil), nil
}

func encodeJPEG(w, h int, level float64, md device.Metadata) ([]byte, error) {
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	for row := range h {
		for x := range w {
			img.Y[row*img.YStride+x] = luma(level, x, w)
		}
	}
	for i := range img.Cb {
		img.Cb[i] = 128
		img.Cr[i] = 128
	}
	quality := defaultJPEGQuality
	if q, ok := md.Int("android.jpeg.quality"); ok && q > 0 && q <= 100 {
		quality = int(q)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// rawSamples returns RGGB sensor samples between the black and white level.
func rawSamples(w, h int, level float64) []uint16 {
	gains := [4]float64{0.55, 1, 1, 0.6} // R, Gr, Gb, B
	out := make([]uint16, w*h)
	for y := range h {
		for x := range w {
			g := gains[(y&1)*2+(x&1)]
			v := blackLevel + level*g*(whiteLevel-blackLevel)
			out[y*w+x] = uint16(min(v, whiteLevel))
		}
	}
	return out
}

func rawSensor(w, h int, level float64) []byte {
	samples := rawSamples(w, h, level)
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], s)
	}
	return out
}

// packRaw10 packs four 10-bit samples into five bytes: the high 8 bits of
// each, then one byte with the four 2-bit remainders.
func packRaw10(samples []uint16, w, h int) []byte {
	out := make([]byte, 0, w*h*5/4)
	for i := 0; i+3 < len(samples); i += 4 {
		var low byte
		for j := range 4 {
			s := samples[i+j] & 0x3ff
			out = append(out, byte(s>>2))
			low |= byte(s&0x3) << (2 * j)
		}
		out = append(out, low)
	}
	return out
}

// packRaw12 packs two 12-bit samples into three bytes.
func packRaw12(samples []uint16, w, h int) []byte {
	out := make([]byte, 0, w*h*3/2)
	for i := 0; i+1 < len(samples); i += 2 {
		a, b := samples[i]<<2&0xfff, samples[i+1]<<2&0xfff
		out = append(out, byte(a>>4), byte(b>>4), byte(a&0xf)|byte(b&0xf)<<4)
	}
	return out
}
