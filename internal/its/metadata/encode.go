// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metadata maps device metadata records to and from their JSON
// wire form.
package metadata

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/itsd/internal/its/device"
	xglog "github.com/ManuGH/itsd/internal/log"
)

// SkippedKey describes an entry left out of an encoded record.
type SkippedKey struct {
	Key    string
	Reason string
}

// Encode converts md into a JSON-ready object. Entries that are empty or of
// a type with no wire mapping are skipped and reported; the rest of the
// record is still encoded.
func Encode(md device.Metadata) (map[string]any, []SkippedKey) {
	out := make(map[string]any, len(md))
	var skipped []SkippedKey
	for _, k := range md.Keys() {
		v, err := encodeValue(md[k])
		if err != nil {
			skipped = append(skipped, SkippedKey{Key: k, Reason: err.Error()})
			continue
		}
		out[k] = v
	}
	return out, skipped
}

// EncodeLogged is Encode with skipped entries logged at debug level.
func EncodeLogged(md device.Metadata, logger zerolog.Logger) map[string]any {
	out, skipped := Encode(md)
	for _, s := range skipped {
		logger.Debug().
			Str(xglog.FieldEvent, "metadata.key_skipped").
			Str("key", s.Key).
			Str("reason", s.Reason).
			Msg("metadata entry not serialized")
	}
	return out
}

// EncodeRequest returns the wire object of a request's settings.
func EncodeRequest(req *device.Request, logger zerolog.Logger) map[string]any {
	if req == nil {
		return map[string]any{}
	}
	return EncodeLogged(req.Settings, logger)
}

func encodeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, fmt.Errorf("empty value")
	case bool, string, int, int32, int64, float32, float64:
		return x, nil
	case uint8:
		return int32(x), nil
	case []bool, []int32, []int64, []float32, []float64, []string:
		return x, nil
	case []uint8:
		// Keep byte arrays numeric instead of letting encoding/json base64 them.
		out := make([]int32, len(x))
		for i, b := range x {
			out[i] = int32(b)
		}
		return out, nil
	case device.Rational:
		return rational(x), nil
	case []device.Rational:
		return mapSlice(x, rational), nil
	case device.ColorTransform:
		return mapSlice(x[:], rational), nil
	case device.Size:
		return size(x), nil
	case []device.Size:
		return mapSlice(x, size), nil
	case device.Rect:
		return rect(x), nil
	case []device.Rect:
		return mapSlice(x, rect), nil
	case device.MeteringRect:
		return meteringRect(x), nil
	case []device.MeteringRect:
		return mapSlice(x, meteringRect), nil
	case device.RggbGains:
		return []float32{x.Red, x.GreenEven, x.GreenOdd, x.Blue}, nil
	case device.IntRange:
		return []int32{x.Lower, x.Upper}, nil
	case []device.IntRange:
		return mapSlice(x, func(r device.IntRange) []int32 { return []int32{r.Lower, r.Upper} }), nil
	case []device.StreamConfiguration:
		return map[string]any{"availableStreamConfigurations": mapSlice(x, streamConfig)}, nil
	case device.Format:
		return int32(x), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func mapSlice[T, U any](in []T, f func(T) U) []U {
	out := make([]U, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}

func rational(r device.Rational) map[string]any {
	return map[string]any{"numerator": r.Numerator, "denominator": r.Denominator}
}

func size(s device.Size) map[string]any {
	return map[string]any{"width": s.Width, "height": s.Height}
}

func rect(r device.Rect) map[string]any {
	return map[string]any{"left": r.Left, "right": r.Right, "top": r.Top, "bottom": r.Bottom}
}

func meteringRect(r device.MeteringRect) map[string]any {
	return map[string]any{"x": r.X, "y": r.Y, "width": r.Width, "height": r.Height, "weight": r.Weight}
}

func streamConfig(c device.StreamConfiguration) map[string]any {
	return map[string]any{
		"format": int32(c.Format),
		"width":  c.Size.Width,
		"height": c.Size.Height,
		"input":  c.Input,
	}
}
