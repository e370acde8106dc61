// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metadata

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/itsd/internal/its/device"
	"github.com/ManuGH/itsd/internal/its/wire"
	xglog "github.com/ManuGH/itsd/internal/log"
)

type kind int

const (
	kindBool kind = iota
	kindInt32
	kindInt64
	kindFloat
	kindInt32s
	kindFloats
	kindMeteringRects
	kindTransform
	kindGains
	kindRange
)

// requestKeys lists the settings a capture request may carry.
var requestKeys = map[string]kind{
	device.KeyControlMode:                     kindInt32,
	device.KeyControlCaptureIntent:            kindInt32,
	device.KeyControlAEMode:                   kindInt32,
	device.KeyControlAELock:                   kindBool,
	device.KeyControlAERegions:                kindMeteringRects,
	device.KeyControlAEExposureComp:           kindInt32,
	device.KeyControlAEPrecapture:             kindInt32,
	"android.control.aeTargetFpsRange":        kindRange,
	"android.control.aeAntibandingMode":       kindInt32,
	device.KeyControlAFMode:                   kindInt32,
	device.KeyControlAFRegions:                kindMeteringRects,
	device.KeyControlAFTrigger:                kindInt32,
	device.KeyControlAWBMode:                  kindInt32,
	device.KeyControlAWBLock:                  kindBool,
	device.KeyControlAWBRegions:               kindMeteringRects,
	"android.control.effectMode":              kindInt32,
	"android.control.sceneMode":               kindInt32,
	"android.control.videoStabilizationMode":  kindInt32,
	"android.control.postRawSensitivityBoost": kindInt32,
	device.KeyFlashMode:                       kindInt32,
	device.KeySensorSensitivity:               kindInt32,
	device.KeySensorExposureTime:              kindInt64,
	device.KeySensorFrameDuration:             kindInt64,
	"android.sensor.testPatternMode":          kindInt32,
	device.KeyLensFocusDistance:               kindFloat,
	"android.lens.aperture":                   kindFloat,
	"android.lens.focalLength":                kindFloat,
	"android.lens.filterDensity":              kindFloat,
	"android.lens.opticalStabilizationMode":   kindInt32,
	"android.colorCorrection.mode":            kindInt32,
	"android.colorCorrection.aberrationMode":  kindInt32,
	device.KeyColorCorrectionGains:            kindGains,
	device.KeyColorCorrectionXform:            kindTransform,
	device.KeyNoiseReductionMode:              kindInt32,
	device.KeyEdgeMode:                        kindInt32,
	"android.shading.mode":                    kindInt32,
	"android.hotPixel.mode":                   kindInt32,
	"android.tonemap.mode":                    kindInt32,
	"android.tonemap.curveRed":                kindFloats,
	"android.tonemap.curveGreen":              kindFloats,
	"android.tonemap.curveBlue":               kindFloats,
	"android.statistics.faceDetectMode":       kindInt32,
	device.KeyLensShadingMapMode:              kindInt32,
	"android.statistics.hotPixelMapMode":      kindInt32,
	"android.blackLevel.lock":                 kindBool,
	"android.jpeg.quality":                    kindInt32,
	"android.jpeg.orientation":                kindInt32,
	"android.jpeg.thumbnailQuality":           kindInt32,
	"android.jpeg.thumbnailSize":              kindInt32s,
	device.KeyReprocessExposureFactor:         kindFloat,
	"android.distortionCorrection.mode":       kindInt32,
	"android.sensor.pixelMode":                kindInt32,
	"android.control.extendedSceneMode":       kindInt32,
	"android.control.zoomRatio":               kindFloat,
	"android.control.enableZsl":               kindBool,
}

// ErrInvalidKeys is wrapped by decode errors naming keys that are unknown.
var ErrInvalidKeys = errors.New("Invalid JSON key(s)")

// KeyError reports settings that could not be applied.
type KeyError struct {
	Unknown []string
	Invalid map[string]error
}

func (e *KeyError) Error() string {
	var parts []string
	if len(e.Unknown) > 0 {
		parts = append(parts, fmt.Sprintf("%s: %s", ErrInvalidKeys, strings.Join(e.Unknown, ", ")))
	}
	for _, k := range slices.Sorted(maps.Keys(e.Invalid)) {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Invalid[k]))
	}
	return strings.Join(parts, "; ")
}

func (e *KeyError) Unwrap() error {
	if len(e.Unknown) > 0 {
		return ErrInvalidKeys
	}
	return nil
}

// Known reports whether key is an accepted request setting.
func Known(key string) bool {
	_, ok := requestKeys[key]
	return ok
}

// DecodeRequest applies the settings in obj to req. Null values are skipped.
// Unknown keys and values of the wrong shape are collected into a KeyError
// after every valid key has been applied.
func DecodeRequest(obj map[string]any, req *device.Request, logger zerolog.Logger) error {
	var kerr KeyError
	for _, k := range slices.Sorted(maps.Keys(obj)) {
		v := obj[k]
		if v == nil {
			logger.Debug().
				Str(xglog.FieldEvent, "metadata.null_setting").
				Str("key", k).
				Msg("skipping null request setting")
			continue
		}
		kd, ok := requestKeys[k]
		if !ok {
			kerr.Unknown = append(kerr.Unknown, k)
			continue
		}
		val, err := decodeValue(kd, v)
		if err != nil {
			if kerr.Invalid == nil {
				kerr.Invalid = make(map[string]error)
			}
			kerr.Invalid[k] = err
			continue
		}
		req.Set(k, val)
	}
	if len(kerr.Unknown) > 0 || len(kerr.Invalid) > 0 {
		return &kerr
	}
	return nil
}

func decodeValue(kd kind, v any) (any, error) {
	switch kd {
	case kindBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		default:
			n, err := wire.AsInt(v)
			if err != nil || (n != 0 && n != 1) {
				return nil, fmt.Errorf("expected bool, got %v", v)
			}
			return n == 1, nil
		}
	case kindInt32:
		n, err := wire.AsInt(v)
		if err != nil {
			return nil, err
		}
		return int32(n), nil
	case kindInt64:
		return wire.AsInt(v)
	case kindFloat:
		f, err := wire.AsFloat(v)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case kindInt32s:
		return decodeArray(v, func(e any) (int32, error) {
			n, err := wire.AsInt(e)
			return int32(n), err
		})
	case kindFloats:
		return decodeArray(v, func(e any) (float32, error) {
			f, err := wire.AsFloat(e)
			return float32(f), err
		})
	case kindMeteringRects:
		return decodeArray(v, decodeMeteringRect)
	case kindTransform:
		rs, err := decodeArray(v, decodeRational)
		if err != nil {
			return nil, err
		}
		if len(rs) != 9 {
			return nil, fmt.Errorf("color transform needs 9 entries, got %d", len(rs))
		}
		var t device.ColorTransform
		copy(t[:], rs)
		return t, nil
	case kindGains:
		fs, err := decodeArray(v, func(e any) (float32, error) {
			f, err := wire.AsFloat(e)
			return float32(f), err
		})
		if err != nil {
			return nil, err
		}
		if len(fs) != 4 {
			return nil, fmt.Errorf("gains need 4 entries, got %d", len(fs))
		}
		return device.RggbGains{Red: fs[0], GreenEven: fs[1], GreenOdd: fs[2], Blue: fs[3]}, nil
	case kindRange:
		ns, err := decodeArray(v, func(e any) (int32, error) {
			n, err := wire.AsInt(e)
			return int32(n), err
		})
		if err != nil {
			return nil, err
		}
		if len(ns) != 2 {
			return nil, fmt.Errorf("range needs 2 entries, got %d", len(ns))
		}
		return device.IntRange{Lower: ns[0], Upper: ns[1]}, nil
	}
	return nil, fmt.Errorf("unhandled kind %d", kd)
}

func decodeArray[T any](v any, f func(any) (T, error)) ([]T, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	out := make([]T, len(arr))
	for i, e := range arr {
		x, err := f(e)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = x
	}
	return out, nil
}

func objectInts(v any, keys ...string) ([]int32, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	out := make([]int32, len(keys))
	for i, k := range keys {
		raw, ok := obj[k]
		if !ok {
			return nil, fmt.Errorf("missing %q", k)
		}
		n, err := wire.AsInt(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[i] = int32(n)
	}
	return out, nil
}

func decodeMeteringRect(v any) (device.MeteringRect, error) {
	n, err := objectInts(v, "x", "y", "width", "height", "weight")
	if err != nil {
		return device.MeteringRect{}, err
	}
	return device.MeteringRect{X: n[0], Y: n[1], Width: n[2], Height: n[3], Weight: n[4]}, nil
}

func decodeRational(v any) (device.Rational, error) {
	n, err := objectInts(v, "numerator", "denominator")
	if err != nil {
		return device.Rational{}, err
	}
	return device.Rational{Numerator: n[0], Denominator: n[1]}, nil
}
