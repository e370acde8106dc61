// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"maps"
	"slices"
)

// Metadata is a camera metadata record keyed by the fully qualified key name
// (for example "android.control.aeState"). Values use the Go types declared
// in this package; see the metadata codec for the wire mapping.
type Metadata map[string]any

// Clone returns a shallow copy. Slice values are shared.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}

// Keys returns the key names in sorted order.
func (m Metadata) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// Int returns an integer-valued entry. Byte, int32 and int64 values are
// accepted.
func (m Metadata) Int(key string) (int64, bool) {
	switch v := m[key].(type) {
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case uint8:
		return int64(v), true
	default:
		return 0, false
	}
}

// Float returns a float-valued entry.
func (m Metadata) Float(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// Bool returns a boolean entry.
func (m Metadata) Bool(key string) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}

// Rational is a numerator/denominator pair.
type Rational struct {
	Numerator   int32
	Denominator int32
}

// Float returns the rational as a float, or 0 when the denominator is 0.
func (r Rational) Float() float64 {
	if r.Denominator == 0 {
		return 0
	}
	return float64(r.Numerator) / float64(r.Denominator)
}

// Rect is an axis-aligned rectangle in pixel coordinates.
type Rect struct {
	Left, Top, Right, Bottom int32
}

// MeteringRect is a weighted region used by the 3A routines.
type MeteringRect struct {
	X, Y, Width, Height int32
	Weight              int32
}

// ColorTransform is a row-major 3x3 color correction matrix.
type ColorTransform [9]Rational

// RggbGains are per-Bayer-channel white balance gains.
type RggbGains struct {
	Red, GreenEven, GreenOdd, Blue float32
}

// IntRange is an inclusive integer range.
type IntRange struct {
	Lower, Upper int32
}

// Key names used by the harness. Devices may report many more.
const (
	KeyControlMode             = "android.control.mode"
	KeyControlCaptureIntent    = "android.control.captureIntent"
	KeyControlAEMode           = "android.control.aeMode"
	KeyControlAELock           = "android.control.aeLock"
	KeyControlAERegions        = "android.control.aeRegions"
	KeyControlAEState          = "android.control.aeState"
	KeyControlAEExposureComp   = "android.control.aeExposureCompensation"
	KeyControlAEPrecapture     = "android.control.aePrecaptureTrigger"
	KeyControlAFMode           = "android.control.afMode"
	KeyControlAFRegions        = "android.control.afRegions"
	KeyControlAFState          = "android.control.afState"
	KeyControlAFTrigger        = "android.control.afTrigger"
	KeyControlAWBMode          = "android.control.awbMode"
	KeyControlAWBLock          = "android.control.awbLock"
	KeyControlAWBRegions       = "android.control.awbRegions"
	KeyControlAWBState         = "android.control.awbState"
	KeyFlashMode               = "android.flash.mode"
	KeySensorSensitivity       = "android.sensor.sensitivity"
	KeySensorExposureTime      = "android.sensor.exposureTime"
	KeySensorFrameDuration     = "android.sensor.frameDuration"
	KeySensorTimestamp         = "android.sensor.timestamp"
	KeySensorBlackLevel        = "android.sensor.dynamicBlackLevel"
	KeySensorBlackLevelPattern = "android.sensor.blackLevelPattern"
	KeySensorDynamicWhite      = "android.sensor.dynamicWhiteLevel"
	KeySensorWhiteLevel        = "android.sensor.info.whiteLevel"
	KeySensorActiveArraySize   = "android.sensor.info.activeArraySize"
	KeySensorPixelArraySize    = "android.sensor.info.pixelArraySize"
	KeySensorColorArrangement  = "android.sensor.info.colorFilterArrangement"
	KeyLensFocusDistance       = "android.lens.focusDistance"
	KeyLensMinFocusDistance    = "android.lens.info.minimumFocusDistance"
	KeyLensFacing              = "android.lens.facing"
	KeyColorCorrectionGains    = "android.colorCorrection.gains"
	KeyColorCorrectionXform    = "android.colorCorrection.transform"
	KeyNoiseReductionMode      = "android.noiseReduction.mode"
	KeyEdgeMode                = "android.edge.mode"
	KeyReprocessExposureFactor = "android.reprocess.effectiveExposureFactor"
	KeyLensShadingMapMode      = "android.statistics.lensShadingMapMode"
	KeyHardwareLevel           = "android.info.supportedHardwareLevel"
	KeyStreamConfigurations    = "android.scaler.streamConfigurationMap"
	KeyAvailableCapabilities   = "android.request.availableCapabilities"
	KeyAERange                 = "android.control.aeCompensationRange"
)

// Enumerated values for the keys above.
const (
	AEStateInactive      int32 = 0
	AEStateSearching     int32 = 1
	AEStateConverged     int32 = 2
	AEStateLocked        int32 = 3
	AEStateFlashRequired int32 = 4
	AEStatePrecapture    int32 = 5

	AFStateInactive         int32 = 0
	AFStateActiveScan       int32 = 3
	AFStateFocusedLocked    int32 = 4
	AFStateNotFocusedLocked int32 = 5

	AWBStateInactive  int32 = 0
	AWBStateSearching int32 = 1
	AWBStateConverged int32 = 2
	AWBStateLocked    int32 = 3

	FlashModeOff             int32 = 0
	ControlModeAuto          int32 = 1
	CaptureIntentPreview     int32 = 1
	CaptureIntentStill       int32 = 2
	AEModeOn                 int32 = 1
	AFModeAuto               int32 = 1
	AWBModeAuto              int32 = 1
	AEPrecaptureTriggerIdle  int32 = 0
	AEPrecaptureTriggerStart int32 = 1
	AFTriggerIdle            int32 = 0
	AFTriggerStart           int32 = 1

	NoiseReductionZeroShutterLag int32 = 4
	EdgeModeZeroShutterLag       int32 = 3
	LensShadingMapModeOn         int32 = 1

	HardwareLevelLimited int32 = 0
	HardwareLevelFull    int32 = 1
	HardwareLevelLegacy  int32 = 2
	HardwareLevel3       int32 = 3
)

// StreamConfigurations returns the advertised stream configurations.
func (m Metadata) StreamConfigurations() []StreamConfiguration {
	v, _ := m[KeyStreamConfigurations].([]StreamConfiguration)
	return v
}

// OutputSizes returns the output sizes advertised for f, largest area first.
func (m Metadata) OutputSizes(f Format) []Size {
	return m.sizes(f, false)
}

// InputSizes returns the reprocess input sizes advertised for f, largest first.
func (m Metadata) InputSizes(f Format) []Size {
	return m.sizes(f, true)
}

func (m Metadata) sizes(f Format, input bool) []Size {
	var out []Size
	for _, c := range m.StreamConfigurations() {
		if c.Format == f && c.Input == input {
			out = append(out, c.Size)
		}
	}
	slices.SortStableFunc(out, func(a, b Size) int { return b.Area() - a.Area() })
	return out
}

// MaxOutputSize returns the largest output size for f.
func (m Metadata) MaxOutputSize(f Format) (Size, bool) {
	sizes := m.OutputSizes(f)
	if len(sizes) == 0 {
		return Size{}, false
	}
	return sizes[0], true
}
