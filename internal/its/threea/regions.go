// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package threea

import (
	"fmt"

	"github.com/ManuGH/itsd/internal/its/device"
)

// FullFrame is the default metering region: the whole frame with weight 1.
var FullFrame = []float64{0, 0, 1, 1, 1}

// Regions converts flattened normalized [x, y, w, h, weight] tuples into
// pixel regions of a frame of the given size. An empty list yields the full
// frame.
func Regions(normalized []float64, size device.Size) ([]device.MeteringRect, error) {
	if len(normalized) == 0 {
		normalized = FullFrame
	}
	if len(normalized)%5 != 0 {
		return nil, fmt.Errorf("region list length %d is not a multiple of 5", len(normalized))
	}
	out := make([]device.MeteringRect, 0, len(normalized)/5)
	for i := 0; i < len(normalized); i += 5 {
		x, y, w, h, wgt := normalized[i], normalized[i+1], normalized[i+2], normalized[i+3], normalized[i+4]
		if x < 0 || y < 0 || w < 0 || h < 0 || x+w > 1 || y+h > 1 {
			return nil, fmt.Errorf("region %d out of the unit square: [%g %g %g %g]", i/5, x, y, w, h)
		}
		out = append(out, device.MeteringRect{
			X:      int32(x * float64(size.Width)),
			Y:      int32(y * float64(size.Height)),
			Width:  int32(w * float64(size.Width)),
			Height: int32(h * float64(size.Height)),
			Weight: int32(wgt),
		})
	}
	return out, nil
}

// FixedFocus reports whether the characteristics describe a lens that
// cannot focus.
func FixedFocus(chars device.Metadata) bool {
	d, ok := chars.Float(device.KeyLensMinFocusDistance)
	return ok && d == 0
}
