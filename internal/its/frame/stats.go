// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package frame

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ManuGH/itsd/internal/its/device"
)

// Color filter arrangements as reported by the sensor.
const (
	CFARGGB int32 = 0
	CFAGRBG int32 = 1
	CFAGBRG int32 = 2
	CFABGGR int32 = 3
)

// channel order of the statistics: R, Gr, Gb, B.
var cfaChannels = map[int32][4]int{
	// index = (y&1)*2 + (x&1)
	CFARGGB: {0, 1, 2, 3},
	CFAGRBG: {1, 0, 3, 2},
	CFAGBRG: {2, 3, 0, 1},
	CFABGGR: {3, 2, 1, 0},
}

// Stats is a grid of per-channel means and variances.
type Stats struct {
	GridWidth  int
	GridHeight int
	// Data holds GridWidth*GridHeight*4 float32 means followed by as many
	// variances, little endian, cell-major with channels R, Gr, Gb, B.
	Data []byte
}

// StatsGrid returns the grid dimensions and payload size of statistics
// computed over a raw frame of size s with cells of cellW x cellH pixels.
func StatsGrid(s device.Size, cellW, cellH int) (gridW, gridH, bytes int, err error) {
	if cellW < 2 || cellH < 2 || cellW%2 != 0 || cellH%2 != 0 {
		return 0, 0, 0, fmt.Errorf("stats cell %dx%d must be even and at least 2x2", cellW, cellH)
	}
	gridW, gridH = s.Width/cellW, s.Height/cellH
	if gridW == 0 || gridH == 0 {
		return 0, 0, 0, fmt.Errorf("stats cell %dx%d larger than frame %s", cellW, cellH, s)
	}
	return gridW, gridH, gridW * gridH * 4 * 2 * 4, nil
}

// RawStats computes per-cell Bayer channel statistics over a 16-bit raw frame.
func RawStats(b *device.Buffer, cfa int32, cellW, cellH int) (Stats, error) {
	if b.Format != device.FormatRawSensor {
		return Stats{}, fmt.Errorf("%w: stats need raw frames, got %s", ErrUnsupportedFormat, b.Format)
	}
	chans, ok := cfaChannels[cfa]
	if !ok {
		return Stats{}, fmt.Errorf("unknown color filter arrangement %d", cfa)
	}
	gridW, gridH, size, err := StatsGrid(b.Size, cellW, cellH)
	if err != nil {
		return Stats{}, err
	}
	pix, err := Pack(b)
	if err != nil {
		return Stats{}, err
	}

	w := b.Size.Width
	cells := gridW * gridH
	sum := make([]float64, cells*4)
	sumSq := make([]float64, cells*4)
	perChannel := float64(cellW * cellH / 4)

	for y := range gridH * cellH {
		row := pix[y*w*2:]
		cy := y / cellH
		for x := range gridW * cellW {
			v := float64(binary.LittleEndian.Uint16(row[x*2:]))
			i := (cy*gridW+x/cellW)*4 + chans[(y&1)*2+(x&1)]
			sum[i] += v
			sumSq[i] += v * v
		}
	}

	out := make([]byte, size)
	for i := range sum {
		mean := sum[i] / perChannel
		variance := max(sumSq[i]/perChannel-mean*mean, 0)
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(mean)))
		binary.LittleEndian.PutUint32(out[(cells*4+i)*4:], math.Float32bits(float32(variance)))
	}
	return Stats{GridWidth: gridW, GridHeight: gridH, Data: out}, nil
}
