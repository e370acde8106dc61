// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package frame

import "github.com/ManuGH/itsd/internal/its/device"

// Codec is the device.FrameCodec backed by this package.
type Codec struct{}

var _ device.FrameCodec = Codec{}

func (Codec) Decode(b *device.Buffer) ([]byte, error) { return Pack(b) }

func (Codec) DerivedStats(b *device.Buffer, cfa int32, cellW, cellH int) ([]byte, int, int, error) {
	st, err := RawStats(b, cfa, cellW, cellH)
	if err != nil {
		return nil, 0, 0, err
	}
	return st.Data, st.GridWidth, st.GridHeight, nil
}

func (Codec) Container(chars device.Metadata, result *device.Result, b *device.Buffer) ([]byte, error) {
	return Container(b, chars, result)
}
