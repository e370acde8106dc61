// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

// FrameCodec turns buffers into client payloads.
type FrameCodec interface {
	// Decode returns the packed pixel data of b.
	Decode(b *Buffer) ([]byte, error)
	// DerivedStats computes a statistics grid over a raw buffer with cells of
	// cellW x cellH pixels. It returns the payload and the grid dimensions.
	DerivedStats(b *Buffer, cfa int32, cellW, cellH int) (payload []byte, gridW, gridH int, err error)
	// Container wraps a raw buffer together with its result.
	Container(chars Metadata, result *Result, b *Buffer) ([]byte, error)
}

// MetadataCodec maps metadata to and from wire objects.
type MetadataCodec interface {
	ToWire(md Metadata) map[string]any
	FromWire(obj map[string]any, req *Request) error
}
