// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/ManuGH/itsd/internal/its/device"
)

// TIFF tags written by Container in addition to the image structure tags.
// BlackLevel and WhiteLevel hold the levels the samples were normalized
// from.
const (
	TagExposureTime    uint16 = 33434
	TagISOSpeedRatings uint16 = 34855
	TagBlackLevel      uint16 = 50714
	TagWhiteLevel      uint16 = 50717
)

const (
	tiffShort    uint16 = 3
	tiffLong     uint16 = 4
	tiffRational uint16 = 5

	ifdEntryLen = 12
)

var errBadTIFF = errors.New("malformed tiff")

// TIFFEntry is one IFD entry with its value bytes in little-endian order.
type TIFFEntry struct {
	Tag   uint16
	Type  uint16
	Count uint32
	Value []byte
}

// Uints decodes SHORT and LONG values, and RATIONAL values as
// numerator/denominator pairs.
func (e TIFFEntry) Uints() []uint32 {
	var out []uint32
	switch e.Type {
	case tiffShort:
		for i := 0; i+2 <= len(e.Value); i += 2 {
			out = append(out, uint32(binary.LittleEndian.Uint16(e.Value[i:])))
		}
	case tiffLong, tiffRational:
		for i := 0; i+4 <= len(e.Value); i += 4 {
			out = append(out, binary.LittleEndian.Uint32(e.Value[i:]))
		}
	}
	return out
}

func typeSize(t uint16) (int, bool) {
	switch t {
	case 1, 2, 6, 7:
		return 1, true
	case 3, 8:
		return 2, true
	case 4, 9, 11:
		return 4, true
	case 5, 10, 12:
		return 8, true
	}
	return 0, false
}

// ReadIFD returns the entries of the first IFD of a little-endian TIFF.
func ReadIFD(data []byte) ([]TIFFEntry, error) {
	if len(data) < 8 || string(data[:4]) != "II*\x00" {
		return nil, fmt.Errorf("%w: not a little-endian tiff", errBadTIFF)
	}
	off := int(binary.LittleEndian.Uint32(data[4:]))
	if off+2 > len(data) {
		return nil, fmt.Errorf("%w: ifd offset %d out of range", errBadTIFF, off)
	}
	n := int(binary.LittleEndian.Uint16(data[off:]))
	p := off + 2
	if p+n*ifdEntryLen > len(data) {
		return nil, fmt.Errorf("%w: truncated ifd", errBadTIFF)
	}

	entries := make([]TIFFEntry, 0, n)
	for i := range n {
		raw := data[p+i*ifdEntryLen : p+(i+1)*ifdEntryLen]
		e := TIFFEntry{
			Tag:   binary.LittleEndian.Uint16(raw[0:]),
			Type:  binary.LittleEndian.Uint16(raw[2:]),
			Count: binary.LittleEndian.Uint32(raw[4:]),
		}
		size, ok := typeSize(e.Type)
		if !ok {
			return nil, fmt.Errorf("%w: tag %d has unknown type %d", errBadTIFF, e.Tag, e.Type)
		}
		l := size * int(e.Count)
		if l <= 4 {
			e.Value = slices.Clone(raw[8 : 8+l])
		} else {
			vo := int(binary.LittleEndian.Uint32(raw[8:]))
			if vo+l > len(data) {
				return nil, fmt.Errorf("%w: tag %d value out of range", errBadTIFF, e.Tag)
			}
			e.Value = slices.Clone(data[vo : vo+l])
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// appendEntries writes a new first IFD holding the existing entries plus
// extra at the end of data and points the header at it. Image data stays
// where it is. Extra entries replace existing ones with the same tag.
func appendEntries(data []byte, extra []TIFFEntry) ([]byte, error) {
	entries, err := ReadIFD(data)
	if err != nil {
		return nil, err
	}
	entries = slices.DeleteFunc(entries, func(e TIFFEntry) bool {
		return slices.ContainsFunc(extra, func(x TIFFEntry) bool { return x.Tag == e.Tag })
	})
	entries = append(entries, extra...)
	slices.SortFunc(entries, func(a, b TIFFEntry) int { return int(a.Tag) - int(b.Tag) })

	// IFDs start on a word boundary.
	if len(data)%2 == 1 {
		data = append(data, 0)
	}
	ifdOff := len(data)
	valueOff := ifdOff + 2 + len(entries)*ifdEntryLen + 4
	if uint64(valueOff) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: file too large", errBadTIFF)
	}

	ifd := binary.LittleEndian.AppendUint16(nil, uint16(len(entries)))
	var values []byte
	for _, e := range entries {
		ifd = binary.LittleEndian.AppendUint16(ifd, e.Tag)
		ifd = binary.LittleEndian.AppendUint16(ifd, e.Type)
		ifd = binary.LittleEndian.AppendUint32(ifd, e.Count)
		if len(e.Value) <= 4 {
			var inline [4]byte
			copy(inline[:], e.Value)
			ifd = append(ifd, inline[:]...)
			continue
		}
		ifd = binary.LittleEndian.AppendUint32(ifd, uint32(valueOff+len(values)))
		values = append(values, e.Value...)
		if len(values)%2 == 1 {
			values = append(values, 0)
		}
	}
	ifd = binary.LittleEndian.AppendUint32(ifd, 0)

	data = append(data, ifd...)
	data = append(data, values...)
	binary.LittleEndian.PutUint32(data[4:], uint32(ifdOff))
	return data, nil
}

func shortEntry(tag uint16, v uint16) TIFFEntry {
	return TIFFEntry{Tag: tag, Type: tiffShort, Count: 1, Value: binary.LittleEndian.AppendUint16(nil, v)}
}

func longEntry(tag uint16, v uint32) TIFFEntry {
	return TIFFEntry{Tag: tag, Type: tiffLong, Count: 1, Value: binary.LittleEndian.AppendUint32(nil, v)}
}

func rationalEntry(tag uint16, num, den uint32) TIFFEntry {
	v := binary.LittleEndian.AppendUint32(nil, num)
	v = binary.LittleEndian.AppendUint32(v, den)
	return TIFFEntry{Tag: tag, Type: tiffRational, Count: 1, Value: v}
}

// exposureRational expresses ns as seconds, dropping to microsecond
// precision when ns does not fit a 32-bit numerator.
func exposureRational(ns int64) (num, den uint32) {
	if ns <= math.MaxUint32 {
		return uint32(ns), 1_000_000_000
	}
	us := min(ns/1000, math.MaxUint32)
	return uint32(us), 1_000_000
}

// resultEntries describes the frame for readers of the container.
func resultEntries(result *device.Result, black, white float64) []TIFFEntry {
	out := []TIFFEntry{
		rationalEntry(TagBlackLevel, uint32(math.Round(black*100)), 100),
		longEntry(TagWhiteLevel, uint32(math.Round(white))),
	}
	if result == nil {
		return out
	}
	if ns, ok := result.Metadata.Int(device.KeySensorExposureTime); ok && ns > 0 {
		num, den := exposureRational(ns)
		out = append(out, rationalEntry(TagExposureTime, num, den))
	}
	if iso, ok := result.Metadata.Int(device.KeySensorSensitivity); ok && iso > 0 {
		out = append(out, shortEntry(TagISOSpeedRatings, uint16(min(iso, math.MaxUint16))))
	}
	return out
}
