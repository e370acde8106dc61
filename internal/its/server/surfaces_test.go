// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/itsd/internal/its/device"
)

func testChars() device.Metadata {
	return device.Metadata{
		device.KeyStreamConfigurations: []device.StreamConfiguration{
			{Format: device.FormatYUV420, Size: device.Size{Width: 640, Height: 480}},
			{Format: device.FormatYUV420, Size: device.Size{Width: 1920, Height: 1080}},
			{Format: device.FormatJPEG, Size: device.Size{Width: 1920, Height: 1080}},
			{Format: device.FormatRawSensor, Size: device.Size{Width: 4000, Height: 3000}},
		},
	}
}

func TestParseSurfaces_Default(t *testing.T) {
	got, err := parseSurfaces(nil, testChars(), false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, device.StreamConfig{ID: 0, Format: device.FormatYUV420, Size: device.Size{Width: 1920, Height: 1080}}, got[0].stream)
	assert.Equal(t, []int{0}, countable(got))
}

func TestParseSurfaces(t *testing.T) {
	raw := []any{
		map[string]any{"format": "jpg"},
		map[string]any{"format": "rawStats", "gridWidth": 40, "gridHeight": 30},
		map[string]any{"width": 640, "height": 480},
	}
	got, err := parseSurfaces(raw, testChars(), true)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, kindJPEG, got[0].kind)
	assert.Equal(t, device.Size{Width: 1920, Height: 1080}, got[0].stream.Size)

	assert.Equal(t, kindRawStats, got[1].kind)
	assert.Equal(t, device.FormatRawSensor, got[1].stream.Format)
	assert.Equal(t, map[string]any{"width": 100, "height": 100, "format": "rawStats"}, got[1].describe())

	assert.Equal(t, kindYUV, got[2].kind)

	bg := got[3]
	assert.True(t, bg.background)
	assert.Equal(t, BackgroundSize, bg.stream.Size)

	for i, s := range got {
		assert.Equal(t, i, s.stream.ID)
	}
	assert.Equal(t, []int{0, 1, 2}, countable(got))
	assert.Len(t, streams(got), 4)
}

func TestParseSurfaces_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  []any
		bg   bool
		want error
		kind Kind
	}{
		{name: "not an object", raw: []any{"yuv"}, kind: KindProtocol},
		{name: "unknown format", raw: []any{map[string]any{"format": "png"}}, kind: KindProtocol},
		{name: "bad width", raw: []any{map[string]any{"width": "wide"}}, kind: KindProtocol},
		{name: "odd stats cell", raw: []any{map[string]any{"format": "rawStats", "gridWidth": 3, "gridHeight": 4}}, kind: KindProtocol},
		{name: "unadvertised format", raw: []any{map[string]any{"format": "raw10"}}, want: device.ErrUnsupportedStream, kind: KindDevice},
		{
			name: "too many with background",
			raw:  []any{map[string]any{}, map[string]any{}, map[string]any{}, map[string]any{}},
			bg:   true,
			want: ErrTooManySurfaces,
			kind: KindProtocol,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSurfaces(tt.raw, testChars(), tt.bg)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, tt.kind, classify("doCapture", err).Kind)
		})
	}
}

func TestSurfaceTag(t *testing.T) {
	tests := map[string]string{
		kindYUV:      "yuvImage",
		kindJPEG:     "jpegImage",
		kindRaw:      "rawImage",
		kindRaw10:    "raw10Image",
		kindRaw12:    "raw12Image",
		kindDNG:      "dngImage",
		kindRawStats: "rawStatsImage",
	}
	for name, want := range tests {
		f := surfaceFormats[name]
		tag, err := surface{kind: f.kind, stream: device.StreamConfig{Format: f.format}}.tag()
		require.NoError(t, err)
		assert.Equal(t, want, tag, name)
	}
}

func TestReadLine(t *testing.T) {
	long := strings.Repeat("a", 40)
	r := bufio.NewReaderSize(strings.NewReader("one\n"+long+"\n\ntwo\nlast"), 16)

	line, err := readLine(r, 32)
	require.NoError(t, err)
	assert.Equal(t, "one", string(line))

	_, err = readLine(r, 32)
	assert.ErrorIs(t, err, ErrLineTooLong)

	line, err = readLine(r, 32)
	require.NoError(t, err)
	assert.Empty(t, line)

	line, err = readLine(r, 32)
	require.NoError(t, err)
	assert.Equal(t, "two", string(line))

	line, err = readLine(r, 32)
	require.NoError(t, err)
	assert.Equal(t, "last", string(line))

	_, err = readLine(r, 32)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReadLine_SpansBufferBoundary(t *testing.T) {
	want := strings.Repeat("b", 50)
	r := bufio.NewReaderSize(strings.NewReader(want+"\n"), 16)
	line, err := readLine(r, 64)
	require.NoError(t, err)
	assert.Equal(t, want, string(line))
}
