// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    string
		wantErr error
	}{
		{name: "open", line: `{"cmdName":"open","cameraId":1}`, want: "open"},
		{name: "trailing newline", line: "{\"cmdName\":\"close\"}\n", want: "close"},
		{name: "empty", line: "   ", wantErr: ErrEmptyFrame},
		{name: "garbage", line: "not json", wantErr: ErrMalformedFrame},
		{name: "array", line: `[1,2]`, wantErr: ErrMalformedFrame},
		{name: "two objects", line: `{"cmdName":"a"}{"cmdName":"b"}`, wantErr: ErrMalformedFrame},
		{name: "missing name", line: `{"cameraId":1}`, wantErr: ErrMissingCommand},
		{name: "non-string name", line: `{"cmdName":5}`, wantErr: ErrMissingCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand([]byte(tt.line))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Name)
			assert.NotContains(t, cmd.Params, CommandKey)
		})
	}
}

func TestParseCommand_KeepsLargeIntegers(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"cmdName":"doCapture","exp":9007199254740993}`))
	require.NoError(t, err)

	n, err := Int(cmd.Params, "exp", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), n)
}

func TestResponse_HeaderLineAnnouncesPayload(t *testing.T) {
	resp := Response{Tag: "yuvImage", Buf: make([]byte, 12)}
	line, err := resp.HeaderLine()
	require.NoError(t, err)
	require.Equal(t, byte('\n'), line[len(line)-1])

	var h map[string]any
	require.NoError(t, json.Unmarshal(line, &h))
	assert.Equal(t, "yuvImage", h["tag"])
	assert.EqualValues(t, 12, h["bufValueSize"])
	assert.NotContains(t, h, "strValue")
	assert.NotContains(t, h, "objValue")
}

func TestResponse_HeaderLineEmptyPayload(t *testing.T) {
	resp := Response{Tag: "rawImage", Buf: []byte{}}
	line, err := resp.HeaderLine()
	require.NoError(t, err)

	var h map[string]any
	require.NoError(t, json.Unmarshal(line, &h))
	assert.EqualValues(t, 0, h["bufValueSize"])
}

func TestResponse_HeaderLineWithoutPayload(t *testing.T) {
	resp := Response{Tag: "cameraIds", ObjValue: map[string]any{"cameraIdArray": []string{"0", "1"}}}
	line, err := resp.HeaderLine()
	require.NoError(t, err)

	var h map[string]any
	require.NoError(t, json.Unmarshal(line, &h))
	assert.NotContains(t, h, "bufValueSize")
	assert.Equal(t, map[string]any{"cameraIdArray": []any{"0", "1"}}, h["objValue"])
}

func TestResponse_MissingTag(t *testing.T) {
	_, err := Response{}.HeaderLine()
	require.ErrorIs(t, err, ErrMissingTag)
}

func TestParamAccessors(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"cmdName":"x","i":3,"f":1.5,"b":true,"s":"yuv","o":{"a":1},"a":[1,2]}`))
	require.NoError(t, err)
	p := cmd.Params

	i, err := Int(p, "i", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), i)

	_, err = Int(p, "f", 0)
	require.Error(t, err)

	def, err := Int(p, "missing", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), def)

	b, err := Bool(p, "b", false)
	require.NoError(t, err)
	assert.True(t, b)

	s, ok, err := String(p, "s")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "yuv", s)

	o, ok, err := Object(p, "o")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, o, "a")

	a, ok, err := Array(p, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, a, 2)

	_, _, err = Array(p, "o")
	require.Error(t, err)
}
