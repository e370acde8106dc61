// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/itsd/internal/its/batch"
	"github.com/ManuGH/itsd/internal/its/device"
	"github.com/ManuGH/itsd/internal/its/metadata"
	"github.com/ManuGH/itsd/internal/its/reprocess"
	"github.com/ManuGH/itsd/internal/its/threea"
	"github.com/ManuGH/itsd/internal/its/wire"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"batch timeout", &batch.TimeoutError{BatchID: "b"}, KindTimeout},
		{"result timeout", &batch.ResultTimeoutError{Index: 1}, KindTimeout},
		{"3a timeout", fmt.Errorf("run: %w", &threea.TimeoutError{}), KindTimeout},
		{"reprocess timeout", &reprocess.InputTimeoutError{}, KindTimeout},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindTransport},
		{"key error", &metadata.KeyError{Unknown: []string{"x"}}, KindProtocol},
		{"malformed", fmt.Errorf("%w: eof", wire.ErrMalformedFrame), KindProtocol},
		{"missing command", wire.ErrMissingCommand, KindProtocol},
		{"unknown command", ErrUnknownCommand, KindProtocol},
		{"device", device.ErrUnsupportedStream, KindDevice},
		{"explicit kind wins", resourceError(context.DeadlineExceeded), KindResource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := classify("doCapture", tt.err)
			assert.Equal(t, tt.want, ce.Kind)
			assert.Equal(t, "doCapture", ce.Command)
		})
	}
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Kind: KindDevice, Command: "open", Err: device.ErrCameraInUse}
	assert.EqualError(t, err, "open: device error: camera already open")
	assert.ErrorIs(t, err, device.ErrCameraInUse)

	err = &CommandError{Kind: KindProtocol, Err: ErrLineTooLong}
	assert.EqualError(t, err, "protocol error: command line too long")
}

func TestAnnotateKeepsKind(t *testing.T) {
	err := annotate(protocolError(errors.New("bad format")), "output surface 2")
	ce := classify("doCapture", err)
	assert.Equal(t, KindProtocol, ce.Kind)
	assert.EqualError(t, ce.Err, "output surface 2: bad format")

	plain := annotate(device.ErrSessionClosed, "submit")
	assert.ErrorIs(t, plain, device.ErrSessionClosed)
	assert.Equal(t, KindDevice, classify("", plain).Kind)
}

func TestDetails(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want map[string]any
	}{
		{
			name: "batch timeout",
			err:  &batch.TimeoutError{BatchID: "b1", Expected: 4, Remaining: 1, Idle: 10 * time.Second},
			want: map[string]any{"batchId": "b1", "expected": 4, "remaining": 1, "idleMs": int64(10000)},
		},
		{
			name: "reprocess input",
			err:  &reprocess.InputTimeoutError{Index: 2, HasResult: true, Timeout: time.Second},
			want: map[string]any{"index": 2, "hasResult": true, "hasBuffer": false, "timeoutMs": int64(1000)},
		},
		{
			name: "key error",
			err:  &metadata.KeyError{Unknown: []string{"a"}, Invalid: map[string]error{"b": errors.New("want int")}},
			want: map[string]any{"unknownKeys": []string{"a"}, "invalidKeys": map[string]string{"b": "want int"}},
		},
		{
			name: "plain",
			err:  errors.New("nothing to add"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, details(tt.err)); diff != "" {
				t.Errorf("details mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetails_ThreeA(t *testing.T) {
	err := &threea.TimeoutError{
		Timeout: 2 * time.Second,
		State:   threea.State{ConvergedAE: true, LockedAE: true},
		Phase:   threea.PhaseConvergingAWB,
	}
	d := details(err)
	require.NotNil(t, d)
	assert.Equal(t, "converging-awb", d["phase"])
	assert.Equal(t, true, d["aeConverged"])
	assert.Equal(t, false, d["awbConverged"])
	assert.Equal(t, int64(2000), d["timeoutMs"])
}
