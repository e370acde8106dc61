// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/itsd/internal/its/batch"
	"github.com/ManuGH/itsd/internal/its/metadata"
	"github.com/ManuGH/itsd/internal/its/reprocess"
	"github.com/ManuGH/itsd/internal/its/threea"
	"github.com/ManuGH/itsd/internal/its/wire"
)

// Kind classifies a command failure.
type Kind string

const (
	// KindProtocol covers malformed frames, unknown commands and bad
	// parameters. The connection stays open.
	KindProtocol Kind = "protocol"
	// KindDevice covers open, session and configuration failures.
	KindDevice Kind = "device"
	// KindTimeout covers batch, 3A and reprocess input timeouts.
	KindTimeout Kind = "timeout"
	// KindTransport covers socket failures. The connection is torn down.
	KindTransport Kind = "transport"
	// KindResource covers payloads that could not be produced.
	KindResource Kind = "resource"
)

// TagError is the response tag of a failed command.
const TagError = "error"

var (
	// ErrUnknownCommand is reported for command names without a handler.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrLineTooLong is reported for inbound lines above the size limit.
	ErrLineTooLong = errors.New("command line too long")

	// ErrCameraNotOpen is returned by commands that need an open camera.
	ErrCameraNotOpen = errors.New("camera not open")

	// ErrTooManySurfaces is returned when more output streams are requested
	// than a session supports.
	ErrTooManySurfaces = errors.New("too many output surfaces")

	// ErrNoSensors is returned when no sensor source is configured.
	ErrNoSensors = errors.New("no motion sensor source")

	// ErrNoVibrator is returned when no vibrator is configured.
	ErrNoVibrator = errors.New("no vibrator")
)

// CommandError is a failed command with its taxonomy kind.
type CommandError struct {
	Kind    Kind
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Command, e.Kind, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func protocolError(err error) error { return &CommandError{Kind: KindProtocol, Err: err} }

func deviceError(err error) error { return &CommandError{Kind: KindDevice, Err: err} }

func resourceError(err error) error { return &CommandError{Kind: KindResource, Err: err} }

// annotate prefixes the message of err, keeping its kind.
func annotate(err error, prefix string) error {
	var ce *CommandError
	if errors.As(err, &ce) {
		return &CommandError{Kind: ce.Kind, Command: ce.Command, Err: fmt.Errorf("%s: %w", prefix, ce.Err)}
	}
	return fmt.Errorf("%s: %w", prefix, err)
}

// classify returns err as a CommandError for command, inferring the kind
// when the handler did not set one.
func classify(command string, err error) *CommandError {
	var ce *CommandError
	if errors.As(err, &ce) {
		out := *ce
		if out.Command == "" {
			out.Command = command
		}
		return &out
	}
	return &CommandError{Kind: kindOf(err), Command: command, Err: err}
}

func kindOf(err error) Kind {
	var (
		bt *batch.TimeoutError
		rt *batch.ResultTimeoutError
		tt *threea.TimeoutError
		it *reprocess.InputTimeoutError
		ke *metadata.KeyError
	)
	switch {
	case errors.As(err, &bt), errors.As(err, &rt), errors.As(err, &tt), errors.As(err, &it),
		errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindTransport
	case errors.As(err, &ke),
		errors.Is(err, metadata.ErrInvalidKeys),
		errors.Is(err, wire.ErrMalformedFrame),
		errors.Is(err, wire.ErrMissingCommand),
		errors.Is(err, ErrUnknownCommand),
		errors.Is(err, ErrLineTooLong),
		errors.Is(err, ErrTooManySurfaces):
		return KindProtocol
	default:
		return KindDevice
	}
}

// details returns the diagnostic object of an error frame, or nil.
func details(err error) map[string]any {
	var (
		bt *batch.TimeoutError
		rt *batch.ResultTimeoutError
		tt *threea.TimeoutError
		it *reprocess.InputTimeoutError
		ke *metadata.KeyError
	)
	switch {
	case errors.As(err, &bt):
		return map[string]any{
			"batchId":   bt.BatchID,
			"expected":  bt.Expected,
			"remaining": bt.Remaining,
			"idleMs":    bt.Idle.Milliseconds(),
		}
	case errors.As(err, &rt):
		return map[string]any{"resultIndex": rt.Index, "timeoutMs": rt.Timeout.Milliseconds()}
	case errors.As(err, &tt):
		return map[string]any{
			"phase":        string(tt.Phase),
			"timeoutMs":    tt.Timeout.Milliseconds(),
			"aeConverged":  tt.State.ConvergedAE,
			"afConverged":  tt.State.ConvergedAF,
			"awbConverged": tt.State.ConvergedAWB,
			"aeLocked":     tt.State.LockedAE,
			"awbLocked":    tt.State.LockedAWB,
		}
	case errors.As(err, &it):
		return map[string]any{
			"index":     it.Index,
			"hasResult": it.HasResult,
			"hasBuffer": it.HasBuffer,
			"timeoutMs": it.Timeout.Milliseconds(),
		}
	case errors.As(err, &ke):
		invalid := make(map[string]string, len(ke.Invalid))
		for k, v := range ke.Invalid {
			invalid[k] = v.Error()
		}
		return map[string]any{"unknownKeys": ke.Unknown, "invalidKeys": invalid}
	}
	return nil
}
