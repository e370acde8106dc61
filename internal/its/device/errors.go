// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import "errors"

var (
	// ErrUnknownCamera is returned when a camera ID does not exist.
	ErrUnknownCamera = errors.New("unknown camera")

	// ErrCameraInUse is returned when opening a camera that is already open.
	ErrCameraInUse = errors.New("camera already open")

	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnsupportedStream is returned when a stream configuration is not advertised.
	ErrUnsupportedStream = errors.New("unsupported stream configuration")

	// ErrUnknownTarget is returned when a request targets an unconfigured stream.
	ErrUnknownTarget = errors.New("request targets unknown stream")
)
