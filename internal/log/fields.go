// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldConnID   = "conn_id"
	FieldBatchID  = "batch_id"
	FieldCameraID = "camera_id"
	FieldCommand  = "command"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Frame fields
	FieldTag    = "tag"
	FieldBytes  = "bytes"
	FieldFormat = "format"
	FieldStream = "stream"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Network fields
	FieldRemoteAddr = "remote_addr"
	FieldListenAddr = "listen_addr"

	FieldPath = "path"
)
