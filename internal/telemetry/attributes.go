// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by harness spans.
const (
	// Command attributes
	CommandNameKey = "its.command"
	CommandKindKey = "its.error_kind"

	// Connection attributes
	ConnIDKey     = "its.conn_id"
	RemoteAddrKey = "net.peer.addr"

	// Capture attributes
	CameraIDKey      = "its.camera_id"
	BatchIDKey       = "its.batch_id"
	BatchRequestsKey = "its.batch.requests"
	BatchStreamsKey  = "its.batch.streams"
	BatchExpectedKey = "its.batch.expected"

	// 3A attributes
	ThreeAIterationsKey = "its.threea.iterations"
	ThreeAPhaseKey      = "its.threea.phase"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// CommandAttributes describes one dispatched command.
func CommandAttributes(command, connID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	attrs = append(attrs, attribute.String(CommandNameKey, command))
	if connID != "" {
		attrs = append(attrs, attribute.String(ConnIDKey, connID))
	}
	return attrs
}

// BatchAttributes describes an armed capture batch.
func BatchAttributes(batchID string, requests, streams, expected int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(BatchIDKey, batchID),
		attribute.Int(BatchRequestsKey, requests),
		attribute.Int(BatchStreamsKey, streams),
		attribute.Int(BatchExpectedKey, expected),
	}
}

// ThreeAAttributes describes the outcome of a 3A run.
func ThreeAAttributes(iterations int, phase string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(ThreeAIterationsKey, iterations),
		attribute.String(ThreeAPhaseKey, phase),
	}
}

// ErrorAttributes marks a span as failed with an error class.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
