// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesWrittenTotal counts response frames written to the peer.
	FramesWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "itsd_frames_written_total",
		Help: "Total number of response frames written by tag",
	}, []string{"tag"})

	// BytesWrittenTotal counts bytes written to the peer, JSON lines included.
	BytesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "itsd_bytes_written_total",
		Help: "Total number of bytes written to the harness peer",
	})

	// FramesDroppedTotal counts frames that never reached the peer.
	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "itsd_frames_dropped_total",
		Help: "Total number of response frames dropped by reason",
	}, []string{"reason"})

	// QuotaInFlightBytes tracks payload bytes reserved but not yet written.
	QuotaInFlightBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "itsd_quota_in_flight_bytes",
		Help: "Binary payload bytes currently reserved against the quota gate",
	})

	// ArchiveWritesTotal counts payload archive writes by result.
	ArchiveWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "itsd_archive_writes_total",
		Help: "Total number of payload archive writes by result",
	}, []string{"result"})
)

// Drop reasons.
const (
	DropNoConnection = "no_connection"
	DropDetached     = "detached"
	DropWriteError   = "write_error"
	DropEncodeError  = "encode_error"
	DropResource     = "resource"
)

// IncFrameDrop records a dropped frame with a concrete reason.
func IncFrameDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	FramesDroppedTotal.WithLabelValues(reason).Inc()
}
