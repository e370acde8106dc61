// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the Prometheus collectors exported by itsd.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsTotal counts accepted harness connections.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "itsd_connections_total",
		Help: "Total number of accepted harness connections",
	})

	// ConnectionActive is 1 while a harness peer is connected.
	ConnectionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "itsd_connection_active",
		Help: "Whether a harness peer is currently connected",
	})

	// CommandsTotal counts dispatched commands by name and result.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "itsd_commands_total",
		Help: "Total number of harness commands by name and result",
	}, []string{"command", "result"})

	// CommandDuration tracks handler wall time per command.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "itsd_command_duration_seconds",
		Help:    "Duration of harness command handlers",
		Buckets: prometheus.ExponentialBuckets(0.001, 2.5, 12), // 1ms to ~60s
	}, []string{"command"})

	// BatchTimeoutsTotal counts capture batches that hit the rolling timeout.
	BatchTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "itsd_batch_timeouts_total",
		Help: "Total number of capture batches that timed out waiting for callbacks",
	})

	// CaptureFailuresTotal counts device-reported capture failures.
	CaptureFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "itsd_capture_failures_total",
		Help: "Total number of capture failures reported by the device",
	})

	// ThreeARunsTotal counts 3A runs by outcome.
	ThreeARunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "itsd_threea_runs_total",
		Help: "Total number of 3A convergence runs by result",
	}, []string{"result"})

	// ThreeAIterations observes how many requests a 3A run issued.
	ThreeAIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "itsd_threea_iterations",
		Help:    "Number of capture requests issued per 3A run",
		Buckets: prometheus.LinearBuckets(1, 4, 10),
	})
)

// Command results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// ObserveCommand records one finished command.
func ObserveCommand(command string, err error, d time.Duration) {
	if command == "" {
		command = "unknown"
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	CommandsTotal.WithLabelValues(command, result).Inc()
	CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// RecordThreeA records the outcome of one 3A run.
func RecordThreeA(converged bool, iterations int) {
	result := "converged"
	if !converged {
		result = "failed"
	}
	ThreeARunsTotal.WithLabelValues(result).Inc()
	ThreeAIterations.Observe(float64(iterations))
}
