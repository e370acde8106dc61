// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func histogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	m, ok := o.(prometheus.Metric)
	require.True(t, ok)
	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	return pb.GetHistogram().GetSampleCount()
}

func TestObserveCommand(t *testing.T) {
	okBefore := testutil.ToFloat64(CommandsTotal.WithLabelValues("do3A", ResultOK))
	errBefore := testutil.ToFloat64(CommandsTotal.WithLabelValues("do3A", ResultError))
	countBefore := histogramCount(t, CommandDuration.WithLabelValues("do3A"))

	ObserveCommand("do3A", nil, 20*time.Millisecond)
	ObserveCommand("do3A", errors.New("timeout"), time.Second)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(CommandsTotal.WithLabelValues("do3A", ResultOK)))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(CommandsTotal.WithLabelValues("do3A", ResultError)))
	assert.Equal(t, countBefore+2, histogramCount(t, CommandDuration.WithLabelValues("do3A")))
}

func TestObserveCommand_EmptyName(t *testing.T) {
	before := testutil.ToFloat64(CommandsTotal.WithLabelValues("unknown", ResultError))
	ObserveCommand("", errors.New("bad frame"), 0)
	assert.Equal(t, before+1, testutil.ToFloat64(CommandsTotal.WithLabelValues("unknown", ResultError)))
}

func TestRecordThreeA(t *testing.T) {
	converged := testutil.ToFloat64(ThreeARunsTotal.WithLabelValues("converged"))
	failed := testutil.ToFloat64(ThreeARunsTotal.WithLabelValues("failed"))

	RecordThreeA(true, 4)
	RecordThreeA(false, 30)

	assert.Equal(t, converged+1, testutil.ToFloat64(ThreeARunsTotal.WithLabelValues("converged")))
	assert.Equal(t, failed+1, testutil.ToFloat64(ThreeARunsTotal.WithLabelValues("failed")))
}

func TestIncFrameDrop(t *testing.T) {
	before := testutil.ToFloat64(FramesDroppedTotal.WithLabelValues(DropDetached))
	unknown := testutil.ToFloat64(FramesDroppedTotal.WithLabelValues("unknown"))

	IncFrameDrop(DropDetached)
	IncFrameDrop("")

	assert.Equal(t, before+1, testutil.ToFloat64(FramesDroppedTotal.WithLabelValues(DropDetached)))
	assert.Equal(t, unknown+1, testutil.ToFloat64(FramesDroppedTotal.WithLabelValues("unknown")))
}

func TestMetricNames(t *testing.T) {
	// Lint the exposition of the registered collectors.
	for _, c := range []prometheus.Collector{ConnectionsTotal, BytesWrittenTotal, QuotaInFlightBytes, BatchTimeoutsTotal} {
		problems, err := testutil.CollectAndLint(c)
		require.NoError(t, err)
		assert.Empty(t, problems)
	}
}
