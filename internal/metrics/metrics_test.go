package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/devrev/arraydb/writer-node/internal/metrics"
)

func TestNewMetrics_RegistersDistinctSeriesPerNode(t *testing.T) {
	a := metrics.NewMetrics(t.Name() + "-a")
	b := metrics.NewMetrics(t.Name() + "-b")

	a.RecordWrite("unordered", "ok", 0.1, 128)
	b.RecordWrite("unordered", "ok", 0.1, 64)

	assert.EqualValues(t, 1, testutil.ToFloat64(a.WritesTotal.WithLabelValues("unordered", "ok")))
	assert.EqualValues(t, 1, testutil.ToFloat64(b.WritesTotal.WithLabelValues("unordered", "ok")))
}

func TestRecordWrite_UpdatesCounterAndBytes(t *testing.T) {
	m := metrics.NewMetrics(t.Name())
	m.RecordWrite("global", "error", 0.05, 256)

	assert.EqualValues(t, 1, testutil.ToFloat64(m.WritesTotal.WithLabelValues("global", "error")))
	assert.EqualValues(t, 256, testutil.ToFloat64(m.WriteBytesTotal.WithLabelValues("global")))
}

func TestRecordTile_UpdatesTileCountersAndStorageHistogram(t *testing.T) {
	m := metrics.NewMetrics(t.Name())
	m.RecordTile(512, 0.01)
	m.RecordTile(256, 0.02)

	assert.EqualValues(t, 2, testutil.ToFloat64(m.TilesWrittenTotal))
	assert.EqualValues(t, 768, testutil.ToFloat64(m.TileBytesTotal))
}

func TestRecordFragmentCommittedAndAborted(t *testing.T) {
	m := metrics.NewMetrics(t.Name())
	m.RecordFragmentCommitted(4096)
	m.RecordFragmentAborted()

	assert.EqualValues(t, 1, testutil.ToFloat64(m.FragmentsCommittedTotal))
	assert.EqualValues(t, 1, testutil.ToFloat64(m.FragmentsAbortedTotal))
}

func TestSetWorkerStatsAndState(t *testing.T) {
	m := metrics.NewMetrics(t.Name())
	m.SetWorkerStats(3, 2)
	m.SetState(2)

	assert.EqualValues(t, 3, testutil.ToFloat64(m.WorkerQueueDepth))
	assert.EqualValues(t, 2, testutil.ToFloat64(m.WorkerActiveWorkers))
	assert.EqualValues(t, 2, testutil.ToFloat64(m.WriterState))
}
