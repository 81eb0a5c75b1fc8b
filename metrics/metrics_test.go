package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/minikernel/metrics"
)

func TestCounterAndGauge(t *testing.T) {
	var c metrics.Counter
	c.Inc()
	c.Add(4)
	require.Equal(t, uint64(5), c.Load())

	var g metrics.Gauge
	g.Set(10)
	g.Add(-3)
	require.Equal(t, int64(7), g.Load())
}

func TestTakeReflectsLiveCounters(t *testing.T) {
	before := metrics.Take()
	metrics.Scheduler.ContextSwitches.Inc()
	metrics.Disk.Failures.Inc()
	after := metrics.Take()

	require.Equal(t, before.ContextSwitches+1, after.ContextSwitches)
	require.Equal(t, before.DiskFailures+1, after.DiskFailures)
}
