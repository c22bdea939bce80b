package metrics_test

import (
	"testing"

	"github.com/eduos/corekernel/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRegistryRecordsBufCacheCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)

	m.RecordBufCacheHit()
	m.RecordBufCacheHit()
	m.RecordBufCacheMiss()
	m.RecordBufCacheEviction()

	require.Equal(t, float64(2), counterValue(t, m.BufCacheHits))
	require.Equal(t, float64(1), counterValue(t, m.BufCacheMisses))
	require.Equal(t, float64(1), counterValue(t, m.BufCacheEvictions))
}

func TestFramesInUseGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)
	m.SetFramesInUse(42)

	var dm dto.Metric
	require.NoError(t, m.FramesInUse.Write(&dm))
	require.Equal(t, float64(42), dm.GetGauge().GetValue())
}
