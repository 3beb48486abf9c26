package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestOTelMetrics_RecordSweep(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewOTelMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSweep(ctx, 3, 20*time.Millisecond, nil)
	m.RecordSweep(ctx, 2, 10*time.Millisecond, nil)
	m.RecordSweep(ctx, 0, 5*time.Millisecond, errors.New("db down"))

	got := collect(t, reader)

	expired, ok := got["backoffice.invitations.expired"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, expired.DataPoints, 1)
	assert.Equal(t, int64(5), expired.DataPoints[0].Value)

	runs, ok := got["backoffice.invitations.sweep.runs"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	byOutcome := map[string]int64{}
	for _, dp := range runs.DataPoints {
		outcome, _ := dp.Attributes.Value("outcome")
		byOutcome[outcome.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"success": 2, "error": 1}, byOutcome)

	duration, ok := got["backoffice.invitations.sweep.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range duration.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	_, ok = got["backoffice.invitations.sweep.last_success"]
	assert.True(t, ok)
}

func TestOTelMetrics_NilSafe(t *testing.T) {
	var m *OTelMetrics
	assert.NotPanics(t, func() { m.RecordSweep(context.Background(), 1, time.Second, nil) })
}
