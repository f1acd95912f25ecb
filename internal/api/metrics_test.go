package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestAPIMetrics_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewAPIMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.IncRequestsTotal(ctx, "GET", "/v1/queue", 200)
	m.IncRequestsTotal(ctx, "GET", "/v1/queue", 200)
	m.ObserveRequestDuration(ctx, "GET", "/v1/queue", 20*time.Millisecond)
	m.IncMessagePublished(ctx, "benchmark-jobs")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	got := map[string]metricdata.Aggregation{}
	for _, md := range rm.ScopeMetrics[0].Metrics {
		got[md.Name] = md.Data
	}

	requests, ok := got["requests_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, requests.DataPoints, 1)
	assert.EqualValues(t, 2, requests.DataPoints[0].Value)

	assert.Contains(t, got, "request_duration_seconds")
	assert.Contains(t, got, "job_events_published_total")
}

func TestAPIMetrics_QueueDepth(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewAPIMetrics(mp)
	require.NoError(t, err)

	depth := 3
	require.NoError(t, m.ObserveQueueDepth(func(context.Context) (int, error) { return depth, nil }))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	var found bool
	for _, md := range rm.ScopeMetrics[0].Metrics {
		if md.Name != "queue_depth" {
			continue
		}
		gauge, ok := md.Data.(metricdata.Gauge[int64])
		require.True(t, ok)
		require.Len(t, gauge.DataPoints, 1)
		assert.EqualValues(t, 3, gauge.DataPoints[0].Value)
		found = true
	}
	assert.True(t, found)
}
