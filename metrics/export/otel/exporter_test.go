package otel

import (
	"context"
	"sync"
	"testing"

	goAuthCore "github.com/MrEthical07/goAuthCore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.Mutex
	counters map[goAuthCore.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goAuthCore.MetricsSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := goAuthCore.MetricsSnapshot{
		Counters:   make(map[goAuthCore.MetricID]uint64, len(f.counters)),
		Histograms: map[goAuthCore.MetricID][]uint64{},
	}
	for k, v := range f.counters {
		snap.Counters[k] = v
	}
	if f.latency != nil {
		snap.Histograms[goAuthCore.MetricLoginLatency] = append([]uint64(nil), f.latency...)
	}
	return snap
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

type statefulSource struct {
	*fakeSource
	state goAuthCore.AuthState
}

func (s statefulSource) State() goAuthCore.AuthState { return s.state }

func collect(t *testing.T, src metricsSource) map[string]metricdata.Aggregation {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := NewOTelExporterFromSource(provider.Meter("goauthcore-test"), src)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, exp.Close()) })

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumValue(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "not a sum: %T", data)
	require.Len(t, sum.DataPoints, 1)
	return sum.DataPoints[0].Value
}

func gaugeValues(t *testing.T, data metricdata.Aggregation) map[string]int64 {
	t.Helper()
	g, ok := data.(metricdata.Gauge[int64])
	require.True(t, ok, "not a gauge: %T", data)
	out := make(map[string]int64, len(g.DataPoints))
	for _, dp := range g.DataPoints {
		le, _ := dp.Attributes.Value(attribute.Key("le"))
		out[le.AsString()] = dp.Value
	}
	return out
}

func TestConstructorValidation(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	_, err := NewOTelExporterFromSource(nil, &fakeSource{})
	assert.ErrorIs(t, err, ErrNilMeter)
	_, err = NewOTelExporterFromSource(provider.Meter("x"), nil)
	assert.ErrorIs(t, err, ErrNilSource)
}

func TestCountersFollowSnapshot(t *testing.T) {
	got := collect(t, &fakeSource{
		counters: map[goAuthCore.MetricID]uint64{goAuthCore.MetricTenantSwitch: 4},
		dropped:  2,
	})

	assert.Equal(t, int64(4), sumValue(t, got["goauthcore_tenant_switch_total"]))
	assert.Equal(t, int64(2), sumValue(t, got["goauthcore_audit_dropped_total"]))
	_, observed := got["goauthcore_login_success_total"]
	assert.False(t, observed, "counters absent from the snapshot are not observed")
}

func TestLatencyBucketsAreCumulative(t *testing.T) {
	got := collect(t, &fakeSource{latency: []uint64{2, 0, 1, 0, 0, 0, 0, 3}})

	buckets := gaugeValues(t, got["goauthcore_login_latency_seconds_bucket"])
	assert.Equal(t, int64(2), buckets["0_005"])
	assert.Equal(t, int64(3), buckets["0_025"])
	assert.Equal(t, int64(3), buckets["0_5"])
	assert.Equal(t, int64(6), buckets["inf"])
	assert.Equal(t, map[string]int64{"": 6}, gaugeValues(t, got["goauthcore_login_latency_seconds_count"]))
}

func TestSessionGaugesNeedStateSource(t *testing.T) {
	plain := collect(t, &fakeSource{})
	assert.NotContains(t, plain, AuthenticatedName)

	got := collect(t, statefulSource{
		fakeSource: &fakeSource{},
		state:      goAuthCore.AuthState{IsAuthenticated: true, IsImpersonating: true},
	})
	assert.Equal(t, map[string]int64{"": 1}, gaugeValues(t, got[AuthenticatedName]))
	assert.Equal(t, map[string]int64{"": 1}, gaugeValues(t, got[ImpersonatingName]))
}

func TestConcurrentCollect(t *testing.T) {
	src := &fakeSource{counters: map[goAuthCore.MetricID]uint64{}}
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := NewOTelExporterFromSource(provider.Meter("goauthcore-test"), src)
	require.NoError(t, err)
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[goAuthCore.MetricLoginSuccess] = v
			src.mu.Unlock()
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i))
	}
	wg.Wait()
}
