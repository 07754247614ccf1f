package observe

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics builds Metrics on a private provider read by hand.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the data point carrying key=value, or -1.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return -1
}

type failingMeter struct{ noop.Meter }

func (failingMeter) Int64Counter(string, ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return nil, errors.New("counter rejected")
}

type failingProvider struct{ noop.MeterProvider }

func (failingProvider) Meter(string, ...metric.MeterOption) metric.Meter { return failingMeter{} }

func TestNewMetrics_InstrumentFailure(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics(failingProvider{})
	if err == nil {
		t.Fatal("expected error from failing meter")
	}
	if m != nil {
		t.Error("metrics should be nil on failure")
	}
	if !strings.Contains(err.Error(), "voxreader.voice.utterances") {
		t.Errorf("error %q should name the first failing instrument", err)
	}
}

func TestHistograms(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		h       metric.Float64Histogram
		samples []float64
	}{
		{"voxreader.fetch.duration", m.FetchDuration, []float64{0.12, 0.4}},
		{"voxreader.translation.duration", m.TranslationDuration, []float64{1.5}},
		{"voxreader.llm.duration", m.LLMDuration, []float64{3, 7, 12}},
		{"voxreader.http.request.duration", m.HTTPRequestDuration, []float64{0.05}},
	}
	for _, tt := range tests {
		for _, v := range tt.samples {
			tt.h.Record(ctx, v, metric.WithAttributes(attribute.String("path", "/translate")))
		}
	}

	rm := collect(t, reader)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met := findMetric(rm, tt.name)
			if met == nil {
				t.Fatalf("metric %q not found", tt.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no histogram data", tt.name)
			}
			if got, want := hist.DataPoints[0].Count, uint64(len(tt.samples)); got != want {
				t.Errorf("count = %d, want %d", got, want)
			}
		})
	}
}

func TestCounterHelpers(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUtterance(ctx, "en-US")
	m.RecordUtterance(ctx, "en-US")
	m.RecordUtterance(ctx, "hi-IN")
	m.RecordCommand(ctx, "scroll_down")
	m.RecordCommand(ctx, "none")
	m.RecordCommand(ctx, "scroll_down")
	m.RecordProviderRequest(ctx, "openai", "translate", "ok")
	m.RecordProviderRequest(ctx, "openai", "translate", "ok")
	m.RecordProviderRequest(ctx, "openai", "translate", "error")
	m.RecordProviderError(ctx, "openai", "summarize")
	m.RecordBreakerTransition(ctx, "openai", "open")
	m.RecordBreakerTransition(ctx, "openai", "open")
	m.RecordBreakerTransition(ctx, "openai", "closed")

	rm := collect(t, reader)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"voxreader.voice.utterances", "language", "en-US", 2},
		{"voxreader.voice.utterances", "language", "hi-IN", 1},
		{"voxreader.voice.commands", "action", "scroll_down", 2},
		{"voxreader.voice.commands", "action", "none", 1},
		{"voxreader.provider.requests", "status", "ok", 2},
		{"voxreader.provider.requests", "status", "error", 1},
		{"voxreader.provider.errors", "kind", "summarize", 1},
		{"voxreader.breaker.transitions", "to", "open", 2},
		{"voxreader.breaker.transitions", "to", "closed", 1},
	}
	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.value, func(t *testing.T) {
			if got := sumFor(t, rm, tt.metric, tt.key, tt.value); got != tt.want {
				t.Errorf("%s{%s=%q} = %d, want %d", tt.metric, tt.key, tt.value, got, tt.want)
			}
		})
	}
}

func TestUpDownCounters(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.BridgeConnections.Add(ctx, 1)
	m.BridgeConnections.Add(ctx, -1)
	m.BridgeConnections.Add(ctx, 1)
	m.RateLimited.Add(ctx, 3)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"voxreader.voice.active_sessions": 1,
		"voxreader.bridge.connections":    1,
		"voxreader.backend.rate_limited":  3,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Errorf("metric %q not found", name)
			continue
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) == 0 {
			t.Errorf("metric %q has no sum data", name)
			continue
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	t.Parallel()
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
