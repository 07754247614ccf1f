// Package observe wires OpenTelemetry metrics and traces, context-scoped
// slog loggers and the HTTP middleware that connects them.
//
// [InitProvider] installs a Prometheus-backed meter provider; [NewMetrics]
// builds instruments on any provider, which is how tests isolate themselves
// from the global one.
package observe

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxreader metrics.
const meterName = "github.com/MrWong99/voxreader"

// Metrics holds the instruments recorded by voxreader. All fields are safe
// for concurrent use.
type Metrics struct {
	// FetchDuration tracks content fetches, client and backend side. Use with
	// attribute.String("status", ...).
	FetchDuration metric.Float64Histogram

	// TranslationDuration tracks translation round trips.
	TranslationDuration metric.Float64Histogram

	// LLMDuration tracks LLM completions issued by the backend.
	LLMDuration metric.Float64Histogram

	// Utterances counts final recognition results. Use with
	// attribute.String("language", ...).
	Utterances metric.Int64Counter

	// Commands counts interpreted utterances by resulting action. Use with
	// attribute.String("action", ...).
	Commands metric.Int64Counter

	// SpokenElements counts read-aloud requests.
	SpokenElements metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// RecognitionErrors counts sessions that ended in a recognition error.
	RecognitionErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	//   attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// RateLimited counts backend requests rejected by the rate limiter.
	RateLimited metric.Int64Counter

	// ActiveSessions tracks the number of open recognition sessions.
	ActiveSessions metric.Int64UpDownCounter

	// BridgeConnections tracks connected browser shells.
	BridgeConnections metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets (seconds) cover a cached page fetch up to a slow LLM
// summary.
var latencyBuckets = []float64{
	0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// builder creates instruments on one meter and keeps the first failure, so
// [NewMetrics] reads as a flat list of declarations.
type builder struct {
	m   metric.Meter
	err error
}

func (b *builder) latency(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.m.Float64Histogram(name, opts...)
	b.keep(name, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.m.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return g
}

func (b *builder) keep(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("observe: instrument %s: %w", name, err)
	}
}

// NewMetrics creates every instrument on a meter from mp. It fails with the
// first instrument that could not be created.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{m: mp.Meter(meterName)}
	met := &Metrics{
		FetchDuration:       b.latency("voxreader.fetch.duration", "Latency of content fetches.", latencyBuckets...),
		TranslationDuration: b.latency("voxreader.translation.duration", "Latency of translation requests.", latencyBuckets...),
		LLMDuration:         b.latency("voxreader.llm.duration", "Latency of LLM completions.", latencyBuckets...),
		HTTPRequestDuration: b.latency("voxreader.http.request.duration", "HTTP request latency by method and path."),

		Utterances:       b.counter("voxreader.voice.utterances", "Final recognition results by language."),
		Commands:         b.counter("voxreader.voice.commands", "Interpreted utterances by action."),
		SpokenElements:   b.counter("voxreader.synthesis.requests", "Read-aloud requests."),
		ProviderRequests: b.counter("voxreader.provider.requests", "Provider API requests by provider, kind and status."),

		ProviderErrors:     b.counter("voxreader.provider.errors", "Provider errors by provider and kind."),
		RecognitionErrors:  b.counter("voxreader.voice.recognition_errors", "Recognition sessions that failed."),
		BreakerTransitions: b.counter("voxreader.breaker.transitions", "Circuit breaker state changes by breaker and target state."),
		RateLimited:        b.counter("voxreader.backend.rate_limited", "Backend requests rejected by the rate limiter."),

		ActiveSessions:    b.gauge("voxreader.voice.active_sessions", "Open recognition sessions."),
		BridgeConnections: b.gauge("voxreader.bridge.connections", "Connected browser shells."),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] bound to the global meter
// provider. Components fall back to it when no instance is injected.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance counts one final recognition result in language.
func (m *Metrics) RecordUtterance(ctx context.Context, language string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("language", language)))
}

// RecordCommand counts one interpreted utterance by its action name.
func (m *Metrics) RecordCommand(ctx context.Context, action string) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordBreakerTransition counts a circuit breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("to", to),
	))
}
