package embeddings

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const embeddingsInstrumentationName = "github.com/fyrsmithlabs/recalld/internal/embeddings"

// Metrics records remote embedding calls and cache lookups. Instruments
// that fail to register are reported to otel.Handle and left nil.
type Metrics struct {
	duration metric.Float64Histogram
	texts    metric.Int64Histogram
	chars    metric.Int64Histogram
	errors   metric.Int64Counter
	cache    metric.Int64Counter
}

// NewMetrics registers instruments on the global meter provider.
func NewMetrics() *Metrics {
	return newMetrics(otel.Meter(embeddingsInstrumentationName))
}

func newMetrics(meter metric.Meter) *Metrics {
	m := &Metrics{}
	var err error
	m.duration, err = meter.Float64Histogram("recalld.embedding.generation_duration_seconds",
		metric.WithDescription("Embedding call latency by provider, model and operation, rate limiter wait included."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	reportErr(err)
	m.texts, err = meter.Int64Histogram("recalld.embedding.batch_size",
		metric.WithDescription("Texts per embedding call. Sync sends one call per batch of chunks."),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250))
	reportErr(err)
	m.chars, err = meter.Int64Histogram("recalld.embedding.input_chars",
		metric.WithDescription("Characters sent per embedding call; follows chunk_size."),
		metric.WithUnit("{char}"),
		metric.WithExplicitBucketBoundaries(100, 500, 2000, 8000, 32000, 128000))
	reportErr(err)
	m.errors, err = meter.Int64Counter("recalld.embedding.errors_total",
		metric.WithDescription("Failed embedding calls by reason (canceled, empty_input, provider)."),
		metric.WithUnit("{error}"))
	reportErr(err)
	m.cache, err = meter.Int64Counter("recalld.embedding.cache_lookups_total",
		metric.WithDescription("Embedding cache lookups by namespace and result (hit, miss)."),
		metric.WithUnit("{lookup}"))
	reportErr(err)
	return m
}

func reportErr(err error) {
	if err != nil {
		otel.Handle(err)
	}
}

// generation times one provider call; finish it with done.
type generation struct {
	m     *Metrics
	attrs []attribute.KeyValue
	texts int
	chars int
	start time.Time
}

func (m *Metrics) start(provider, model, op string, texts ...string) *generation {
	g := &generation{
		m: m,
		attrs: []attribute.KeyValue{
			attribute.String("provider", provider),
			attribute.String("model", model),
			attribute.String("operation", op),
		},
		texts: len(texts),
		start: time.Now(),
	}
	for _, t := range texts {
		g.chars += len(t)
	}
	return g
}

func (g *generation) done(ctx context.Context, err error) {
	m := g.m
	attrs := metric.WithAttributes(g.attrs...)
	if m.duration != nil {
		m.duration.Record(ctx, time.Since(g.start).Seconds(), attrs)
	}
	if g.texts > 0 && m.texts != nil {
		m.texts.Record(ctx, int64(g.texts), attrs)
		if m.chars != nil {
			m.chars.Record(ctx, int64(g.chars), attrs)
		}
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(append(g.attrs, attribute.String("reason", errorReason(err)))...))
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	default:
		return "provider"
	}
}

// RecordCacheLookup records one embedding cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, namespace string, hit bool) {
	if m.cache == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.Add(ctx, 1, metric.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("result", result),
	))
}
