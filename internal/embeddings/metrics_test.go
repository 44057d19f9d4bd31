package embeddings

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, func() map[string]metricdata.Aggregation) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newMetrics(mp.Meter(embeddingsInstrumentationName))
	collect := func() map[string]metricdata.Aggregation {
		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))
		out := make(map[string]metricdata.Aggregation)
		for _, sm := range rm.ScopeMetrics {
			for _, md := range sm.Metrics {
				out[md.Name] = md.Data
			}
		}
		return out
	}
	return m, collect
}

func attrString(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.AsString()
}

func TestMetrics_Generation(t *testing.T) {
	m, collect := newTestMetrics(t)
	ctx := context.Background()

	m.start(ProviderTEI, "BAAI/bge-small-en-v1.5", "embed_documents", "Seraphina smiles.", "The glade is quiet.").done(ctx, nil)
	m.start(ProviderTEI, "BAAI/bge-small-en-v1.5", "embed_query", "glade").done(ctx, nil)

	got := collect()

	dur, ok := got["recalld.embedding.generation_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var calls uint64
	for _, dp := range dur.DataPoints {
		calls += dp.Count
		assert.Equal(t, ProviderTEI, attrString(dp.Attributes, "provider"))
	}
	assert.Equal(t, uint64(2), calls)

	chars, ok := got["recalld.embedding.input_chars"].(metricdata.Histogram[int64])
	require.True(t, ok)
	sums := make(map[string]int64)
	for _, dp := range chars.DataPoints {
		sums[attrString(dp.Attributes, "operation")] = dp.Sum
	}
	assert.Equal(t, map[string]int64{
		"embed_documents": int64(len("Seraphina smiles.") + len("The glade is quiet.")),
		"embed_query":     int64(len("glade")),
	}, sums)

	batch, ok := got["recalld.embedding.batch_size"].(metricdata.Histogram[int64])
	require.True(t, ok)
	for _, dp := range batch.DataPoints {
		if attrString(dp.Attributes, "operation") == "embed_documents" {
			assert.Equal(t, int64(2), dp.Sum)
		}
	}

	_, hasErrors := got["recalld.embedding.errors_total"]
	assert.False(t, hasErrors, "no failures recorded")
}

func TestMetrics_ErrorReasons(t *testing.T) {
	m, collect := newTestMetrics(t)
	ctx := context.Background()

	m.start(ProviderOpenAI, "text-embedding-3-small", "embed_query").done(ctx, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput))
	m.start(ProviderOpenAI, "text-embedding-3-small", "embed_query", "q").done(ctx, fmt.Errorf("rate limiter: %w", context.Canceled))
	m.start(ProviderOpenAI, "text-embedding-3-small", "embed_documents", "a").done(ctx, fmt.Errorf("%w: 503", ErrEmbeddingFailed))
	m.start(ProviderOpenAI, "text-embedding-3-small", "embed_documents", "b").done(ctx, errors.New("boom"))

	errs, ok := collect()["recalld.embedding.errors_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	reasons := make(map[string]int64)
	for _, dp := range errs.DataPoints {
		reasons[attrString(dp.Attributes, "reason")] += dp.Value
	}
	assert.Equal(t, map[string]int64{"empty_input": 1, "canceled": 1, "provider": 2}, reasons)
}

func TestMetrics_EmptyCallSkipsSizes(t *testing.T) {
	m, collect := newTestMetrics(t)
	m.start(ProviderTEI, "m", "embed_documents").done(context.Background(), ErrEmptyInput)

	got := collect()
	_, hasBatch := got["recalld.embedding.batch_size"]
	_, hasChars := got["recalld.embedding.input_chars"]
	assert.False(t, hasBatch)
	assert.False(t, hasChars)
}

func TestMetrics_RecordCacheLookup(t *testing.T) {
	m, collect := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheLookup(ctx, "tei/bge", true)
	m.RecordCacheLookup(ctx, "tei/bge", false)
	m.RecordCacheLookup(ctx, "tei/bge", true)

	lookups, ok := collect()["recalld.embedding.cache_lookups_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	results := make(map[string]int64)
	for _, dp := range lookups.DataPoints {
		assert.Equal(t, "tei/bge", attrString(dp.Attributes, "namespace"))
		results[attrString(dp.Attributes, "result")] = dp.Value
	}
	assert.Equal(t, map[string]int64{"hit": 2, "miss": 1}, results)
}

func TestMetrics_NilInstruments(t *testing.T) {
	m := &Metrics{}
	assert.NotPanics(t, func() {
		m.start(ProviderTEI, "m", "embed_query", "q").done(context.Background(), errors.New("boom"))
		m.RecordCacheLookup(context.Background(), "ns", true)
	})
}
