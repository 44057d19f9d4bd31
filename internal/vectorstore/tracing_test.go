package vectorstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/collection"
	"github.com/fyrsmithlabs/recalld/internal/telemetry"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// axisEmbedder puts texts starting with "x" on one axis and the rest on
// another.
type axisEmbedder struct{}

func (axisEmbedder) vector(text string) []float32 {
	if len(text) > 0 && text[0] == 'x' {
		return []float32{1, 0, 0}
	}
	return []float32{0, 1, 0}
}

func (e axisEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e axisEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func TestFilteredStore_Spans(t *testing.T) {
	tt := telemetry.GlobalTestTelemetry()
	ctx := context.Background()

	s := vectorstore.NewFilteredStore(axisEmbedder{}, zap.NewNop())
	require.NoError(t, s.Initialize(ctx, vectorstore.BackendConfig{Kind: vectorstore.KindFilteredStore}))
	t.Cleanup(func() { _ = s.Close() })

	key := collection.ChatKey("traced")
	id := collection.Encode(key)
	require.NoError(t, s.InsertChunks(ctx, key, []vectorstore.Chunk{
		{Hash: "1", Text: "xylophone", Metadata: vectorstore.ChunkMetadata{Source: collection.SourceChat, TotalChunks: 1}},
		{Hash: "2", Text: "banjo", Metadata: vectorstore.ChunkMetadata{Source: collection.SourceChat, TotalChunks: 1}},
	}))

	t.Run("insert", func(t *testing.T) {
		span := tt.SpanWith("FilteredStore.InsertChunks", "collection.id", id)
		require.NotNil(t, span)
		assert.Equal(t, int64(2), telemetry.SpanAttributes(span)["chunk_count"])
	})

	t.Run("query", func(t *testing.T) {
		results, err := s.Query(ctx, key, vectorstore.Query{Text: "xenon"}, 3)
		require.NoError(t, err)
		require.Len(t, results, 2)

		span := tt.SpanWith("FilteredStore.Query", "collection.id", id)
		require.NotNil(t, span)
		attrs := telemetry.SpanAttributes(span)
		assert.Equal(t, int64(3), attrs["top_k"])
		assert.Equal(t, int64(2), attrs["results_count"])
		assert.Equal(t, codes.Ok, span.Status().Code)
	})

	t.Run("query failure", func(t *testing.T) {
		other := collection.ChatKey("traced-mismatch")
		require.NoError(t, s.InsertChunks(ctx, other, []vectorstore.Chunk{
			{Hash: "3", Text: "x", Metadata: vectorstore.ChunkMetadata{Source: collection.SourceChat, TotalChunks: 1}},
		}))

		_, err := s.Query(ctx, other, vectorstore.Query{Vector: []float32{1, 0}}, 1)
		require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

		span := tt.SpanWith("FilteredStore.Query", "collection.id", collection.Encode(other))
		require.NotNil(t, span)
		assert.Equal(t, codes.Error, span.Status().Code)
	})
}
