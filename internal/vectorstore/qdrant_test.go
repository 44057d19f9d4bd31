package vectorstore

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/recalld/internal/collection"
)

func TestValidateCollectionName(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{name: "default", input: "recalld_vectors"},
		{name: "digits", input: "vectors_2"},
		{name: "empty name", input: "", wantError: true},
		{name: "uppercase letters", input: "Recalld_Vectors", wantError: true},
		{name: "special characters", input: "recalld-vectors", wantError: true},
		{name: "too long", input: "a123456789012345678901234567890123456789012345678901234567890123456789", wantError: true},
		{name: "path traversal attempt", input: "../vectors", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCollectionName(tt.input)
			if tt.wantError {
				assert.ErrorIs(t, err, ErrConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQdrantConfig_ApplyDefaults(t *testing.T) {
	var c QdrantConfig
	c.ApplyDefaults()

	assert.Equal(t, "localhost", c.Host)
	assert.Equal(t, 6334, c.Port)
	assert.Equal(t, "recalld_vectors", c.Collection)
	assert.Equal(t, "cosine", c.Distance)
	assert.Equal(t, 50*1024*1024, c.MaxMessageSize)
	assert.NoError(t, c.Validate())
}

func TestQdrantConfig_Validate(t *testing.T) {
	valid := func() QdrantConfig {
		c := QdrantConfig{}
		c.ApplyDefaults()
		return c
	}

	tests := []struct {
		name   string
		modify func(*QdrantConfig)
	}{
		{"missing host", func(c *QdrantConfig) { c.Host = "" }},
		{"port zero", func(c *QdrantConfig) { c.Port = -1 }},
		{"port too large", func(c *QdrantConfig) { c.Port = 70000 }},
		{"unknown distance", func(c *QdrantConfig) { c.Distance = "manhattan" }},
		{"bad collection", func(c *QdrantConfig) { c.Collection = "Bad Name" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(&c)
			assert.ErrorIs(t, c.Validate(), ErrConfig)
		})
	}

	t.Run("distances", func(t *testing.T) {
		for in, want := range map[string]qdrant.Distance{
			"cosine": qdrant.Distance_Cosine,
			"DOT":    qdrant.Distance_Dot,
			"euclid": qdrant.Distance_Euclid,
		} {
			c := valid()
			c.Distance = in
			got, err := c.distance()
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})
}

func TestPayloadIndexedStore_RequiresEmbedder(t *testing.T) {
	s := NewPayloadIndexedStore(nil, zap.NewNop())
	err := s.Initialize(context.Background(), BackendConfig{Kind: KindPayloadIndexedStore})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = s.SavedHashes(context.Background(), collection.ChatKey("c"))
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestPointID(t *testing.T) {
	a := pointID("recalld_chat_c1", "123", 0)
	assert.Equal(t, a, pointID("recalld_chat_c1", "123", 0))
	assert.NotEqual(t, a, pointID("recalld_chat_c1", "123", 1))
	assert.NotEqual(t, a, pointID("recalld_chat_c2", "123", 0))

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestQdrantFilter(t *testing.T) {
	f := qdrantFilter(tenantFilter(collection.ChatKey("c1"), "tei"))
	require.Len(t, f.GetMust(), 3)

	got := map[string]string{}
	for _, c := range f.GetMust() {
		fc := c.GetField()
		require.NotNil(t, fc)
		got[fc.GetKey()] = fc.GetMatch().GetKeyword()
	}
	assert.Equal(t, map[string]string{
		FieldType:            "chat",
		FieldSourceID:        "c1",
		FieldEmbeddingSource: "tei",
	}, got)
}

func TestQdrantPayload_RoundTrip(t *testing.T) {
	key := collection.TenantKey{Type: collection.SourceLorebook, SourceID: "book"}
	tenant := NewTenantMetadata(key, "openai")

	c := chunk("42", "the dragon sleeps", 2)
	c.Metadata.Timestamp = 1700000000
	c.Metadata.Importance = intPtr(150)
	c.Metadata.Keywords = []string{"dragon", "sleep"}
	c.Metadata.ChunkGroup = "lair"

	payload, err := qdrantPayload(tenant, "recalld_lorebook_book", c)
	require.NoError(t, err)

	assert.Equal(t, int64(150), payload[FieldImportance].GetIntegerValue())
	assert.Equal(t, int64(1700000000), payload[FieldTimestamp].GetIntegerValue())
	assert.Len(t, payload[FieldKeywords].GetListValue().GetValues(), 2)

	r := resultFromPayload(payload, 0.75)
	assert.Equal(t, "42", r.Hash)
	assert.Equal(t, "the dragon sleeps", r.Text)
	assert.Equal(t, 2, r.Index)
	assert.InDelta(t, 0.75, r.Score, 1e-6)
	assert.Equal(t, r.Score, r.OriginalScore)
	assert.Equal(t, "recalld_lorebook_book", r.Collection)
	require.NotNil(t, r.Tenant)
	assert.Equal(t, key, r.Tenant.Key())
	assert.Equal(t, "openai", r.Tenant.EmbeddingSource)
	assert.Equal(t, "lair", r.Metadata.ChunkGroup)
	assert.Equal(t, 150, r.Metadata.ImportanceValue())
	assert.Equal(t, []string{"dragon", "sleep"}, r.Metadata.Keywords)
}

func TestIsAlreadyExists(t *testing.T) {
	assert.False(t, isAlreadyExists(nil))
	assert.True(t, isAlreadyExists(status.Error(codes.AlreadyExists, "index")))
	assert.True(t, isAlreadyExists(errors.New("Collection `x` already exists!")))
	assert.False(t, isAlreadyExists(status.Error(codes.Unavailable, "down")))
}

// TestPayloadIndexedStore_Integration runs against a live Qdrant server
// named by RECALLD_TEST_QDRANT_HOST.
func TestPayloadIndexedStore_Integration(t *testing.T) {
	host := os.Getenv("RECALLD_TEST_QDRANT_HOST")
	if host == "" || testing.Short() {
		t.Skip("RECALLD_TEST_QDRANT_HOST not set")
	}
	port := 6334
	if p := os.Getenv("RECALLD_TEST_QDRANT_PORT"); p != "" {
		v, err := strconv.Atoi(p)
		require.NoError(t, err)
		port = v
	}

	ctx := context.Background()
	s := NewPayloadIndexedStore(newWordEmbedder(32), zap.NewNop())
	require.NoError(t, s.Initialize(ctx, BackendConfig{
		Kind:            KindPayloadIndexedStore,
		EmbeddingSource: "test",
		Qdrant:          QdrantConfig{Host: host, Port: port, Collection: "recalld_integration"},
	}))
	defer s.Close()

	require.True(t, s.HealthCheck(ctx))
	require.NoError(t, s.PurgeAll(ctx, ConfirmPurgeAll))

	a := collection.ChatKey("a")
	b := collection.ChatKey("b")

	t.Run("insert list delete", func(t *testing.T) {
		require.NoError(t, s.InsertChunks(ctx, a, []Chunk{
			chunk("1", "red apple", 0),
			chunk("2", "green pear", 0),
		}))
		require.NoError(t, s.InsertChunks(ctx, b, []Chunk{chunk("9", "blue sky", 0)}))

		hashes, err := s.SavedHashes(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, hashSet("1", "2"), hashes)

		require.NoError(t, s.DeleteHashes(ctx, a, []string{"2"}))
		hashes, err = s.SavedHashes(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, hashSet("1"), hashes)
	})

	t.Run("query stays in tenant", func(t *testing.T) {
		results, err := s.Query(ctx, a, Query{Text: "blue sky"}, 5)
		require.NoError(t, err)
		for _, r := range results {
			assert.Equal(t, "recalld_chat_a", r.Collection)
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		other := NewPayloadIndexedStore(newWordEmbedder(16), zap.NewNop())
		require.NoError(t, other.Initialize(ctx, BackendConfig{
			Kind:   KindPayloadIndexedStore,
			Qdrant: QdrantConfig{Host: host, Port: port, Collection: "recalld_integration"},
		}))
		defer other.Close()

		err := other.InsertChunks(ctx, a, []Chunk{chunk("3", "short vectors", 0)})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("purge", func(t *testing.T) {
		require.NoError(t, s.Purge(ctx, a))
		hashes, err := s.SavedHashes(ctx, a)
		require.NoError(t, err)
		assert.Empty(t, hashes)

		hashes, err = s.SavedHashes(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, hashSet("9"), hashes)
	})
}
