package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/recalld/internal/collection"
)

func TestFilterBuilder(t *testing.T) {
	t.Run("empty builds nil", func(t *testing.T) {
		assert.Nil(t, NewFilterBuilder().Build())
	})

	t.Run("empty values skipped", func(t *testing.T) {
		got := NewFilterBuilder().With(FieldHash, "").With(FieldChunkGroup, "g").Build()
		assert.Equal(t, map[string]string{FieldChunkGroup: "g"}, got)
	})

	t.Run("tenant scope", func(t *testing.T) {
		got := NewFilterBuilder().
			WithTenant(collection.TenantKey{Type: collection.SourceLorebook, SourceID: "world"}).
			WithEmbeddingSource("openai").
			With(FieldHash, "42").
			Build()

		assert.Equal(t, map[string]string{
			FieldType:            "lorebook",
			FieldSourceID:        "world",
			FieldEmbeddingSource: "openai",
			FieldHash:            "42",
		}, got)
	})
}

func TestTenantFilter_OmitsEmptyEmbeddingSource(t *testing.T) {
	got := tenantFilter(collection.ChatKey("c1"), "")
	assert.Equal(t, map[string]string{FieldType: "chat", FieldSourceID: "c1"}, got)
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "recalld_chat_a/123/0", chunkID("recalld_chat_a", "123", 0))
	assert.NotEqual(t, chunkID("recalld_chat_a", "1", 23), chunkID("recalld_chat_a", "12", 3))
}
