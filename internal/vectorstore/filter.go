package vectorstore

import (
	"strconv"

	"github.com/fyrsmithlabs/recalld/internal/collection"
)

// Payload field names stored with every chunk in the shared-store backends.
const (
	FieldType            = "type"
	FieldSourceID        = "sourceId"
	FieldEmbeddingSource = "embeddingSource"
	FieldCollectionID    = "collectionId"
	FieldHash            = "hash"
	FieldText            = "text"
	FieldChunkIndex      = "chunkIndex"
	FieldTimestamp       = "timestamp"
	FieldImportance      = "importance"
	FieldKeywords        = "keywords"
	FieldChunkGroup      = "chunkGroup"
	FieldMeta            = "meta"
)

// FilterBuilder provides a fluent interface for building equality filters.
type FilterBuilder struct {
	filters map[string]string
}

// NewFilterBuilder creates a new FilterBuilder.
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filters: make(map[string]string),
	}
}

// With adds a key-value pair to the filter. Empty values are skipped.
func (b *FilterBuilder) With(key, value string) *FilterBuilder {
	if value != "" {
		b.filters[key] = value
	}
	return b
}

// WithTenant scopes the filter to one tenant.
func (b *FilterBuilder) WithTenant(key collection.TenantKey) *FilterBuilder {
	b.filters[FieldType] = string(key.Type)
	b.filters[FieldSourceID] = key.SourceID
	return b
}

// WithEmbeddingSource scopes the filter to vectors from one embedding source.
func (b *FilterBuilder) WithEmbeddingSource(source string) *FilterBuilder {
	return b.With(FieldEmbeddingSource, source)
}

// Build returns the constructed filter map.
func (b *FilterBuilder) Build() map[string]string {
	if len(b.filters) == 0 {
		return nil
	}
	return b.filters
}

// tenantFilter returns the filter selecting one tenant's chunks from one
// embedding source.
func tenantFilter(key collection.TenantKey, embeddingSource string) map[string]string {
	return NewFilterBuilder().WithTenant(key).WithEmbeddingSource(embeddingSource).Build()
}

// chunkID returns the storage identity of a chunk.
func chunkID(collectionID, hash string, index int) string {
	return collectionID + "/" + hash + "/" + strconv.Itoa(index)
}
