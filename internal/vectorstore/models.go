package vectorstore

import (
	"encoding/json"

	"github.com/fyrsmithlabs/recalld/internal/collection"
)

// DefaultImportance is the neutral importance applied when a chunk carries none.
const DefaultImportance = 100

// ChunkMetadata is the provenance and ranking data carried by a chunk.
type ChunkMetadata struct {
	// Source is the tenant type the chunk came from.
	Source collection.SourceType `json:"source"`

	// MessageID is the index of the parent item in the host sequence.
	MessageID int `json:"messageId"`

	ChunkIndex  int `json:"chunkIndex"`
	TotalChunks int `json:"totalChunks"`

	// Timestamp is the parent item's send time in unix milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`

	// Importance ranges over [0, 200]. Nil means DefaultImportance.
	Importance *int `json:"importance,omitempty"`

	Keywords         []string           `json:"keywords,omitempty"`
	KeywordWeights   map[string]float64 `json:"keywordWeights,omitempty"`
	DisabledKeywords []string           `json:"disabledKeywords,omitempty"`
	ChunkGroup       string             `json:"chunkGroup,omitempty"`

	// Conditions is an opaque activation rule evaluated by the host.
	Conditions json.RawMessage `json:"conditions,omitempty"`

	Summary        string `json:"summary,omitempty"`
	IsSummaryChunk bool   `json:"isSummaryChunk,omitempty"`

	// ParentHash links a summary chunk to its detail chunk.
	ParentHash string `json:"parentHash,omitempty"`
}

// ImportanceValue returns the chunk importance, or DefaultImportance when unset.
func (m ChunkMetadata) ImportanceValue() int {
	if m.Importance == nil {
		return DefaultImportance
	}
	return *m.Importance
}

// Chunk is a fragment of an item's text, the unit of insert, delete and query.
//
// All chunks of one item share the item's Hash and differ by Index.
type Chunk struct {
	Hash     string        `json:"hash"`
	Text     string        `json:"text"`
	Index    int           `json:"index"`
	Metadata ChunkMetadata `json:"metadata"`
}

// TenantMetadata is attached to every chunk stored in a shared-store
// backend and used to scope queries to one tenant.
type TenantMetadata struct {
	Type            collection.SourceType `json:"type"`
	SourceID        string                `json:"sourceId"`
	EmbeddingSource string                `json:"embeddingSource"`
}

// NewTenantMetadata builds tenant metadata for a key.
func NewTenantMetadata(key collection.TenantKey, embeddingSource string) TenantMetadata {
	return TenantMetadata{
		Type:            key.Type,
		SourceID:        key.SourceID,
		EmbeddingSource: embeddingSource,
	}
}

// Key returns the tenant key the metadata belongs to.
func (t TenantMetadata) Key() collection.TenantKey {
	return collection.TenantKey{Type: t.Type, SourceID: t.SourceID}
}

// RetrievalResult is one matched chunk.
//
// Score is rewritten by ranking stages; OriginalScore keeps the similarity
// returned by the store.
type RetrievalResult struct {
	Hash          string          `json:"hash"`
	Text          string          `json:"text"`
	Index         int             `json:"index"`
	Score         float64         `json:"score"`
	OriginalScore float64         `json:"originalScore"`
	Collection    string          `json:"collectionId"`
	Tenant        *TenantMetadata `json:"tenant,omitempty"`
	Metadata      ChunkMetadata   `json:"metadata"`
}
