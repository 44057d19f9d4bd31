// Package vectorstore defines the backend abstraction for tenant-scoped
// vector storage.
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/recalld/internal/collection"
)

// Sentinel errors for backend operations.
//
// Backends wrap the underlying cause with one of these so callers can
// classify failures with errors.Is.
var (
	// ErrConfig indicates bad or missing connection or provider configuration.
	ErrConfig = errors.New("invalid backend configuration")

	// ErrEmbedding indicates the embedding provider failed or returned a
	// result whose shape does not match the request.
	ErrEmbedding = errors.New("embedding failed")

	// ErrInsert indicates a failed insert.
	ErrInsert = errors.New("insert failed")

	// ErrQuery indicates a failed similarity query or hash listing.
	ErrQuery = errors.New("query failed")

	// ErrDelete indicates a failed delete or purge.
	ErrDelete = errors.New("delete failed")

	// ErrDimensionMismatch indicates vectors whose length differs from the
	// dimension pinned by the first write to a physical collection.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNotInitialized indicates a call on a backend before Initialize.
	ErrNotInitialized = errors.New("backend not initialized")

	// ErrPurgeNotConfirmed indicates PurgeAll without explicit confirmation.
	ErrPurgeNotConfirmed = errors.New("purge of all collections requires confirmation")

	// ErrNotDocument indicates a purge-file request for a non-document collection.
	ErrNotDocument = errors.New("not a document collection")
)

// Embedder generates vector embeddings from text.
//
// Implementations can use local models (FastEmbed), a TEI server or an
// OpenAI-compatible API.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	// Returns one embedding per input text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Query is a similarity query. Vector takes precedence over Text when both
// are set.
type Query struct {
	Text   string
	Vector []float32
}

// PurgeConfirmation is the explicit signal PurgeAll requires.
type PurgeConfirmation string

// ConfirmPurgeAll is the only PurgeConfirmation value PurgeAll accepts.
const ConfirmPurgeAll PurgeConfirmation = "purge-all"

// Backend is the capability set every storage strategy implements.
//
// Every tenant-scoped call takes a collection.TenantKey. Passthrough
// forwards the encoded collection id to a remote vectors API, while the
// shared-store backends route every tenant through one physical collection
// and scope each read, delete and purge with a tenant filter.
//
// Implementations:
//   - PassthroughBackend: JSON over HTTP to an existing vectors API
//   - FilteredStore: one shared chromem-go collection with metadata filters
//   - PayloadIndexedStore: one shared Qdrant collection with payload indexes
type Backend interface {
	// Name returns the backend kind.
	Name() Kind

	// Initialize connects the backend.
	//
	// Returns an error wrapping ErrConfig on malformed connection
	// parameters. Calling Initialize again with an identical config is a
	// no-op; calling it with a different config fails with ErrConfig.
	Initialize(ctx context.Context, cfg BackendConfig) error

	// HealthCheck reports whether the backend is reachable. Failures are
	// reported as false, never as an error.
	HealthCheck(ctx context.Context) bool

	// SavedHashes returns the set of item hashes stored for a tenant.
	SavedHashes(ctx context.Context, key collection.TenantKey) (map[string]struct{}, error)

	// InsertChunks embeds and stores chunks for a tenant.
	//
	// Storage identity is (collection id, hash, chunk index), so inserting
	// the same chunk twice leaves one stored copy. A failed call is reported
	// as a whole; callers decide whether to retry.
	InsertChunks(ctx context.Context, key collection.TenantKey, chunks []Chunk) error

	// DeleteHashes removes every chunk carrying one of the hashes.
	// Unknown hashes are ignored.
	DeleteHashes(ctx context.Context, key collection.TenantKey, hashes []string) error

	// Query returns up to topK results for a tenant, ordered by descending
	// similarity.
	Query(ctx context.Context, key collection.TenantKey, q Query, topK int) ([]RetrievalResult, error)

	// QueryMany queries several tenants and returns results keyed by
	// collection id, dropping results below threshold.
	//
	// A failure on one tenant is logged and yields an empty list for that
	// tenant; it never aborts the others.
	QueryMany(ctx context.Context, keys []collection.TenantKey, text string, topK int, threshold float64) map[string][]RetrievalResult

	// Purge removes every chunk of a tenant.
	Purge(ctx context.Context, key collection.TenantKey) error

	// PurgeAll removes every chunk of every tenant. It fails with
	// ErrPurgeNotConfirmed unless confirm is ConfirmPurgeAll.
	PurgeAll(ctx context.Context, confirm PurgeConfirmation) error

	// Close releases in-memory state and connections. Remote data is kept.
	Close() error
}

// FilePurger is implemented by backends with a dedicated purge-file verb.
type FilePurger interface {
	PurgeFile(ctx context.Context, key collection.TenantKey) error
}

// PurgeFile removes the vectors of one attached file. key must be a
// document collection; backends without a purge-file verb purge the
// tenant.
func PurgeFile(ctx context.Context, b Backend, key collection.TenantKey) error {
	if key.Type != collection.SourceDocument {
		return fmt.Errorf("%w: %s", ErrNotDocument, collection.Encode(key))
	}
	if fp, ok := b.(FilePurger); ok {
		return fp.PurgeFile(ctx, key)
	}
	return b.Purge(ctx, key)
}
