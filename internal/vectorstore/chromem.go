package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/collection"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("recalld.vectorstore.chromem")

// dimensionCheckText is embedded once to learn the embedder's output size
// when a persisted collection is reopened.
const dimensionCheckText = "dimension check"

// FilteredStore implements Backend on one shared chromem-go collection.
//
// Every chunk carries TenantMetadata as document metadata, and every read,
// delete and purge is scoped with a where filter on it. chromem-go is pure
// Go and needs no external service; with a Path set it persists to gob
// files.
type FilteredStore struct {
	embedder Embedder
	logger   *zap.Logger

	mu          sync.RWMutex
	db          *chromem.DB
	coll        *chromem.Collection
	cfg         BackendConfig
	chromem     ChromemConfig
	initialized bool

	// dim is the vector dimension pinned by the first write; 0 when unknown.
	dimMu sync.Mutex
	dim   int
}

var _ Backend = (*FilteredStore)(nil)

// NewFilteredStore creates an uninitialized FilteredStore.
func NewFilteredStore(embedder Embedder, logger *zap.Logger) *FilteredStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilteredStore{
		embedder: embedder,
		logger:   logger,
	}
}

// Name returns KindFilteredStore.
func (s *FilteredStore) Name() Kind { return KindFilteredStore }

// Initialize opens the chromem database and the shared collection.
func (s *FilteredStore) Initialize(ctx context.Context, cfg BackendConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		if cfg == s.cfg {
			return nil
		}
		return fmt.Errorf("%w: filtered store already initialized with a different configuration", ErrConfig)
	}

	if s.embedder == nil {
		return fmt.Errorf("%w: embedder is required", ErrConfig)
	}

	c := cfg.Chromem
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}

	var db *chromem.DB
	if c.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(c.Path)
		if err != nil {
			return fmt.Errorf("%w: expanding path: %v", ErrConfig, err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("%w: creating directory %s: %v", ErrConfig, path, err)
		}
		db, err = chromem.NewPersistentDB(path, c.Compress)
		if err != nil {
			return fmt.Errorf("%w: opening chromem DB: %v", ErrConfig, err)
		}
	}

	coll, err := db.GetOrCreateCollection(c.Collection, nil, s.embeddingFunc())
	if err != nil {
		return fmt.Errorf("%w: opening collection %s: %v", ErrConfig, c.Collection, err)
	}

	s.db = db
	s.coll = coll
	s.cfg = cfg
	s.chromem = c
	s.initialized = true

	s.logger.Info("filtered store initialized",
		zap.String("path", c.Path),
		zap.Bool("compress", c.Compress),
		zap.String("collection", c.Collection),
		zap.Int("documents", coll.Count()),
	)

	return nil
}

// embeddingFunc adapts the Embedder for chromem. Inserts and queries
// always pass vectors, so it only runs if chromem embeds on its own.
func (s *FilteredStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// collection returns the open shared collection.
func (s *FilteredStore) collection() (*chromem.Collection, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, "", ErrNotInitialized
	}
	return s.coll, s.cfg.EmbeddingSource, nil
}

// HealthCheck reports whether the shared collection is open.
func (s *FilteredStore) HealthCheck(_ context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized && s.db.GetCollection(s.chromem.Collection, nil) != nil
}

// dimension returns the pinned vector dimension, probing the collection
// when it was opened with existing documents. Returns 0 for an empty
// collection.
func (s *FilteredStore) dimension(ctx context.Context, coll *chromem.Collection) (int, error) {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()

	if s.dim > 0 {
		return s.dim, nil
	}
	if coll.Count() == 0 {
		return 0, nil
	}

	sample, err := s.embedder.EmbedQuery(ctx, dimensionCheckText)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if _, err := coll.QueryEmbedding(ctx, sample, 1, nil, nil); err != nil {
		if isLengthMismatch(err) {
			return 0, fmt.Errorf("%w: stored vectors differ from embedder output of %d", ErrDimensionMismatch, len(sample))
		}
		return 0, fmt.Errorf("%w: checking dimension: %w", ErrQuery, err)
	}

	s.dim = len(sample)
	return s.dim, nil
}

// pinDimension records the dimension of the first write.
func (s *FilteredStore) pinDimension(dim int) {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	if s.dim == 0 {
		s.dim = dim
	}
}

// SavedHashes lists the hashes stored for a tenant.
func (s *FilteredStore) SavedHashes(ctx context.Context, key collection.TenantKey) (hashes map[string]struct{}, err error) {
	ctx, span := chromemTracer.Start(ctx, "FilteredStore.SavedHashes")
	defer span.End()
	defer func(start time.Time) { observe(KindFilteredStore, "list", start, err) }(time.Now())

	id := collection.Encode(key)
	span.SetAttributes(attribute.String("collection.id", id))

	coll, source, err := s.collection()
	if err != nil {
		return nil, err
	}

	hashes = make(map[string]struct{})
	n := coll.Count()
	if n == 0 {
		return hashes, nil
	}

	dim, err := s.dimension(ctx, coll)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	// chromem has no listing API; an exhaustive query with a unit vector
	// returns every document passing the tenant filter.
	results, err := coll.QueryEmbedding(ctx, unitVector(dim), n, tenantFilter(key, source), nil)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("%w: listing %s: %w", ErrQuery, id, err)
	}
	for _, r := range results {
		hashes[r.Metadata[FieldHash]] = struct{}{}
	}

	span.SetAttributes(attribute.Int("hash_count", len(hashes)))
	return hashes, nil
}

// InsertChunks embeds chunks and adds them to the shared collection.
func (s *FilteredStore) InsertChunks(ctx context.Context, key collection.TenantKey, chunks []Chunk) (err error) {
	ctx, span := chromemTracer.Start(ctx, "FilteredStore.InsertChunks")
	defer span.End()
	defer func(start time.Time) { observe(KindFilteredStore, "insert", start, err) }(time.Now())

	id := collection.Encode(key)
	span.SetAttributes(
		attribute.String("collection.id", id),
		attribute.Int("chunk_count", len(chunks)),
	)

	if len(chunks) == 0 {
		return nil
	}

	coll, source, err := s.collection()
	if err != nil {
		return err
	}

	vectors, err := embedChunks(ctx, s.embedder, chunks)
	if err != nil {
		recordSpanError(span, err)
		return err
	}

	dim, err := s.dimension(ctx, coll)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	if err := checkDimensions(vectors, dim); err != nil {
		recordSpanError(span, err)
		return err
	}

	tenant := NewTenantMetadata(key, source)
	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		md, err := chromemMetadata(tenant, id, c)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInsert, err)
		}
		docs[i] = chromem.Document{
			ID:        chunkID(id, c.Hash, c.Index),
			Content:   c.Text,
			Metadata:  md,
			Embedding: vectors[i],
		}
	}

	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("%w: adding documents to %s: %w", ErrInsert, id, err)
	}
	s.pinDimension(len(vectors[0]))
	ChunksInserted.WithLabelValues(string(KindFilteredStore)).Add(float64(len(docs)))

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("inserted chunks",
		zap.String("collection.id", id),
		zap.Int("count", len(docs)),
	)

	return nil
}

// DeleteHashes removes every chunk of the given hashes from a tenant.
func (s *FilteredStore) DeleteHashes(ctx context.Context, key collection.TenantKey, hashes []string) (err error) {
	ctx, span := chromemTracer.Start(ctx, "FilteredStore.DeleteHashes")
	defer span.End()
	defer func(start time.Time) { observe(KindFilteredStore, "delete", start, err) }(time.Now())

	id := collection.Encode(key)
	span.SetAttributes(
		attribute.String("collection.id", id),
		attribute.Int("hash_count", len(hashes)),
	)

	if len(hashes) == 0 {
		return nil
	}

	coll, _, err := s.collection()
	if err != nil {
		return err
	}

	var failures []string
	for _, h := range hashes {
		where := NewFilterBuilder().WithTenant(key).With(FieldHash, h).Build()
		if err := coll.Delete(ctx, where, nil); err != nil {
			span.RecordError(err)
			s.logger.Error("failed to delete hash",
				zap.String("collection.id", id),
				zap.String("hash", h),
				zap.Error(err),
			)
			failures = append(failures, h)
		}
	}

	if len(failures) > 0 {
		span.SetStatus(codes.Error, "partial deletion failure")
		return fmt.Errorf("%w: failed to delete %d of %d hashes from %s: %v", ErrDelete, len(failures), len(hashes), id, failures)
	}

	return nil
}

// Query returns the tenant's chunks most similar to q.
func (s *FilteredStore) Query(ctx context.Context, key collection.TenantKey, q Query, topK int) (results []RetrievalResult, err error) {
	ctx, span := chromemTracer.Start(ctx, "FilteredStore.Query")
	defer span.End()
	defer func(start time.Time) { observe(KindFilteredStore, "query", start, err) }(time.Now())

	id := collection.Encode(key)
	span.SetAttributes(
		attribute.String("collection.id", id),
		attribute.Int("top_k", topK),
	)

	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrQuery, topK)
	}

	coll, source, err := s.collection()
	if err != nil {
		return nil, err
	}

	vector, err := queryVector(ctx, s.embedder, q)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	n := coll.Count()
	if n == 0 {
		return []RetrievalResult{}, nil
	}

	dim, err := s.dimension(ctx, coll)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if len(vector) != dim {
		err := fmt.Errorf("%w: query vector has %d dimensions, collection has %d", ErrDimensionMismatch, len(vector), dim)
		recordSpanError(span, err)
		return nil, err
	}

	// chromem requires nResults <= document count.
	k := min(topK, n)
	found, err := coll.QueryEmbedding(ctx, vector, k, tenantFilter(key, source), nil)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("%w: querying %s: %w", ErrQuery, id, err)
	}

	results = make([]RetrievalResult, 0, len(found))
	for _, r := range found {
		results = append(results, resultFromChromem(r))
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// QueryMany embeds text once and queries every tenant with it.
func (s *FilteredStore) QueryMany(ctx context.Context, keys []collection.TenantKey, text string, topK int, threshold float64) map[string][]RetrievalResult {
	vector, err := queryVector(ctx, s.embedder, Query{Text: text})
	if err != nil {
		s.logger.Warn("query embedding failed",
			zap.String("operation", "queryMany"),
			zap.Error(err),
		)
		return emptyResults(keys)
	}

	return queryTenants(ctx, s.logger, KindFilteredStore, keys, threshold,
		func(ctx context.Context, key collection.TenantKey) ([]RetrievalResult, error) {
			return s.Query(ctx, key, Query{Vector: vector}, topK)
		})
}

// Purge removes every chunk of a tenant.
func (s *FilteredStore) Purge(ctx context.Context, key collection.TenantKey) (err error) {
	ctx, span := chromemTracer.Start(ctx, "FilteredStore.Purge")
	defer span.End()
	defer func(start time.Time) { observe(KindFilteredStore, "purge", start, err) }(time.Now())

	id := collection.Encode(key)
	span.SetAttributes(attribute.String("collection.id", id))

	coll, _, err := s.collection()
	if err != nil {
		return err
	}

	if err := coll.Delete(ctx, NewFilterBuilder().WithTenant(key).Build(), nil); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("%w: purging %s: %w", ErrDelete, id, err)
	}

	s.logger.Info("purged collection", zap.String("collection.id", id))
	return nil
}

// PurgeAll drops and recreates the shared collection.
func (s *FilteredStore) PurgeAll(ctx context.Context, confirm PurgeConfirmation) (err error) {
	_, span := chromemTracer.Start(ctx, "FilteredStore.PurgeAll")
	defer span.End()
	defer func(start time.Time) { observe(KindFilteredStore, "purge_all", start, err) }(time.Now())

	if confirm != ConfirmPurgeAll {
		return ErrPurgeNotConfirmed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	name := s.chromem.Collection
	if err := s.db.DeleteCollection(name); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("%w: deleting collection %s: %w", ErrDelete, name, err)
	}
	coll, err := s.db.CreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("%w: recreating collection %s: %w", ErrDelete, name, err)
	}
	s.coll = coll

	s.dimMu.Lock()
	s.dim = 0
	s.dimMu.Unlock()

	s.logger.Warn("purged all collections", zap.String("collection", name))
	return nil
}

// Close drops the in-memory handles. Persisted data is kept.
func (s *FilteredStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.db = nil
	s.coll = nil
	s.initialized = false
	return nil
}

// chromemMetadata flattens tenant and chunk metadata into chromem's
// string map. The full ChunkMetadata travels as JSON under FieldMeta.
func chromemMetadata(tenant TenantMetadata, collectionID string, c Chunk) (map[string]string, error) {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	md := map[string]string{
		FieldType:            string(tenant.Type),
		FieldSourceID:        tenant.SourceID,
		FieldEmbeddingSource: tenant.EmbeddingSource,
		FieldCollectionID:    collectionID,
		FieldHash:            c.Hash,
		FieldChunkIndex:      strconv.Itoa(c.Index),
		FieldTimestamp:       strconv.FormatInt(c.Metadata.Timestamp, 10),
		FieldImportance:      strconv.Itoa(c.Metadata.ImportanceValue()),
		FieldMeta:            string(meta),
	}
	if c.Metadata.ChunkGroup != "" {
		md[FieldChunkGroup] = c.Metadata.ChunkGroup
	}
	return md, nil
}

// resultFromChromem converts a chromem query result.
func resultFromChromem(r chromem.Result) RetrievalResult {
	md := r.Metadata
	index, _ := strconv.Atoi(md[FieldChunkIndex])

	var meta ChunkMetadata
	if raw := md[FieldMeta]; raw != "" {
		// Metadata was written by chromemMetadata; a decode failure leaves
		// the zero value rather than dropping the match.
		_ = json.Unmarshal([]byte(raw), &meta)
	}

	score := float64(r.Similarity)
	return RetrievalResult{
		Hash:          md[FieldHash],
		Text:          r.Content,
		Index:         index,
		Score:         score,
		OriginalScore: score,
		Collection:    md[FieldCollectionID],
		Tenant: &TenantMetadata{
			Type:            collection.SourceType(md[FieldType]),
			SourceID:        md[FieldSourceID],
			EmbeddingSource: md[FieldEmbeddingSource],
		},
		Metadata: meta,
	}
}

// isLengthMismatch reports whether chromem rejected vectors of unequal length.
func isLengthMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "same length")
}

// unitVector returns a vector of length dim with a single non-zero component.
func unitVector(dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	return v
}

// embedChunks embeds chunk texts and checks the provider returned one
// vector per chunk.
func embedChunks(ctx context.Context, embedder Embedder, chunks []Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: %w: got %d embeddings for %d chunks", ErrInsert, ErrEmbedding, len(vectors), len(chunks))
	}
	return vectors, nil
}

// checkDimensions verifies every vector has the pinned dimension, or a
// common dimension when none is pinned yet.
func checkDimensions(vectors [][]float32, dim int) error {
	if dim == 0 && len(vectors) > 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	if dim == 0 {
		return fmt.Errorf("%w: empty vectors", ErrEmbedding)
	}
	return nil
}

// queryVector returns q.Vector or embeds q.Text.
func queryVector(ctx context.Context, embedder Embedder, q Query) ([]float32, error) {
	if len(q.Vector) > 0 {
		return q.Vector, nil
	}
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrQuery)
	}
	v, err := embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrEmbedding)
	}
	return v, nil
}

// recordSpanError marks the span failed.
func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
