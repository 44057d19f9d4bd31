package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/recalld/internal/collection"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("recalld.vectorstore.qdrant")

// pointNamespace seeds the UUIDv5 point ids derived from chunk identities.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/fyrsmithlabs/recalld/points"))

// scrollPageSize is the page size used when listing hashes.
const scrollPageSize = 256

// healthCheckTimeout bounds HealthCheck.
const healthCheckTimeout = 5 * time.Second

// payloadIndexes are the secondary indexes declared on the shared collection.
var payloadIndexes = []struct {
	field string
	kind  qdrant.FieldType
}{
	{FieldType, qdrant.FieldType_FieldTypeKeyword},
	{FieldSourceID, qdrant.FieldType_FieldTypeKeyword},
	{FieldEmbeddingSource, qdrant.FieldType_FieldTypeKeyword},
	{FieldHash, qdrant.FieldType_FieldTypeKeyword},
	{FieldTimestamp, qdrant.FieldType_FieldTypeInteger},
	{FieldImportance, qdrant.FieldType_FieldTypeInteger},
	{FieldKeywords, qdrant.FieldType_FieldTypeKeyword},
	{FieldChunkGroup, qdrant.FieldType_FieldTypeKeyword},
}

// PayloadIndexedStore implements Backend on one shared Qdrant collection.
//
// Tenant metadata is stored in each point's payload, and keyword/integer
// payload indexes keep the tenant filters cheap. Point ids are UUIDv5 of
// the chunk identity so re-inserting a chunk overwrites it in place.
//
// Transport is Qdrant's native gRPC API (port 6334), which has no JSON
// payload size limit.
type PayloadIndexedStore struct {
	embedder Embedder
	logger   *zap.Logger

	mu          sync.RWMutex
	client      *qdrant.Client
	cfg         BackendConfig
	qdrant      QdrantConfig
	initialized bool

	// dim is the collection vector size once known; 0 before the
	// collection is created or inspected.
	dimMu sync.Mutex
	dim   uint64
}

var _ Backend = (*PayloadIndexedStore)(nil)

// NewPayloadIndexedStore creates an uninitialized PayloadIndexedStore.
func NewPayloadIndexedStore(embedder Embedder, logger *zap.Logger) *PayloadIndexedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PayloadIndexedStore{
		embedder: embedder,
		logger:   logger,
	}
}

// Name returns KindPayloadIndexedStore.
func (s *PayloadIndexedStore) Name() Kind { return KindPayloadIndexedStore }

// Initialize creates the gRPC client. The shared collection and its
// payload indexes are declared on first use.
func (s *PayloadIndexedStore) Initialize(_ context.Context, cfg BackendConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		if cfg == s.cfg {
			return nil
		}
		return fmt.Errorf("%w: payload indexed store already initialized with a different configuration", ErrConfig)
	}

	if s.embedder == nil {
		return fmt.Errorf("%w: embedder is required", ErrConfig)
	}

	c := cfg.Qdrant
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}

	if !c.UseTLS {
		s.logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", c.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.Host,
		Port:   c.Port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(c.MaxMessageSize),
				grpc.MaxCallSendMsgSize(c.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: creating qdrant client: %v", ErrConfig, err)
	}

	s.client = client
	s.cfg = cfg
	s.qdrant = c
	s.initialized = true

	s.logger.Info("payload indexed store initialized",
		zap.String("host", c.Host),
		zap.Int("port", c.Port),
		zap.String("collection", c.Collection),
	)
	return nil
}

// conn returns the client and shared collection name.
func (s *PayloadIndexedStore) conn() (*qdrant.Client, string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, "", "", ErrNotInitialized
	}
	return s.client, s.qdrant.Collection, s.cfg.EmbeddingSource, nil
}

// HealthCheck pings the Qdrant server.
func (s *PayloadIndexedStore) HealthCheck(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "PayloadIndexedStore.HealthCheck")
	defer span.End()

	client, _, _, err := s.conn()
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		recordSpanError(span, err)
		s.logger.Warn("qdrant health check failed", zap.Error(err))
		return false
	}
	span.SetStatus(codes.Ok, "healthy")
	return true
}

// collectionDimension returns the vector size of the shared collection,
// declaring payload indexes the first time an existing collection is seen.
// exists is false when the collection has not been created yet.
func (s *PayloadIndexedStore) collectionDimension(ctx context.Context, client *qdrant.Client, name string) (dim uint64, exists bool, err error) {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	return s.loadDimensionLocked(ctx, client, name)
}

func (s *PayloadIndexedStore) loadDimensionLocked(ctx context.Context, client *qdrant.Client, name string) (uint64, bool, error) {
	if s.dim > 0 {
		return s.dim, true, nil
	}

	exists, err := client.CollectionExists(ctx, name)
	if err != nil {
		return 0, false, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		return 0, false, nil
	}

	info, err := client.GetCollectionInfo(ctx, name)
	if err != nil {
		return 0, false, fmt.Errorf("reading collection %s: %w", name, err)
	}
	size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if size == 0 {
		return 0, false, fmt.Errorf("%w: collection %s has no single dense vector config", ErrConfig, name)
	}

	if err := s.ensureIndexes(ctx, client, name); err != nil {
		return 0, false, err
	}

	s.dim = size
	return size, true, nil
}

// ensureCollection creates the shared collection with the given vector
// size if needed and checks size against the pinned dimension.
func (s *PayloadIndexedStore) ensureCollection(ctx context.Context, client *qdrant.Client, name string, size uint64) error {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()

	dim, exists, err := s.loadDimensionLocked(ctx, client, name)
	if err != nil {
		return err
	}
	if exists {
		if dim != size {
			return fmt.Errorf("%w: vectors have %d dimensions, collection %s has %d", ErrDimensionMismatch, size, name, dim)
		}
		return nil
	}

	distance, err := s.qdrant.distance()
	if err != nil {
		return err
	}

	err = client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     size,
			Distance: distance,
		}),
	})
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	if err != nil {
		// Lost a creation race; the winner's size decides.
		dim, _, lerr := s.loadDimensionLocked(ctx, client, name)
		if lerr != nil {
			return lerr
		}
		if dim != size {
			return fmt.Errorf("%w: vectors have %d dimensions, collection %s has %d", ErrDimensionMismatch, size, name, dim)
		}
		return nil
	}

	if err := s.ensureIndexes(ctx, client, name); err != nil {
		return err
	}

	s.dim = size
	s.logger.Info("created qdrant collection",
		zap.String("collection", name),
		zap.Uint64("vector_size", size),
	)
	return nil
}

// ensureIndexes declares every payload index, ignoring ones that exist.
func (s *PayloadIndexedStore) ensureIndexes(ctx context.Context, client *qdrant.Client, name string) error {
	for _, idx := range payloadIndexes {
		_, err := client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			FieldName:      idx.field,
			FieldType:      idx.kind.Enum(),
		})
		if err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("creating payload index %s on %s: %w", idx.field, name, err)
		}
	}
	return nil
}

// SavedHashes scrolls the tenant's points and collects their hashes.
func (s *PayloadIndexedStore) SavedHashes(ctx context.Context, key collection.TenantKey) (hashes map[string]struct{}, err error) {
	ctx, span := tracer.Start(ctx, "PayloadIndexedStore.SavedHashes")
	defer span.End()
	defer func(start time.Time) { observe(KindPayloadIndexedStore, "list", start, err) }(time.Now())

	id := collection.Encode(key)
	span.SetAttributes(attribute.String("collection.id", id))

	client, name, source, err := s.conn()
	if err != nil {
		return nil, err
	}

	hashes = make(map[string]struct{})
	if _, exists, err := s.collectionDimension(ctx, client, name); err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	} else if !exists {
		return hashes, nil
	}

	filter := qdrantFilter(tenantFilter(key, source))
	var offset *qdrant.PointId
	for {
		points, next, err := client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: name,
			Filter:         filter,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			WithPayload:    qdrant.NewWithPayloadInclude(FieldHash),
		})
		if err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("%w: scrolling %s: %w", ErrQuery, id, err)
		}
		for _, p := range points {
			hashes[p.GetPayload()[FieldHash].GetStringValue()] = struct{}{}
		}
		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}

	span.SetAttributes(attribute.Int("hash_count", len(hashes)))
	return hashes, nil
}

// InsertChunks embeds chunks and upserts them as one request.
func (s *PayloadIndexedStore) InsertChunks(ctx context.Context, key collection.TenantKey, chunks []Chunk) (err error) {
	ctx, span := tracer.Start(ctx, "PayloadIndexedStore.InsertChunks")
	defer span.End()
	defer func(start time.Time) { observe(KindPayloadIndexedStore, "insert", start, err) }(time.Now())

	id := collection.Encode(key)
	span.SetAttributes(
		attribute.String("collection.id", id),
		attribute.Int("chunk_count", len(chunks)),
	)

	if len(chunks) == 0 {
		return nil
	}

	client, name, source, err := s.conn()
	if err != nil {
		return err
	}

	vectors, err := embedChunks(ctx, s.embedder, chunks)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	if err := checkDimensions(vectors, 0); err != nil {
		recordSpanError(span, err)
		return err
	}
	if err := s.ensureCollection(ctx, client, name, uint64(len(vectors[0]))); err != nil {
		recordSpanError(span, err)
		if errors.Is(err, ErrDimensionMismatch) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrInsert, err)
	}

	tenant := NewTenantMetadata(key, source)
	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		payload, err := qdrantPayload(tenant, id, c)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInsert, err)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(id, c.Hash, c.Index)),
			Vectors: qdrant.NewVectorsDense(vectors[i]),
			Payload: payload,
		}
	}

	_, err = client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("%w: upserting points for %s: %w", ErrInsert, id, err)
	}
	ChunksInserted.WithLabelValues(string(KindPayloadIndexedStore)).Add(float64(len(points)))

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted points",
		zap.String("collection.id", id),
		zap.Int("count", len(points)),
	)
	return nil
}

// DeleteHashes deletes every point of the tenant carrying one of the hashes.
func (s *PayloadIndexedStore) DeleteHashes(ctx context.Context, key collection.TenantKey, hashes []string) (err error) {
	ctx, span := tracer.Start(ctx, "PayloadIndexedStore.DeleteHashes")
	defer span.End()
	defer func(start time.Time) { observe(KindPayloadIndexedStore, "delete", start, err) }(time.Now())

	id := collection.Encode(key)
	span.SetAttributes(
		attribute.String("collection.id", id),
		attribute.Int("hash_count", len(hashes)),
	)

	if len(hashes) == 0 {
		return nil
	}

	filter := qdrantFilter(NewFilterBuilder().WithTenant(key).Build())
	filter.Must = append(filter.Must, qdrant.NewMatchKeywords(FieldHash, hashes...))

	if err := s.deleteByFilter(ctx, filter); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("%w: deleting %d hashes from %s: %w", ErrDelete, len(hashes), id, err)
	}
	return nil
}

// Purge deletes every point of the tenant.
func (s *PayloadIndexedStore) Purge(ctx context.Context, key collection.TenantKey) (err error) {
	ctx, span := tracer.Start(ctx, "PayloadIndexedStore.Purge")
	defer span.End()
	defer func(start time.Time) { observe(KindPayloadIndexedStore, "purge", start, err) }(time.Now())

	id := collection.Encode(key)
	span.SetAttributes(attribute.String("collection.id", id))

	if err := s.deleteByFilter(ctx, qdrantFilter(NewFilterBuilder().WithTenant(key).Build())); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("%w: purging %s: %w", ErrDelete, id, err)
	}

	s.logger.Info("purged collection", zap.String("collection.id", id))
	return nil
}

// deleteByFilter deletes matching points. A missing collection holds
// nothing to delete.
func (s *PayloadIndexedStore) deleteByFilter(ctx context.Context, filter *qdrant.Filter) error {
	client, name, _, err := s.conn()
	if err != nil {
		return err
	}

	if _, exists, err := s.collectionDimension(ctx, client, name); err != nil {
		return err
	} else if !exists {
		return nil
	}

	_, err = client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	return err
}

// Query searches the tenant's points.
func (s *PayloadIndexedStore) Query(ctx context.Context, key collection.TenantKey, q Query, topK int) (results []RetrievalResult, err error) {
	ctx, span := tracer.Start(ctx, "PayloadIndexedStore.Query")
	defer span.End()
	defer func(start time.Time) { observe(KindPayloadIndexedStore, "query", start, err) }(time.Now())

	id := collection.Encode(key)
	span.SetAttributes(
		attribute.String("collection.id", id),
		attribute.Int("top_k", topK),
	)

	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrQuery, topK)
	}

	client, name, source, err := s.conn()
	if err != nil {
		return nil, err
	}

	vector, err := queryVector(ctx, s.embedder, q)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	dim, exists, err := s.collectionDimension(ctx, client, name)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	if !exists {
		return []RetrievalResult{}, nil
	}
	if uint64(len(vector)) != dim {
		err := fmt.Errorf("%w: query vector has %d dimensions, collection %s has %d", ErrDimensionMismatch, len(vector), name, dim)
		recordSpanError(span, err)
		return nil, err
	}

	points, err := client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQueryDense(vector),
		Filter:         qdrantFilter(tenantFilter(key, source)),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("%w: querying %s: %w", ErrQuery, id, err)
	}

	results = make([]RetrievalResult, 0, len(points))
	for _, p := range points {
		results = append(results, resultFromPayload(p.GetPayload(), p.GetScore()))
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// QueryMany embeds text once and queries every tenant with it.
func (s *PayloadIndexedStore) QueryMany(ctx context.Context, keys []collection.TenantKey, text string, topK int, threshold float64) map[string][]RetrievalResult {
	vector, err := queryVector(ctx, s.embedder, Query{Text: text})
	if err != nil {
		s.logger.Warn("query embedding failed",
			zap.String("operation", "queryMany"),
			zap.Error(err),
		)
		return emptyResults(keys)
	}

	return queryTenants(ctx, s.logger, KindPayloadIndexedStore, keys, threshold,
		func(ctx context.Context, key collection.TenantKey) ([]RetrievalResult, error) {
			return s.Query(ctx, key, Query{Vector: vector}, topK)
		})
}

// PurgeAll drops the shared collection. It is recreated on the next insert.
func (s *PayloadIndexedStore) PurgeAll(ctx context.Context, confirm PurgeConfirmation) (err error) {
	ctx, span := tracer.Start(ctx, "PayloadIndexedStore.PurgeAll")
	defer span.End()
	defer func(start time.Time) { observe(KindPayloadIndexedStore, "purge_all", start, err) }(time.Now())

	if confirm != ConfirmPurgeAll {
		return ErrPurgeNotConfirmed
	}

	client, name, _, err := s.conn()
	if err != nil {
		return err
	}

	s.dimMu.Lock()
	defer s.dimMu.Unlock()

	if err := client.DeleteCollection(ctx, name); err != nil && status.Code(err) != grpccodes.NotFound {
		recordSpanError(span, err)
		return fmt.Errorf("%w: deleting collection %s: %w", ErrDelete, name, err)
	}
	s.dim = 0

	s.logger.Warn("purged all collections", zap.String("collection", name))
	return nil
}

// Close closes the gRPC connection.
func (s *PayloadIndexedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = false
	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}

// pointID derives the deterministic point UUID for a chunk.
func pointID(collectionID, hash string, index int) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID(collectionID, hash, index))).String()
}

// qdrantFilter converts an equality filter into keyword match conditions.
func qdrantFilter(filters map[string]string) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filters))
	for k, v := range filters {
		conditions = append(conditions, qdrant.NewMatchKeyword(k, v))
	}
	return &qdrant.Filter{Must: conditions}
}

// qdrantPayload builds a point payload from tenant and chunk metadata.
func qdrantPayload(tenant TenantMetadata, collectionID string, c Chunk) (map[string]*qdrant.Value, error) {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	keywords := make([]any, len(c.Metadata.Keywords))
	for i, k := range c.Metadata.Keywords {
		keywords[i] = k
	}

	fields := map[string]any{
		FieldType:            string(tenant.Type),
		FieldSourceID:        tenant.SourceID,
		FieldEmbeddingSource: tenant.EmbeddingSource,
		FieldCollectionID:    collectionID,
		FieldHash:            c.Hash,
		FieldText:            c.Text,
		FieldChunkIndex:      c.Index,
		FieldTimestamp:       c.Metadata.Timestamp,
		FieldImportance:      c.Metadata.ImportanceValue(),
		FieldKeywords:        keywords,
		FieldMeta:            string(meta),
	}
	if c.Metadata.ChunkGroup != "" {
		fields[FieldChunkGroup] = c.Metadata.ChunkGroup
	}

	return qdrant.TryValueMap(fields)
}

// resultFromPayload converts a scored point payload.
func resultFromPayload(payload map[string]*qdrant.Value, score float32) RetrievalResult {
	var meta ChunkMetadata
	if raw := payload[FieldMeta].GetStringValue(); raw != "" {
		_ = json.Unmarshal([]byte(raw), &meta)
	}

	sc := float64(score)
	return RetrievalResult{
		Hash:          payload[FieldHash].GetStringValue(),
		Text:          payload[FieldText].GetStringValue(),
		Index:         int(payload[FieldChunkIndex].GetIntegerValue()),
		Score:         sc,
		OriginalScore: sc,
		Collection:    payload[FieldCollectionID].GetStringValue(),
		Tenant: &TenantMetadata{
			Type:            collection.SourceType(payload[FieldType].GetStringValue()),
			SourceID:        payload[FieldSourceID].GetStringValue(),
			EmbeddingSource: payload[FieldEmbeddingSource].GetStringValue(),
		},
		Metadata: meta,
	}
}

// isAlreadyExists reports whether Qdrant rejected a declaration because
// the collection or index already exists.
func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	if status.Code(err) == grpccodes.AlreadyExists {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
