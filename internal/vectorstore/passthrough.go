package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/collection"
)

// maxErrorBody caps how much of an error response is read into an error.
const maxErrorBody = 4096

// PassthroughBackend forwards every call to an existing vectors API keyed
// directly by collection id. The remote side embeds and stores; each
// tenant already has physically separate storage there, so no filtering
// happens here.
type PassthroughBackend struct {
	logger *zap.Logger

	mu          sync.RWMutex
	client      *http.Client
	baseURL     string
	apiKey      string
	cfg         BackendConfig
	initialized bool
}

var _ Backend = (*PassthroughBackend)(nil)

// NewPassthroughBackend creates an uninitialized PassthroughBackend.
func NewPassthroughBackend(logger *zap.Logger) *PassthroughBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PassthroughBackend{logger: logger}
}

// Name returns KindPassthrough.
func (p *PassthroughBackend) Name() Kind { return KindPassthrough }

// Initialize validates the remote URL and prepares the HTTP client.
func (p *PassthroughBackend) Initialize(_ context.Context, cfg BackendConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		if cfg == p.cfg {
			return nil
		}
		return fmt.Errorf("%w: passthrough already initialized with a different configuration", ErrConfig)
	}

	c := cfg.Passthrough
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}

	p.client = &http.Client{Timeout: c.Timeout}
	p.baseURL = strings.TrimRight(c.URL, "/")
	p.apiKey = c.APIKey
	p.cfg = cfg
	p.initialized = true

	p.logger.Info("passthrough backend initialized", zap.String("url", p.baseURL))
	return nil
}

// source returns the configured embedding source.
func (p *PassthroughBackend) source() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.EmbeddingSource
}

// HealthCheck calls the remote health endpoint.
func (p *PassthroughBackend) HealthCheck(ctx context.Context) bool {
	err := p.do(ctx, http.MethodGet, PathHealth, nil, nil)
	if err != nil {
		p.logger.Warn("passthrough health check failed", zap.Error(err))
		return false
	}
	return true
}

// SavedHashes lists the hashes stored in the remote collection.
func (p *PassthroughBackend) SavedHashes(ctx context.Context, key collection.TenantKey) (hashes map[string]struct{}, err error) {
	defer func(start time.Time) { observe(KindPassthrough, "list", start, err) }(time.Now())

	var resp ListResponse
	req := ListRequest{CollectionID: collection.Encode(key), Source: p.source()}
	if err := p.do(ctx, http.MethodPost, PathList, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}

	hashes = make(map[string]struct{}, len(resp.Hashes))
	for _, h := range resp.Hashes {
		hashes[h] = struct{}{}
	}
	return hashes, nil
}

// InsertChunks sends chunks for the remote side to embed and store.
func (p *PassthroughBackend) InsertChunks(ctx context.Context, key collection.TenantKey, chunks []Chunk) (err error) {
	defer func(start time.Time) { observe(KindPassthrough, "insert", start, err) }(time.Now())

	if len(chunks) == 0 {
		return nil
	}

	req := InsertRequest{CollectionID: collection.Encode(key), Source: p.source(), Items: chunks}
	if err := p.do(ctx, http.MethodPost, PathInsert, req, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrInsert, err)
	}
	ChunksInserted.WithLabelValues(string(KindPassthrough)).Add(float64(len(chunks)))
	return nil
}

// DeleteHashes removes hashes from the remote collection.
func (p *PassthroughBackend) DeleteHashes(ctx context.Context, key collection.TenantKey, hashes []string) (err error) {
	defer func(start time.Time) { observe(KindPassthrough, "delete", start, err) }(time.Now())

	if len(hashes) == 0 {
		return nil
	}

	req := DeleteRequest{CollectionID: collection.Encode(key), Source: p.source(), Hashes: hashes}
	if err := p.do(ctx, http.MethodPost, PathDelete, req, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}
	return nil
}

// Query searches the remote collection.
func (p *PassthroughBackend) Query(ctx context.Context, key collection.TenantKey, q Query, topK int) (results []RetrievalResult, err error) {
	defer func(start time.Time) { observe(KindPassthrough, "query", start, err) }(time.Now())

	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrQuery, topK)
	}
	if len(q.Vector) == 0 && strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrQuery)
	}

	var resp QueryResponse
	req := QueryRequest{
		CollectionID: collection.Encode(key),
		Source:       p.source(),
		SearchText:   q.Text,
		Vector:       q.Vector,
		TopK:         topK,
	}
	if err := p.do(ctx, http.MethodPost, PathQuery, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	if resp.Results == nil {
		resp.Results = []RetrievalResult{}
	}
	return resp.Results, nil
}

// QueryMany issues one multi-collection request. If the remote rejects it,
// each tenant is queried on its own so one failure stays isolated.
func (p *PassthroughBackend) QueryMany(ctx context.Context, keys []collection.TenantKey, text string, topK int, threshold float64) map[string][]RetrievalResult {
	var resp QueryMultiResponse
	req := QueryMultiRequest{
		CollectionIDs: collection.EncodeAll(keys),
		Source:        p.source(),
		SearchText:    text,
		TopK:          topK,
		Threshold:     threshold,
	}

	err := p.do(ctx, http.MethodPost, PathQueryMulti, req, &resp)
	if err == nil {
		out := emptyResults(keys)
		for id, results := range resp.Results {
			if _, ok := out[id]; !ok {
				continue
			}
			kept := make([]RetrievalResult, 0, len(results))
			for _, r := range results {
				if r.Score >= threshold {
					kept = append(kept, r)
				}
			}
			out[id] = kept
		}
		return out
	}

	p.logger.Warn("multi-collection query failed, querying collections individually",
		zap.String("operation", "queryMany"),
		zap.Int("collections", len(keys)),
		zap.Error(err),
	)

	return queryTenants(ctx, p.logger, KindPassthrough, keys, threshold,
		func(ctx context.Context, key collection.TenantKey) ([]RetrievalResult, error) {
			return p.Query(ctx, key, Query{Text: text}, topK)
		})
}

// Purge removes the remote collection.
func (p *PassthroughBackend) Purge(ctx context.Context, key collection.TenantKey) (err error) {
	defer func(start time.Time) { observe(KindPassthrough, "purge", start, err) }(time.Now())

	if err := p.do(ctx, http.MethodPost, PathPurge, PurgeRequest{CollectionID: collection.Encode(key)}, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}
	return nil
}

// PurgeFile removes the remote collection of one attached file.
func (p *PassthroughBackend) PurgeFile(ctx context.Context, key collection.TenantKey) (err error) {
	defer func(start time.Time) { observe(KindPassthrough, "purge_file", start, err) }(time.Now())

	if key.Type != collection.SourceDocument {
		return fmt.Errorf("%w: %s", ErrNotDocument, collection.Encode(key))
	}
	if err := p.do(ctx, http.MethodPost, PathPurgeFile, PurgeFileRequest{CollectionID: collection.Encode(key)}, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}
	return nil
}

// PurgeAll removes every remote collection.
func (p *PassthroughBackend) PurgeAll(ctx context.Context, confirm PurgeConfirmation) (err error) {
	defer func(start time.Time) { observe(KindPassthrough, "purge_all", start, err) }(time.Now())

	if confirm != ConfirmPurgeAll {
		return ErrPurgeNotConfirmed
	}
	if err := p.do(ctx, http.MethodPost, PathPurgeAll, PurgeAllRequest{Confirm: confirm}, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}
	return nil
}

// Close drops the HTTP client.
func (p *PassthroughBackend) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	p.client = nil
	p.initialized = false
	return nil
}

// do sends one JSON request and decodes the JSON response into out.
func (p *PassthroughBackend) do(ctx context.Context, method, path string, in, out any) error {
	p.mu.RLock()
	client, baseURL, apiKey, ok := p.client, p.baseURL, p.apiKey, p.initialized
	p.mu.RUnlock()
	if !ok {
		return ErrNotInitialized
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError(method, path, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// remoteError builds an error from a non-2xx response, mapping the
// remote's own error classes back onto the local sentinels.
func remoteError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(raw))
	var er ErrorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		msg = er.Error
	}

	err := fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	switch {
	case strings.Contains(msg, ErrDimensionMismatch.Error()):
		return errors.Join(ErrDimensionMismatch, err)
	case strings.Contains(msg, ErrEmbedding.Error()):
		return errors.Join(ErrEmbedding, err)
	case strings.Contains(msg, ErrPurgeNotConfirmed.Error()):
		return errors.Join(ErrPurgeNotConfirmed, err)
	case strings.Contains(msg, ErrNotDocument.Error()):
		return errors.Join(ErrNotDocument, err)
	}
	return err
}
