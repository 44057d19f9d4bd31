package http

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/retrieval"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
	"github.com/fyrsmithlabs/recalld/internal/vectorsync"
)

// wordEmbedder is a deterministic bag-of-words embedder: texts sharing
// words get similar vectors.
type wordEmbedder struct{ dim int }

func (e wordEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	v[0] = 0.01
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[1+int(h.Sum32())%(e.dim-1)] += 1
	}
	return v
}

func (e wordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

const (
	testWait = 2 * time.Second
	testTick = 10 * time.Millisecond
)

type testServer struct {
	*Server
	registry *vectorstore.Registry
}

func setupTestServer(t *testing.T, cfg *Config) *testServer {
	t.Helper()

	embedder := wordEmbedder{dim: 256}
	registry := vectorstore.NewRegistry(vectorstore.BackendConfig{
		Kind:            vectorstore.KindFilteredStore,
		EmbeddingSource: "test:words",
	}, embedder, zap.NewNop())
	t.Cleanup(func() { _ = registry.Close() })

	engine := vectorsync.NewEngine(registry, vectorsync.Config{
		Enabled:      true,
		BatchSize:    50,
		PollInterval: 5 * time.Millisecond,
		LockTimeout:  40 * time.Millisecond,
	}, nil)
	pipeline := retrieval.NewPipeline(registry, embedder, retrieval.DefaultConfig(), nil)

	srv, err := NewServer(Deps{
		Backends: registry,
		Engine:   engine,
		Pipeline: pipeline,
		Logger:   zap.NewNop(),
	}, cfg)
	require.NoError(t, err)
	return &testServer{Server: srv, registry: registry}
}

// do sends a JSON request through the echo router and returns the recorder.
func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), "body: %s", rec.Body.String())
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var er vectorstore.ErrorResponse
	decode(t, rec, &er)
	return er.Error
}
