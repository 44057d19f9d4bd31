package vectorstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

// wordEmbedder is a deterministic bag-of-words embedder. Every distinct
// word gets its own dimension in order of first appearance, so texts
// sharing words get similar vectors and unrelated words never collide
// until the vocabulary outgrows dim-1.
type wordEmbedder struct {
	dim   int
	calls atomic.Int32

	mu    sync.Mutex
	vocab map[string]int
}

func newWordEmbedder(dim int) *wordEmbedder {
	return &wordEmbedder{dim: dim, vocab: make(map[string]int)}
}

func (e *wordEmbedder) slot(word string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.vocab[word]
	if !ok {
		i = len(e.vocab)
		e.vocab[word] = i
	}
	return 1 + i%(e.dim-1)
}

func (e *wordEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	v[0] = 0.01
	for _, w := range strings.Fields(strings.ToLower(text)) {
		v[e.slot(w)] += 1
	}
	return v
}

func (e *wordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	return e.vector(text), nil
}

// brokenEmbedder returns a configurable failure or a wrong batch size.
type brokenEmbedder struct {
	err   error
	short bool
}

func (e *brokenEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.short {
		return make([][]float32, len(texts)-1), nil
	}
	return nil, errors.New("unexpected call")
}

func (e *brokenEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0}, nil
}

// fakeBackend records lifecycle calls for registry tests.
type fakeBackend struct {
	Backend

	kind       Kind
	initErr    error
	healthy    bool
	closed     atomic.Bool
	initCalls  atomic.Int32
	mu         sync.Mutex
	lastConfig BackendConfig
}

func (f *fakeBackend) Name() Kind { return f.kind }

func (f *fakeBackend) Initialize(_ context.Context, cfg BackendConfig) error {
	f.initCalls.Add(1)
	f.mu.Lock()
	f.lastConfig = cfg
	f.mu.Unlock()
	return f.initErr
}

func (f *fakeBackend) HealthCheck(context.Context) bool { return f.healthy }

func (f *fakeBackend) Close() error {
	f.closed.Store(true)
	return nil
}

func chunk(hash, text string, index int) Chunk {
	return Chunk{
		Hash:  hash,
		Text:  text,
		Index: index,
		Metadata: ChunkMetadata{
			Source:      "chat",
			MessageID:   index,
			ChunkIndex:  index,
			TotalChunks: 1,
		},
	}
}

func intPtr(v int) *int { return &v }
