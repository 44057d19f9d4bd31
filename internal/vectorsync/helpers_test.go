package vectorsync

import (
	"context"
	"errors"
	"sync"

	"github.com/fyrsmithlabs/recalld/internal/collection"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// memoryBackend is a recording Backend keyed by collection id.
type memoryBackend struct {
	vectorstore.Backend

	mu        sync.Mutex
	chunks    map[string][]vectorstore.Chunk
	inserts   int
	insertErr error
	deleteErr error
	listErr   error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{chunks: make(map[string][]vectorstore.Chunk)}
}

// staticProvider always yields the same backend.
type staticProvider struct{ backend vectorstore.Backend }

func (p staticProvider) Backend(context.Context) (vectorstore.Backend, error) {
	return p.backend, nil
}

func (b *memoryBackend) seed(key collection.TenantKey, hashes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := collection.Encode(key)
	for _, h := range hashes {
		b.chunks[id] = append(b.chunks[id], vectorstore.Chunk{Hash: h})
	}
}

func (b *memoryBackend) hashes(key collection.TenantKey) map[string]struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]struct{})
	for _, c := range b.chunks[collection.Encode(key)] {
		out[c.Hash] = struct{}{}
	}
	return out
}

func (b *memoryBackend) stored(key collection.TenantKey) []vectorstore.Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]vectorstore.Chunk(nil), b.chunks[collection.Encode(key)]...)
}

func (b *memoryBackend) SavedHashes(_ context.Context, key collection.TenantKey) (map[string]struct{}, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.hashes(key), nil
}

func (b *memoryBackend) InsertChunks(_ context.Context, key collection.TenantKey, chunks []vectorstore.Chunk) error {
	if b.insertErr != nil {
		return b.insertErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inserts++
	id := collection.Encode(key)
	b.chunks[id] = append(b.chunks[id], chunks...)
	return nil
}

func (b *memoryBackend) DeleteHashes(_ context.Context, key collection.TenantKey, hashes []string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	drop := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		drop[h] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := collection.Encode(key)
	kept := b.chunks[id][:0]
	for _, c := range b.chunks[id] {
		if !drop[c.Hash] {
			kept = append(kept, c)
		}
	}
	b.chunks[id] = kept
	return nil
}

// failingProvider never yields a backend.
type failingProvider struct{}

func (failingProvider) Backend(context.Context) (vectorstore.Backend, error) {
	return nil, errors.New("no backend configured")
}

func hashesOf(texts ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(texts))
	for _, t := range texts {
		out[ItemHash(t)] = struct{}{}
	}
	return out
}
