package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedFactory hands out prepared backends per kind.
func scriptedFactory(backends map[Kind]*fakeBackend) BackendFactory {
	return func(kind Kind, _ Embedder, _ *zap.Logger) (Backend, error) {
		b, ok := backends[kind]
		if !ok {
			return nil, ErrConfig
		}
		return b, nil
	}
}

func TestRegistry_LazyInitialization(t *testing.T) {
	ctx := context.Background()
	first := &fakeBackend{kind: KindFilteredStore, healthy: true}
	cfg := BackendConfig{Kind: KindFilteredStore, EmbeddingSource: "tei"}

	r := NewRegistry(cfg, nil, nil, WithBackendFactory(scriptedFactory(map[Kind]*fakeBackend{
		KindFilteredStore: first,
	})))
	assert.Equal(t, int32(0), first.initCalls.Load())

	b, err := r.Backend(ctx)
	require.NoError(t, err)
	assert.Same(t, first, b)

	b, err = r.Backend(ctx)
	require.NoError(t, err)
	assert.Same(t, first, b)
	assert.Equal(t, int32(1), first.initCalls.Load())
	assert.Equal(t, cfg, first.lastConfig)
}

func TestRegistry_LazyInitializationFailure(t *testing.T) {
	ctx := context.Background()
	broken := &fakeBackend{kind: KindFilteredStore, initErr: ErrConfig}

	r := NewRegistry(BackendConfig{Kind: KindFilteredStore}, nil, nil, WithBackendFactory(scriptedFactory(map[Kind]*fakeBackend{
		KindFilteredStore: broken,
	})))

	_, err := r.Backend(ctx)
	assert.ErrorIs(t, err, ErrConfig)
	assert.True(t, broken.closed.Load())
}

func TestRegistry_Switch(t *testing.T) {
	ctx := context.Background()
	initial := BackendConfig{Kind: KindFilteredStore}

	t.Run("success closes previous", func(t *testing.T) {
		old := &fakeBackend{kind: KindFilteredStore, healthy: true}
		next := &fakeBackend{kind: KindPayloadIndexedStore, healthy: true}
		r := NewRegistry(initial, nil, nil, WithBackendFactory(scriptedFactory(map[Kind]*fakeBackend{
			KindFilteredStore:       old,
			KindPayloadIndexedStore: next,
		})))
		_, err := r.Backend(ctx)
		require.NoError(t, err)

		target := BackendConfig{Kind: KindPayloadIndexedStore, Qdrant: QdrantConfig{Host: "q"}}
		require.NoError(t, r.Switch(ctx, target))

		b, err := r.Backend(ctx)
		require.NoError(t, err)
		assert.Same(t, next, b)
		assert.True(t, old.closed.Load())
		assert.False(t, next.closed.Load())
		assert.Equal(t, target, r.Config())
	})

	t.Run("initialization failure keeps previous", func(t *testing.T) {
		old := &fakeBackend{kind: KindFilteredStore, healthy: true}
		next := &fakeBackend{kind: KindPassthrough, initErr: errors.New("bad url")}
		r := NewRegistry(initial, nil, nil, WithBackendFactory(scriptedFactory(map[Kind]*fakeBackend{
			KindFilteredStore: old,
			KindPassthrough:   next,
		})))
		_, err := r.Backend(ctx)
		require.NoError(t, err)

		err = r.Switch(ctx, BackendConfig{Kind: KindPassthrough})
		require.Error(t, err)

		b, err := r.Backend(ctx)
		require.NoError(t, err)
		assert.Same(t, old, b)
		assert.False(t, old.closed.Load())
		assert.True(t, next.closed.Load())
		assert.Equal(t, initial, r.Config())
	})

	t.Run("unhealthy candidate keeps previous", func(t *testing.T) {
		old := &fakeBackend{kind: KindFilteredStore, healthy: true}
		next := &fakeBackend{kind: KindPassthrough, healthy: false}
		r := NewRegistry(initial, nil, nil, WithBackendFactory(scriptedFactory(map[Kind]*fakeBackend{
			KindFilteredStore: old,
			KindPassthrough:   next,
		})))
		_, err := r.Backend(ctx)
		require.NoError(t, err)

		err = r.Switch(ctx, BackendConfig{Kind: KindPassthrough})
		assert.ErrorIs(t, err, ErrBackendUnhealthy)

		b, err := r.Backend(ctx)
		require.NoError(t, err)
		assert.Same(t, old, b)
		assert.True(t, next.closed.Load())
	})

	t.Run("switch before first use", func(t *testing.T) {
		next := &fakeBackend{kind: KindPayloadIndexedStore, healthy: true}
		r := NewRegistry(initial, nil, nil, WithBackendFactory(scriptedFactory(map[Kind]*fakeBackend{
			KindPayloadIndexedStore: next,
		})))

		require.NoError(t, r.Switch(ctx, BackendConfig{Kind: KindPayloadIndexedStore}))
		b, err := r.Backend(ctx)
		require.NoError(t, err)
		assert.Same(t, next, b)
		assert.Equal(t, int32(1), next.initCalls.Load())
	})

	t.Run("unknown kind", func(t *testing.T) {
		r := NewRegistry(initial, nil, nil, WithBackendFactory(scriptedFactory(nil)))
		assert.ErrorIs(t, r.Switch(ctx, BackendConfig{Kind: "nope"}), ErrConfig)
	})
}

func TestRegistry_Close(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{kind: KindFilteredStore, healthy: true}
	r := NewRegistry(BackendConfig{Kind: KindFilteredStore}, nil, nil, WithBackendFactory(scriptedFactory(map[Kind]*fakeBackend{
		KindFilteredStore: b,
	})))

	require.NoError(t, r.Close())
	_, err := r.Backend(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.True(t, b.closed.Load())
}
