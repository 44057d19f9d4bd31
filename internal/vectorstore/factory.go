package vectorstore

import (
	"fmt"

	"go.uber.org/zap"
)

// BackendFactory builds an uninitialized backend of the given kind.
type BackendFactory func(kind Kind, embedder Embedder, logger *zap.Logger) (Backend, error)

// NewBackend creates an uninitialized backend for kind.
//
//   - "passthrough": forwards to an existing vectors API; the embedder is unused
//   - "filteredStore": embedded chromem-go, no external service
//   - "payloadIndexedStore": external Qdrant server over gRPC
//
// Example usage:
//
//	backend, err := vectorstore.NewBackend(cfg.Kind, embedder, logger)
//	if err != nil {
//	    return err
//	}
//	if err := backend.Initialize(ctx, cfg); err != nil {
//	    return err
//	}
//	defer backend.Close()
func NewBackend(kind Kind, embedder Embedder, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("backend", string(kind)))

	switch kind {
	case KindPassthrough:
		return NewPassthroughBackend(logger), nil
	case KindFilteredStore:
		return NewFilteredStore(embedder, logger), nil
	case KindPayloadIndexedStore:
		return NewPayloadIndexedStore(embedder, logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q (supported: passthrough, filteredStore, payloadIndexedStore)", ErrConfig, kind)
	}
}
