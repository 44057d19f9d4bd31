package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrBackendUnhealthy indicates a switch rejected because the candidate
// backend failed its health check.
var ErrBackendUnhealthy = errors.New("backend failed health check")

// Registry owns the single active backend of a process.
//
// The active backend is built and initialized lazily on first use. Switch
// replaces it only after the candidate initializes and passes its health
// check; otherwise the previous backend stays active. Callers share one
// Registry by reference.
type Registry struct {
	embedder Embedder
	logger   *zap.Logger
	factory  BackendFactory

	mu     sync.RWMutex
	cfg    BackendConfig
	active Backend
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBackendFactory overrides how backends are constructed.
func WithBackendFactory(f BackendFactory) RegistryOption {
	return func(r *Registry) {
		r.factory = f
	}
}

// NewRegistry creates a registry that will serve cfg on first use.
func NewRegistry(cfg BackendConfig, embedder Embedder, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		embedder: embedder,
		logger:   logger,
		factory:  NewBackend,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backend returns the active backend, initializing it on first use.
func (r *Registry) Backend(ctx context.Context) (Backend, error) {
	r.mu.RLock()
	active := r.active
	r.mu.RUnlock()
	if active != nil {
		return active, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return r.active, nil
	}

	b, err := r.factory(r.cfg.Kind, r.embedder, r.logger)
	if err != nil {
		return nil, err
	}
	if err := b.Initialize(ctx, r.cfg); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("initializing %s backend: %w", r.cfg.Kind, err)
	}

	r.active = b
	setActive(b.Name())
	r.logger.Info("backend activated", zap.String("backend", string(b.Name())))
	return b, nil
}

// Config returns the configuration of the active or pending backend.
func (r *Registry) Config() BackendConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Switch builds a backend for cfg, initializes it and checks its health.
// On success it becomes active and the previous backend is closed; on
// failure the candidate is closed and the previous backend stays active.
func (r *Registry) Switch(ctx context.Context, cfg BackendConfig) error {
	candidate, err := r.factory(cfg.Kind, r.embedder, r.logger)
	if err != nil {
		SwitchesTotal.WithLabelValues("rejected").Inc()
		return err
	}

	if err := candidate.Initialize(ctx, cfg); err != nil {
		_ = candidate.Close()
		SwitchesTotal.WithLabelValues("rejected").Inc()
		r.logger.Warn("backend switch rejected",
			zap.String("backend", string(cfg.Kind)),
			zap.Error(err),
		)
		return fmt.Errorf("initializing %s backend: %w", cfg.Kind, err)
	}

	if !candidate.HealthCheck(ctx) {
		_ = candidate.Close()
		SwitchesTotal.WithLabelValues("rejected").Inc()
		r.logger.Warn("backend switch rejected",
			zap.String("backend", string(cfg.Kind)),
			zap.Error(ErrBackendUnhealthy),
		)
		return fmt.Errorf("%w: %s", ErrBackendUnhealthy, cfg.Kind)
	}

	r.mu.Lock()
	previous := r.active
	r.active = candidate
	r.cfg = cfg
	r.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			r.logger.Warn("closing previous backend",
				zap.String("backend", string(previous.Name())),
				zap.Error(err),
			)
		}
	}

	SwitchesTotal.WithLabelValues("success").Inc()
	setActive(candidate.Name())
	r.logger.Info("backend switched", zap.String("backend", string(cfg.Kind)))
	return nil
}

// Close closes the active backend.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return nil
	}
	err := r.active.Close()
	r.active = nil
	return err
}
