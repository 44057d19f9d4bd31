// Package config loads recalld configuration from YAML and environment
// variables and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/recalld/internal/collection"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// ErrInvalid indicates a configuration value out of range.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the complete recalld configuration.
//
// The top-level fields are the chat-facing options; nested sections carry
// infrastructure settings. Logging and telemetry sections are decoded on
// demand with Section so this package stays free of their types.
type Config struct {
	Enabled        bool    `koanf:"enabled"`
	ChunkSize      int     `koanf:"chunk_size"`
	ScoreThreshold float64 `koanf:"score_threshold"`
	Insert         int     `koanf:"insert"`
	Query          int     `koanf:"query"`
	Protect        int     `koanf:"protect"`
	BatchSize      int     `koanf:"batch_size"`
	Template       string  `koanf:"template"`
	Position       string  `koanf:"position"`
	Depth          int     `koanf:"depth"`

	TemporalDecay DecayConfig      `koanf:"temporal_decay"`
	Importance    ImportanceConfig `koanf:"importance"`
	Sync          SyncConfig       `koanf:"sync"`
	Backend       BackendConfig    `koanf:"backend"`
	Embeddings    EmbeddingsConfig `koanf:"embeddings"`
	Retrieval     RetrievalConfig  `koanf:"retrieval"`
	Server        ServerConfig     `koanf:"server"`

	k *koanf.Koanf
}

// DecayConfig holds temporal decay settings.
type DecayConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Mode       string  `koanf:"mode"`
	HalfLife   float64 `koanf:"half_life"`
	LinearRate float64 `koanf:"linear_rate"`
}

// ImportanceConfig holds importance weighting settings.
type ImportanceConfig struct {
	Enabled bool `koanf:"enabled"`
	Tiered  bool `koanf:"tiered"`
}

// SyncConfig holds synchronization guard timing.
type SyncConfig struct {
	LockTimeout  Duration `koanf:"lock_timeout"`
	PollInterval Duration `koanf:"poll_interval"`
}

// BackendConfig selects and connects the storage backend.
type BackendConfig struct {
	Kind            string            `koanf:"kind"`
	EmbeddingSource string            `koanf:"embedding_source"`
	Passthrough     PassthroughConfig `koanf:"passthrough"`
	Chromem         ChromemConfig     `koanf:"chromem"`
	Qdrant          QdrantConfig      `koanf:"qdrant"`
}

// PassthroughConfig holds remote vectors API settings.
type PassthroughConfig struct {
	URL     string   `koanf:"url"`
	APIKey  Secret   `koanf:"api_key"`
	Timeout Duration `koanf:"timeout"`
}

// ChromemConfig holds embedded store settings.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	APIKey     Secret `koanf:"api_key"`
	UseTLS     bool   `koanf:"use_tls"`
	Distance   string `koanf:"distance"`
}

// EmbeddingsConfig holds embedding provider settings.
type EmbeddingsConfig struct {
	Provider          string   `koanf:"provider"`
	Model             string   `koanf:"model"`
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	CacheDir          string   `koanf:"cache_dir"`
	CacheSize         int      `koanf:"cache_size"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Timeout           Duration `koanf:"timeout"`
}

// RetrievalConfig holds retrieval settings beyond the top-level options.
type RetrievalConfig struct {
	// ExtraCollections are collection ids (recalld_<type>_<sourceId>)
	// queried alongside the chat.
	ExtraCollections []string `koanf:"extra_collections"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`

	// APIKey, when set, is required as a bearer token on every API route.
	APIKey Secret `koanf:"api_key"`

	// BodyLimit caps request bodies, e.g. "8M".
	BodyLimit string `koanf:"body_limit"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Section decodes the raw subtree at path into out. It is used for the
// logging and telemetry sections.
func (c *Config) Section(path string, out interface{}) error {
	if c.k == nil || !c.k.Exists(path) {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be >= 0, got %d", c.ChunkSize))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize))
	}
	if c.Sync.LockTimeout.Duration() <= 0 || c.Sync.PollInterval.Duration() <= 0 {
		errs = append(errs, errors.New("sync.lock_timeout and sync.poll_interval must be positive"))
	}
	if _, err := vectorstore.ParseKind(c.Backend.Kind); err != nil {
		errs = append(errs, err)
	}
	switch c.Embeddings.Provider {
	case embeddings.ProviderFastEmbed, embeddings.ProviderTEI, embeddings.ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be fastembed, tei or openai, got %q", c.Embeddings.Provider))
	}
	if c.Embeddings.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("embeddings.cache_size must be >= 0, got %d", c.Embeddings.CacheSize))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if _, err := c.ExtraCollectionKeys(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ExtraCollectionKeys decodes retrieval.extra_collections.
func (c *Config) ExtraCollectionKeys() ([]collection.TenantKey, error) {
	keys := make([]collection.TenantKey, 0, len(c.Retrieval.ExtraCollections))
	for _, id := range c.Retrieval.ExtraCollections {
		key := collection.Decode(id)
		if err := key.Validate(); err != nil {
			return nil, fmt.Errorf("retrieval.extra_collections %q: %w", id, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// EmbeddingProvider maps the embeddings section to a provider config.
func (c *Config) EmbeddingProvider() embeddings.ProviderConfig {
	e := c.Embeddings
	return embeddings.ProviderConfig{
		Provider:          e.Provider,
		Model:             e.Model,
		BaseURL:           e.BaseURL,
		APIKey:            e.APIKey.Value(),
		CacheDir:          e.CacheDir,
		CacheSize:         e.CacheSize,
		RequestsPerSecond: e.RequestsPerSecond,
		Timeout:           e.Timeout.Duration(),
	}
}

// EmbeddingSource returns backend.embedding_source, or the provider's
// "<provider>:<model>" label when unset.
func (c *Config) EmbeddingSource() string {
	if c.Backend.EmbeddingSource != "" {
		return c.Backend.EmbeddingSource
	}
	return c.EmbeddingProvider().Source()
}

// VectorStore maps the backend section to a vectorstore config with
// defaults applied. The result is comparable, so callers detect backend
// changes with ==.
func (c *Config) VectorStore() vectorstore.BackendConfig {
	b := c.Backend
	cfg := vectorstore.BackendConfig{
		Kind:            vectorstore.Kind(b.Kind),
		EmbeddingSource: c.EmbeddingSource(),
		Passthrough: vectorstore.PassthroughConfig{
			URL:     b.Passthrough.URL,
			APIKey:  b.Passthrough.APIKey.Value(),
			Timeout: b.Passthrough.Timeout.Duration(),
		},
		Chromem: vectorstore.ChromemConfig{
			Path:       b.Chromem.Path,
			Compress:   b.Chromem.Compress,
			Collection: b.Chromem.Collection,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:       b.Qdrant.Host,
			Port:       b.Qdrant.Port,
			Collection: b.Qdrant.Collection,
			APIKey:     b.Qdrant.APIKey.Value(),
			UseTLS:     b.Qdrant.UseTLS,
			Distance:   b.Qdrant.Distance,
		},
	}
	cfg.Passthrough.ApplyDefaults()
	cfg.Chromem.ApplyDefaults()
	cfg.Qdrant.ApplyDefaults()
	return cfg
}

// ShutdownTimeout returns the server shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return c.Server.ShutdownTimeout.Duration()
}
