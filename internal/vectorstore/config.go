package vectorstore

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// Kind identifies a backend strategy.
type Kind string

const (
	KindPassthrough         Kind = "passthrough"
	KindFilteredStore       Kind = "filteredStore"
	KindPayloadIndexedStore Kind = "payloadIndexedStore"
)

// ParseKind parses a backend kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindPassthrough, KindFilteredStore, KindPayloadIndexedStore:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown backend %q", ErrConfig, s)
	}
}

// collectionNamePattern validates physical collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a physical collection name.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrConfig, name)
	}
	return nil
}

// BackendConfig selects a backend and carries its connection parameters.
//
// BackendConfig is comparable; Initialize uses equality to detect repeat
// initialization with an identical config.
type BackendConfig struct {
	Kind Kind

	// EmbeddingSource names the embedding model family. It is stored with
	// every chunk so vectors from different models never mix in results.
	EmbeddingSource string

	Passthrough PassthroughConfig
	Chromem     ChromemConfig
	Qdrant      QdrantConfig
}

// PassthroughConfig configures the HTTP passthrough backend.
type PassthroughConfig struct {
	// URL is the base URL of the remote vectors API.
	URL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds each request.
	// Default: 30s
	Timeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *PassthroughConfig) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c PassthroughConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: passthrough url required", ErrConfig)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: passthrough url: %v", ErrConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: passthrough url must be http or https, got %q", ErrConfig, c.URL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: passthrough timeout must not be negative", ErrConfig)
	}
	return nil
}

// ChromemConfig configures the chromem-go filtered store.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the
	// database in memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the shared physical collection name.
	// Default: "recalld_vectors"
	Collection string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "recalld_vectors"
	}
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	return ValidateCollectionName(c.Collection)
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// QdrantConfig configures the Qdrant payload-indexed store.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT HTTP REST port).
	// Default: 6334
	Port int

	// Collection is the shared physical collection name.
	// Default: "recalld_vectors"
	Collection string

	APIKey string
	UseTLS bool

	// Distance is the similarity metric: cosine, dot or euclid.
	// Default: cosine
	Distance string

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "recalld_vectors"
	}
	if c.Distance == "" {
		c.Distance = "cosine"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: qdrant host required", ErrConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid qdrant port: %d", ErrConfig, c.Port)
	}
	if _, err := c.distance(); err != nil {
		return err
	}
	return ValidateCollectionName(c.Collection)
}

func (c QdrantConfig) distance() (qdrant.Distance, error) {
	switch strings.ToLower(c.Distance) {
	case "cosine":
		return qdrant.Distance_Cosine, nil
	case "dot":
		return qdrant.Distance_Dot, nil
	case "euclid":
		return qdrant.Distance_Euclid, nil
	default:
		return 0, fmt.Errorf("%w: unknown qdrant distance %q", ErrConfig, c.Distance)
	}
}
