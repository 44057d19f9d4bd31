package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "RECALLD_"
)

// defaults is loaded before the file so every option has a value.
const defaults = `
enabled: true
chunk_size: 400
score_threshold: 0.25
insert: 3
query: 2
protect: 5
batch_size: 5
template: "Past events:\n{{text}}"
position: in_prompt
depth: 2
temporal_decay:
  enabled: false
  mode: exponential
  half_life: 50
  linear_rate: 0.01
importance:
  enabled: true
  tiered: false
sync:
  lock_timeout: 5s
  poll_interval: 100ms
backend:
  kind: filteredStore
  passthrough:
    timeout: 30s
  chromem:
    path: ~/.config/recalld/vectorstore
    compress: true
    collection: recalld_vectors
  qdrant:
    host: localhost
    port: 6334
    collection: recalld_vectors
    distance: cosine
embeddings:
  provider: fastembed
  model: BAAI/bge-small-en-v1.5
  base_url: http://localhost:8080
  cache_size: 4096
  timeout: 30s
server:
  host: 127.0.0.1
  port: 9090
  shutdown_timeout: 10s
  body_limit: 8M
`

// DefaultPath returns ~/.config/recalld/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "recalld", "config.yaml"), nil
}

// Load loads configuration from defaults, then the YAML file, then
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RECALLD_BACKEND__KIND, RECALLD_CHUNK_SIZE, etc.)
//  2. YAML config file (~/.config/recalld/config.yaml)
//  3. Built-in defaults
//
// A missing file is not an error. An empty configPath uses DefaultPath.
//
// # Security Considerations
//
// The file must be owner-only (0600 or 0400), at most 1MB, and live under
// ~/.config/recalld/ or /etc/recalld/.
//
// # Environment Variable Mapping
//
// The RECALLD_ prefix is stripped, the rest is lowercased and a double
// underscore separates nesting levels, so single underscores survive in
// option names:
//
//	RECALLD_CHUNK_SIZE              -> chunk_size
//	RECALLD_BACKEND__KIND           -> backend.kind
//	RECALLD_BACKEND__QDRANT__API_KEY -> backend.qdrant.api_key
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaults)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{k: k}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps RECALLD_BACKEND__QDRANT__API_KEY to backend.qdrant.api_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// listKeys are options whose environment value is a comma separated list.
var listKeys = map[string]bool{
	"retrieval.extra_collections": true,
}

// envValue maps the variable name with envKey and splits list values on
// commas.
func envValue(name, value string) (string, interface{}) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	var items []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			items = append(items, v)
		}
	}
	return key, items
}

// readConfigFile returns the file content, or nil when the file does not
// exist.
func readConfigFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	// Validate through the opened descriptor to avoid a TOCTOU race.
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// EnsureConfigDir creates ~/.config/recalld with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "recalld")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// allowedConfigDirs lists the directories config files may live in.
func allowedConfigDirs() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return []string{
		filepath.Join(home, ".config", "recalld"),
		"/etc/recalld",
	}, nil
}

// validateConfigPath checks the path is inside an allowed directory. It
// runs even if the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Symlinks must not escape the allowed directories.
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	dirs, err := allowedConfigDirs()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		candidates := []string{dir}
		if resolvedDir, err := filepath.EvalSymlinks(dir); err == nil && resolvedDir != dir {
			candidates = append(candidates, resolvedDir)
		}
		for _, d := range candidates {
			if strings.HasPrefix(resolved, d+string(filepath.Separator)) {
				return nil
			}
		}
	}
	return fmt.Errorf("config file must be in ~/.config/recalld/ or /etc/recalld/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
