package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/collection"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// testHome points HOME at a temp dir and returns the recalld config path
// inside it.
func testHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "recalld")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return filepath.Join(dir, "config.yaml")
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoad_Defaults(t *testing.T) {
	path := testHome(t)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 400, cfg.ChunkSize)
	assert.Equal(t, 0.25, cfg.ScoreThreshold)
	assert.Equal(t, 3, cfg.Insert)
	assert.Equal(t, 2, cfg.Query)
	assert.Equal(t, 5, cfg.Protect)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, "Past events:\n{{text}}", cfg.Template)
	assert.Equal(t, "in_prompt", cfg.Position)
	assert.Equal(t, "exponential", cfg.TemporalDecay.Mode)
	assert.Equal(t, 5*time.Second, cfg.Sync.LockTimeout.Duration())
	assert.Equal(t, 100*time.Millisecond, cfg.Sync.PollInterval.Duration())
	assert.Equal(t, "filteredStore", cfg.Backend.Kind)
	assert.Equal(t, 6334, cfg.Backend.Qdrant.Port)
	assert.Equal(t, "fastembed", cfg.Embeddings.Provider)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
}

func TestLoad_File(t *testing.T) {
	path := testHome(t)
	writeConfig(t, path, `
chunk_size: 0
insert: 7
temporal_decay:
  enabled: true
  mode: linear
  linear_rate: 0.05
backend:
  kind: payloadIndexedStore
  qdrant:
    host: qdrant.internal
    api_key: s3cret
embeddings:
  provider: tei
  model: BAAI/bge-base-en-v1.5
  base_url: http://tei:8080
retrieval:
  extra_collections:
    - recalld_lorebook_world
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.ChunkSize)
	assert.Equal(t, 7, cfg.Insert)
	assert.Equal(t, 2, cfg.Query, "unset options keep defaults")
	assert.True(t, cfg.TemporalDecay.Enabled)
	assert.Equal(t, "linear", cfg.TemporalDecay.Mode)
	assert.Equal(t, 0.05, cfg.TemporalDecay.LinearRate)
	assert.Equal(t, "qdrant.internal", cfg.Backend.Qdrant.Host)
	assert.Equal(t, "s3cret", cfg.Backend.Qdrant.APIKey.Value())
	assert.Equal(t, "[REDACTED]", cfg.Backend.Qdrant.APIKey.String())

	keys, err := cfg.ExtraCollectionKeys()
	require.NoError(t, err)
	assert.Equal(t, []collection.TenantKey{{Type: collection.SourceLorebook, SourceID: "world"}}, keys)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	path := testHome(t)
	writeConfig(t, path, "insert: 7\nbackend:\n  kind: passthrough\n  passthrough:\n    url: http://file:8000\n")

	t.Setenv("RECALLD_INSERT", "9")
	t.Setenv("RECALLD_ENABLED", "false")
	t.Setenv("RECALLD_BACKEND__PASSTHROUGH__URL", "http://env:8000")
	t.Setenv("RECALLD_SYNC__LOCK_TIMEOUT", "2s")
	t.Setenv("RECALLD_RETRIEVAL__EXTRA_COLLECTIONS", "recalld_wiki_a,recalld_document_b")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Insert)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "http://env:8000", cfg.Backend.Passthrough.URL)
	assert.Equal(t, 2*time.Second, cfg.Sync.LockTimeout.Duration())
	assert.Equal(t, []string{"recalld_wiki_a", "recalld_document_b"}, cfg.Retrieval.ExtraCollections)
}

func TestEnvValue(t *testing.T) {
	key, v := envValue("RECALLD_RETRIEVAL__EXTRA_COLLECTIONS", "recalld_wiki_a, recalld_document_b,")
	assert.Equal(t, "retrieval.extra_collections", key)
	assert.Equal(t, []string{"recalld_wiki_a", "recalld_document_b"}, v)

	key, v = envValue("RECALLD_TEMPLATE", "a,b")
	assert.Equal(t, "template", key)
	assert.Equal(t, "a,b", v)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "chunk_size", envKey("RECALLD_CHUNK_SIZE"))
	assert.Equal(t, "backend.kind", envKey("RECALLD_BACKEND__KIND"))
	assert.Equal(t, "backend.qdrant.api_key", envKey("RECALLD_BACKEND__QDRANT__API_KEY"))
}

func TestLoad_MissingFile(t *testing.T) {
	path := testHome(t)
	_, err := Load(filepath.Join(filepath.Dir(path), "absent.yaml"))
	assert.NoError(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := testHome(t)
	writeConfig(t, path, "insert: [unclosed\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown backend", "backend:\n  kind: redis\n", "unknown backend"},
		{"unknown provider", "embeddings:\n  provider: cohere\n", "embeddings.provider"},
		{"bad port", "server:\n  port: 70000\n", "invalid server port"},
		{"zero batch", "batch_size: 0\n", "batch_size"},
		{"negative chunk size", "chunk_size: -1\n", "chunk_size"},
		{"bad extra collection", "retrieval:\n  extra_collections: [\"\"]\n", "extra_collections"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testHome(t)
			writeConfig(t, path, tt.yaml)

			_, err := Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_InsecurePermissions(t *testing.T) {
	path := testHome(t)
	require.NoError(t, os.WriteFile(path, []byte("insert: 4\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_ReadOnlyPermissions(t *testing.T) {
	path := testHome(t)
	require.NoError(t, os.WriteFile(path, []byte("insert: 4\n"), 0400))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Insert)
}

func TestLoad_FileTooLarge(t *testing.T) {
	path := testHome(t)
	writeConfig(t, path, "# "+strings.Repeat("x", maxConfigFileSize)+"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestValidateConfigPath(t *testing.T) {
	path := testHome(t)
	home := filepath.Dir(filepath.Dir(filepath.Dir(path)))

	allowed := []string{
		path,
		filepath.Join(home, ".config", "recalld", "sub", "config.yaml"),
		"/etc/recalld/config.yaml",
	}
	for _, p := range allowed {
		assert.NoError(t, validateConfigPath(p), p)
	}

	rejected := []string{
		"/etc/passwd",
		"/tmp/config.yaml",
		"/etc/recalld../etc/passwd",
		filepath.Join(home, ".config", "recalld", "..", "..", "config.yaml"),
		filepath.Join(home, ".config", "recalld-evil", "config.yaml"),
	}
	for _, p := range rejected {
		assert.Error(t, validateConfigPath(p), p)
	}
}

func TestValidateConfigPath_SymlinkEscape(t *testing.T) {
	path := testHome(t)
	outside := filepath.Join(t.TempDir(), "evil.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("insert: 4\n"), 0600))
	require.NoError(t, os.Symlink(outside, path))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path validation failed")
}

func TestConfig_VectorStore(t *testing.T) {
	path := testHome(t)
	writeConfig(t, path, `
backend:
  kind: payloadIndexedStore
  qdrant:
    host: q
    api_key: k
embeddings:
  provider: tei
  model: m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	vs := cfg.VectorStore()
	assert.Equal(t, vectorstore.KindPayloadIndexedStore, vs.Kind)
	assert.Equal(t, "tei:m", vs.EmbeddingSource)
	assert.Equal(t, "q", vs.Qdrant.Host)
	assert.Equal(t, "k", vs.Qdrant.APIKey)
	assert.Equal(t, 50*1024*1024, vs.Qdrant.MaxMessageSize, "vectorstore defaults applied")
	assert.Equal(t, 30*time.Second, vs.Passthrough.Timeout)

	cfg.Backend.EmbeddingSource = "pinned"
	assert.Equal(t, "pinned", cfg.VectorStore().EmbeddingSource)
}

func TestConfig_Section(t *testing.T) {
	path := testHome(t)
	writeConfig(t, path, "logging:\n  level: debug\n  format: console\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	var out struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	}
	require.NoError(t, cfg.Section("logging", &out))
	assert.Equal(t, "debug", out.Level)
	assert.Equal(t, "console", out.Format)

	var untouched struct {
		Endpoint string `koanf:"endpoint"`
	}
	untouched.Endpoint = "keep"
	require.NoError(t, cfg.Section("telemetry", &untouched))
	assert.Equal(t, "keep", untouched.Endpoint)
}
