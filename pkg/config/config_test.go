package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))
	return dir
}

func TestInitialize_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, GraphBackendMemory, cfg.Graph.Backend)
	assert.Equal(t, DefaultEmbeddingDimension, cfg.Embedding.Dimension)
	assert.Equal(t, 0.6, cfg.Classifier.Alpha)
	assert.Equal(t, 1.5, cfg.Classifier.BM25K1)
	assert.Equal(t, 0.75, cfg.Classifier.BM25B)
	assert.Equal(t, 24*time.Hour, cfg.Extraction.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.Progress.CheckpointInterval)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 10, cfg.Agent.MaxToolIterations)
	assert.Equal(t, 24*time.Hour, cfg.Retention.SessionTTL)
	assert.False(t, cfg.Database.Enabled())
}

func TestInitialize_DefaultThresholds(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 0.3, cfg.Thresholds.MinParent)
	assert.Equal(t, 0.5, cfg.Thresholds.PreferParent)
	assert.Equal(t, 0.7, cfg.Thresholds.StrongConn)
	assert.Equal(t, 0.9, cfg.Thresholds.Duplicate)
	assert.Equal(t, 0.6, cfg.Thresholds.Conflict)
	assert.Equal(t, 0.2, cfg.Thresholds.WeakEdge)
}

func TestInitialize_YAMLOverridesMergeWithDefaults(t *testing.T) {
	dir := writeConfig(t, `
server:
  addr: ":9999"
classifier:
  alpha: 0.8
graph:
  backend: redis
  redis_addr: "localhost:6379"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	// Unset fields in an overridden section keep their defaults.
	assert.Equal(t, int64(DefaultMaxImageBytes), cfg.Server.MaxImageBytes)
	assert.Equal(t, 0.8, cfg.Classifier.Alpha)
	assert.Equal(t, 1.5, cfg.Classifier.BM25K1)
	assert.Equal(t, GraphBackendRedis, cfg.Graph.Backend)
	assert.Equal(t, DefaultMaxSimilarLinks, cfg.Graph.MaxSimilarLinks)
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("VIA_TEST_API_KEY", "sk-test-123")

	dir := writeConfig(t, `
llm:
  api_key: "{{.VIA_TEST_API_KEY}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.LLM.APIKey)
}

func TestInitialize_DataDirPaths(t *testing.T) {
	dir := writeConfig(t, `data_dir: /var/lib/via`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/var/lib/via", "graph.snapshot"), cfg.Graph.SnapshotPath)
	assert.Equal(t, filepath.Join("/var/lib/via", "category-profiles.json"), cfg.Classifier.ProfilesPath)
	assert.Equal(t, filepath.Join("/var/lib/via", "extraction-cache"), cfg.Extraction.CacheDir)
}

func TestInitialize_InvalidYAML(t *testing.T) {
	dir := writeConfig(t, "server: [not: valid")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorContains(t, err, ConfigFileName)
}

func TestInitialize_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "redis backend without addr",
			yaml:    "graph:\n  backend: redis\n",
			wantErr: "redis_addr",
		},
		{
			name:    "invalid graph backend",
			yaml:    "graph:\n  backend: neo4j\n",
			wantErr: "backend",
		},
		{
			name:    "alpha out of range",
			yaml:    "classifier:\n  alpha: 1.5\n",
			wantErr: "alpha",
		},
		{
			name:    "bedrock without region",
			yaml:    "llm:\n  provider: bedrock\n  model: claude\n",
			wantErr: "region",
		},
		{
			name:    "chunk overlap exceeds size",
			yaml:    "rag:\n  chunk_size: 10\n  chunk_overlap: 10\n",
			wantErr: "chunk_overlap",
		},
		{
			name:    "negative queue workers",
			yaml:    "queue:\n  worker_count: -1\n",
			wantErr: "worker_count",
		},
		{
			name:    "negative session ttl",
			yaml:    "retention:\n  session_ttl: -1h\n",
			wantErr: "session_ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, tt.yaml)
			_, err := Initialize(context.Background(), dir)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestExpandEnv_MissingVarIsEmpty(t *testing.T) {
	out := ExpandEnv([]byte("key: {{.VIA_DEFINITELY_UNSET_VAR}}"))
	assert.Equal(t, "key: ", string(out))
}

func TestExpandEnv_LiteralDollarPreserved(t *testing.T) {
	in := []byte(`pattern: "^secret.*$"`)
	assert.Equal(t, in, ExpandEnv(in))
}

func TestExpandEnv_ValueContainingEquals(t *testing.T) {
	t.Setenv("VIA_TEST_CONN_OPTS", "sslmode=require")
	out := ExpandEnv([]byte("options: {{.VIA_TEST_CONN_OPTS}}"))
	assert.Equal(t, "options: sslmode=require", string(out))
}

func TestExpandEnv_MalformedTemplatePassesThrough(t *testing.T) {
	in := []byte("key: {{.unclosed")
	assert.Equal(t, in, ExpandEnv(in))
}
