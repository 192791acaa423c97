package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 384, cfg.Embeddings.Dimensions)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)

	assert.Equal(t, 100000, cfg.Performance.MaxFiles)
	assert.Equal(t, int64(500_000), cfg.Performance.MaxFileSizeBytes)
	assert.Equal(t, 100000, cfg.Performance.ANNMaxElements)
	assert.Equal(t, 0.2, cfg.Performance.TombstoneRebuildThreshold)

	assert.Equal(t, 500, cfg.Watcher.DebounceMS)
	assert.Equal(t, 100, cfg.Watcher.MaxBatch)

	assert.Contains(t, cfg.Paths.Exclude, "**/node_modules/**")
	assert.Contains(t, cfg.Paths.Exclude, "**/.git/**")
}

func TestWorkerCountDerivesFromCPUWhenUnset(t *testing.T) {
	cfg := NewConfig()
	w := cfg.WorkerCount()
	assert.GreaterOrEqual(t, w, 1)
	assert.LessOrEqual(t, w, 4)
}

func TestWorkerCountHonorsExplicitOverride(t *testing.T) {
	cfg := NewConfig()
	cfg.Performance.IndexWorkers = 7
	assert.Equal(t, 7, cfg.WorkerCount())
}

func TestLoadFromWorkspaceYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `
embeddings:
  dimensions: 512
  batch_size: 16
watcher:
  debounce_ms: 750
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".codelens.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Embeddings.Dimensions)
	assert.Equal(t, 16, cfg.Embeddings.BatchSize)
	assert.Equal(t, 750, cfg.Watcher.DebounceMS)
	// untouched fields keep their defaults
	assert.Equal(t, 100, cfg.Watcher.MaxBatch)
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CODELENS_EMBEDDINGS_DIMENSIONS", "128")
	t.Setenv("CODELENS_WATCHER_DEBOUNCE_MS", "1000")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Embeddings.Dimensions)
	assert.Equal(t, 1000, cfg.Watcher.DebounceMS)
}

func TestValidateRejectsBadProvider(t *testing.T) {
	cfg := NewConfig()
	cfg.Embeddings.Provider = "not-a-real-provider"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeValues(t *testing.T) {
	cfg := NewConfig()
	cfg.Performance.MaxFileSizeBytes = -1
	assert.Error(t, cfg.Validate())
}

func TestWriteYAMLRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	cfg := NewConfig()
	cfg.Embeddings.Dimensions = 256
	require.NoError(t, cfg.WriteYAML(path))

	loaded := NewConfig()
	require.NoError(t, loaded.loadYAML(path))
	assert.Equal(t, 256, loaded.Embeddings.Dimensions)
}

func TestFindProjectRootWalksUpToGitDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}
