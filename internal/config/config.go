package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete codelens configuration.
// It mirrors the configuration section of the engine specification.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Paths       PathsConfig       `yaml:"paths" json:"paths"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Watcher     WatcherConfig     `yaml:"watcher" json:"watcher"`
}

// PathsConfig configures which paths to include and exclude from indexing.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// EmbeddingsConfig configures the embedding provider used by the worker pool.
type EmbeddingsConfig struct {
	// Provider selects the embedding backend. Currently only "static" (the
	// deterministic hash-based embedder) is built in.
	Provider string `yaml:"provider" json:"provider"`
	// Dimensions is the fixed vector width D. 0 means "use the provider's
	// default" (384 for the static embedder).
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// BatchSize is how many chunks are embedded per worker task.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// QueryCacheSize bounds the LRU cache of recent query embeddings.
	QueryCacheSize int `yaml:"query_cache_size" json:"query_cache_size"`
}

// PerformanceConfig configures indexing resource limits.
type PerformanceConfig struct {
	// MaxFiles caps how many files a single index_workspace run will visit.
	MaxFiles int `yaml:"max_files" json:"max_files"`
	// MaxFileSizeBytes is the per-file size cap enforced by the path filter.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes" json:"max_file_size_bytes"`
	// IndexWorkers overrides the embedding worker pool size. 0 means
	// "derive from clamp(NumCPU-1, 1, 4)".
	IndexWorkers int `yaml:"index_workers" json:"index_workers"`
	// ANNMaxElements is the ANN index capacity before CapacityExceeded.
	ANNMaxElements int `yaml:"ann_max_elements" json:"ann_max_elements"`
	// TombstoneRebuildThreshold is the orphan ratio that makes a rebuild
	// eligible.
	TombstoneRebuildThreshold float64 `yaml:"tombstone_rebuild_threshold" json:"tombstone_rebuild_threshold"`
	// NormalizeEOL canonicalizes CRLF to LF before hashing file content, so
	// a checkout under a different line-ending convention doesn't re-index
	// every file.
	NormalizeEOL bool `yaml:"normalize_eol" json:"normalize_eol"`
}

// WatcherConfig configures the filesystem watcher's debounce and batching.
type WatcherConfig struct {
	DebounceMS int      `yaml:"debounce_ms" json:"debounce_ms"`
	MaxBatch   int      `yaml:"max_batch" json:"max_batch"`
	Ignored    []string `yaml:"ignored" json:"ignored"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "static",
			Dimensions:     384,
			BatchSize:      32,
			QueryCacheSize: 256,
		},
		Performance: PerformanceConfig{
			MaxFiles:                  100000,
			MaxFileSizeBytes:          500_000,
			IndexWorkers:              0, // derive from clamp(NumCPU-1, 1, 4)
			ANNMaxElements:            100000,
			TombstoneRebuildThreshold: 0.2,
		},
		Watcher: WatcherConfig{
			DebounceMS: 500,
			MaxBatch:   100,
			Ignored:    nil,
		},
	}
}

// WorkerCount resolves the configured index worker count, applying the
// clamp(NumCPU-1, 1, 4) default when unset.
func (c *Config) WorkerCount() int {
	if c.Performance.IndexWorkers > 0 {
		return c.Performance.IndexWorkers
	}
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	if n > 4 {
		return 4
	}
	return n
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/codelens/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/codelens/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codelens", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "codelens", "config.yaml")
	}
	return filepath.Join(home, ".config", "codelens", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration from the specified workspace directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/codelens/config.yaml)
//  3. Workspace config (.codelens.yaml at the workspace root)
//  4. Environment variables (CODELENS_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .codelens.yaml or .codelens.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".codelens.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".codelens.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.QueryCacheSize != 0 {
		c.Embeddings.QueryCacheSize = other.Embeddings.QueryCacheSize
	}

	if other.Performance.MaxFiles != 0 {
		c.Performance.MaxFiles = other.Performance.MaxFiles
	}
	if other.Performance.MaxFileSizeBytes != 0 {
		c.Performance.MaxFileSizeBytes = other.Performance.MaxFileSizeBytes
	}
	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.ANNMaxElements != 0 {
		c.Performance.ANNMaxElements = other.Performance.ANNMaxElements
	}
	if other.Performance.TombstoneRebuildThreshold != 0 {
		c.Performance.TombstoneRebuildThreshold = other.Performance.TombstoneRebuildThreshold
	}
	if other.Performance.NormalizeEOL {
		c.Performance.NormalizeEOL = true
	}

	if other.Watcher.DebounceMS != 0 {
		c.Watcher.DebounceMS = other.Watcher.DebounceMS
	}
	if other.Watcher.MaxBatch != 0 {
		c.Watcher.MaxBatch = other.Watcher.MaxBatch
	}
	if len(other.Watcher.Ignored) > 0 {
		c.Watcher.Ignored = append(c.Watcher.Ignored, other.Watcher.Ignored...)
	}
}

// applyEnvOverrides applies CODELENS_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CODELENS_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CODELENS_EMBEDDINGS_DIMENSIONS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.Embeddings.Dimensions = d
		}
	}
	if v := os.Getenv("CODELENS_EMBEDDINGS_BATCH_SIZE"); v != "" {
		if b, err := strconv.Atoi(v); err == nil && b > 0 {
			c.Embeddings.BatchSize = b
		}
	}
	if v := os.Getenv("CODELENS_MAX_FILE_SIZE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Performance.MaxFileSizeBytes = n
		}
	}
	if v := os.Getenv("CODELENS_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.IndexWorkers = n
		}
	}
	if v := os.Getenv("CODELENS_ANN_MAX_ELEMENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.ANNMaxElements = n
		}
	}
	if v := os.Getenv("CODELENS_NORMALIZE_EOL"); v != "" {
		c.Performance.NormalizeEOL = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CODELENS_WATCHER_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Watcher.DebounceMS = n
		}
	}
	if v := os.Getenv("CODELENS_WATCHER_MAX_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Watcher.MaxBatch = n
		}
	}
}

// FindProjectRoot finds the workspace root directory. It looks for a .git
// directory or a .codelens.yaml/.yml file by walking up the directory tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".codelens.yaml")) ||
			fileExists(filepath.Join(currentDir, ".codelens.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize < 0 {
		return fmt.Errorf("embeddings.batch_size must be non-negative, got %d", c.Embeddings.BatchSize)
	}
	if c.Performance.MaxFileSizeBytes < 0 {
		return fmt.Errorf("performance.max_file_size_bytes must be non-negative, got %d", c.Performance.MaxFileSizeBytes)
	}
	if c.Performance.TombstoneRebuildThreshold < 0 || c.Performance.TombstoneRebuildThreshold > 1 {
		return fmt.Errorf("performance.tombstone_rebuild_threshold must be between 0 and 1, got %f", c.Performance.TombstoneRebuildThreshold)
	}
	if c.Watcher.DebounceMS < 0 {
		return fmt.Errorf("watcher.debounce_ms must be non-negative, got %d", c.Watcher.DebounceMS)
	}
	if c.Watcher.MaxBatch < 0 {
		return fmt.Errorf("watcher.max_batch must be non-negative, got %d", c.Watcher.MaxBatch)
	}

	validProviders := map[string]bool{"static": true}
	if c.Embeddings.Provider != "" && !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'static', got %s", c.Embeddings.Provider)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}
