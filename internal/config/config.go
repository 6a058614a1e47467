// Package config loads the daemon's layered YAML + environment
// configuration: built-in defaults, user config, per-project config, then
// environment variables, each overriding the last (spec §4.8).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	apperrors "github.com/fenwick-labs/sift/internal/errors"
)

// ProjectConfigFile is the per-project config file name, discovered by
// walking upward from the current working directory.
const ProjectConfigFile = ".sift-index.yaml"

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "SIFT_"

// SourceSpec defines one scanning root (spec §3).
type SourceSpec struct {
	RootPath string   `yaml:"root_path" json:"root_path"`
	Glob     string   `yaml:"glob" json:"glob"`
	TypeTag  string   `yaml:"type_tag" json:"type_tag"`
	Excludes []string `yaml:"excludes" json:"excludes"`

	// GitignoreDisabled opts a source OUT of .gitignore-aware exclusion.
	// The zero value respects any .gitignore files found under RootPath,
	// so existing configs gain the behavior without a migration.
	GitignoreDisabled bool `yaml:"gitignore_disabled" json:"gitignore_disabled"`
}

// ChunkingConfig configures the chunker (C2).
type ChunkingConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	MaxTokens     int  `yaml:"max_tokens" json:"max_tokens"`
	OverlapTokens int  `yaml:"overlap_tokens" json:"overlap_tokens"`
}

// EmbeddingConfig configures the embedder contract (C3, external). The
// model itself is always reached over HTTP (spec §6 treats it as a
// black box); these fields describe how to reach it, not how it works.
type EmbeddingConfig struct {
	Model          string `yaml:"model" json:"model"`
	Dimensions     int    `yaml:"dimensions" json:"dimensions"`
	CacheSize      int    `yaml:"cache_size" json:"cache_size"`
	BaseURL        string `yaml:"base_url" json:"base_url"`
	Path           string `yaml:"path" json:"path"`
	APIKey         string `yaml:"api_key" json:"-"`
	APIHeader      string `yaml:"api_header" json:"api_header"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// StorageConfig configures where index artifacts are persisted (C1).
type StorageConfig struct {
	Path string `yaml:"path" json:"path"`
}

// GraphConfig configures the similarity graph (C4).
type GraphConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	KNeighbors          int     `yaml:"k_neighbors" json:"k_neighbors"`
	MaxExpandDepth      int     `yaml:"max_expand_depth" json:"max_expand_depth"`
	ExpandThreshold     float64 `yaml:"expand_threshold" json:"expand_threshold"`
}

// HybridConfig configures dense+lexical fusion (C5, C7).
type HybridConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`
	BM25Weight   float64 `yaml:"bm25_weight" json:"bm25_weight"`
	MinScore     float64 `yaml:"min_score" json:"min_score"`
}

// AuthConfig configures REST/WS auth (A5/A6).
type AuthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	APIKey  string `yaml:"api_key" json:"-"`
}

// DaemonConfig configures the transport surfaces (A5/A6).
type DaemonConfig struct {
	Host               string     `yaml:"host" json:"host"`
	Port               int        `yaml:"port" json:"port"`
	CORSAllowedOrigins []string   `yaml:"cors_allowed_origins" json:"cors_allowed_origins"`
	Auth               AuthConfig `yaml:"auth" json:"auth"`
	DefaultIndex       string     `yaml:"default_index" json:"default_index"`
}

// Config is the complete daemon configuration (spec §4.8).
type Config struct {
	Sources   []SourceSpec       `yaml:"sources" json:"sources"`
	Chunking  ChunkingConfig     `yaml:"chunking" json:"chunking"`
	Embedding EmbeddingConfig    `yaml:"embedding" json:"embedding"`
	Storage   StorageConfig      `yaml:"storage" json:"storage"`
	Graph     GraphConfig        `yaml:"graph" json:"graph"`
	Hybrid    HybridConfig       `yaml:"hybrid" json:"hybrid"`
	Daemon    DaemonConfig       `yaml:"daemon" json:"daemon"`
	Indexes   map[string]string `yaml:"indexes" json:"indexes"`
}

// NewConfig returns a Config populated with built-in defaults.
func NewConfig() *Config {
	return &Config{
		Sources: []SourceSpec{},
		Chunking: ChunkingConfig{
			Enabled:       true,
			MaxTokens:     512,
			OverlapTokens: 64,
		},
		Embedding: EmbeddingConfig{
			Model:          "",
			Dimensions:     0,
			CacheSize:      1000,
			BaseURL:        "http://127.0.0.1:11434/v1",
			Path:           "/embeddings",
			APIHeader:      "Authorization",
			TimeoutSeconds: 30,
		},
		Storage: StorageConfig{
			Path: defaultStoragePath(),
		},
		Graph: GraphConfig{
			SimilarityThreshold: 0.5,
			KNeighbors:          10,
			MaxExpandDepth:      2,
			ExpandThreshold:     0.5,
		},
		Hybrid: HybridConfig{
			Enabled:      true,
			VectorWeight: 0.5,
			BM25Weight:   0.5,
			MinScore:     0.0,
		},
		Daemon: DaemonConfig{
			Host: "127.0.0.1",
			Port: 8765,
			Auth: AuthConfig{Enabled: false},
		},
		Indexes: map[string]string{},
	}
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".sift", "index")
	}
	return filepath.Join(home, ".sift", "index")
}

// GetUserConfigPath returns the user/global config path, honoring
// XDG_CONFIG_HOME.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sift", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "sift", "config.yaml")
	}
	return filepath.Join(home, ".config", "sift", "config.yaml")
}

// UserConfigExists reports whether the user config file is present.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, apperrors.IOFailureError(err).WithDetail("path", path)
	}
	return cfg, nil
}

// FindProjectRoot walks upward from startDir looking for ProjectConfigFile
// or a .git directory, returning startDir itself if neither is found.
func FindProjectRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", apperrors.IOFailureError(err)
	}

	dir := abs
	for {
		if fileExists(filepath.Join(dir, ProjectConfigFile)) || dirExists(filepath.Join(dir, ".git")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

// Load loads configuration starting at dir, applying, in order of
// increasing precedence: built-in defaults, user config, per-project
// config (discovered upward from dir), then SIFT_* environment
// variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	root, err := FindProjectRoot(dir)
	if err != nil {
		return nil, err
	}
	projectPath := filepath.Join(root, ProjectConfigFile)
	if fileExists(projectPath) {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, apperrors.IOFailureError(err).WithDetail("path", projectPath)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero fields from other into c. Hybrid.Enabled is
// not merged.
func (c *Config) mergeWith(other *Config) {
	if len(other.Sources) > 0 {
		c.Sources = other.Sources
	}

	if other.Chunking.MaxTokens != 0 {
		c.Chunking.MaxTokens = other.Chunking.MaxTokens
	}
	if other.Chunking.OverlapTokens != 0 {
		c.Chunking.OverlapTokens = other.Chunking.OverlapTokens
	}
	c.Chunking.Enabled = other.Chunking.Enabled || c.Chunking.Enabled

	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Dimensions != 0 {
		c.Embedding.Dimensions = other.Embedding.Dimensions
	}
	if other.Embedding.CacheSize != 0 {
		c.Embedding.CacheSize = other.Embedding.CacheSize
	}
	if other.Embedding.BaseURL != "" {
		c.Embedding.BaseURL = other.Embedding.BaseURL
	}
	if other.Embedding.Path != "" {
		c.Embedding.Path = other.Embedding.Path
	}
	if other.Embedding.APIKey != "" {
		c.Embedding.APIKey = other.Embedding.APIKey
	}
	if other.Embedding.APIHeader != "" {
		c.Embedding.APIHeader = other.Embedding.APIHeader
	}
	if other.Embedding.TimeoutSeconds != 0 {
		c.Embedding.TimeoutSeconds = other.Embedding.TimeoutSeconds
	}

	if other.Storage.Path != "" {
		c.Storage.Path = other.Storage.Path
	}

	if other.Graph.SimilarityThreshold != 0 {
		c.Graph.SimilarityThreshold = other.Graph.SimilarityThreshold
	}
	if other.Graph.KNeighbors != 0 {
		c.Graph.KNeighbors = other.Graph.KNeighbors
	}
	if other.Graph.MaxExpandDepth != 0 {
		c.Graph.MaxExpandDepth = other.Graph.MaxExpandDepth
	}
	if other.Graph.ExpandThreshold != 0 {
		c.Graph.ExpandThreshold = other.Graph.ExpandThreshold
	}

	if other.Hybrid.VectorWeight != 0 {
		c.Hybrid.VectorWeight = other.Hybrid.VectorWeight
	}
	if other.Hybrid.BM25Weight != 0 {
		c.Hybrid.BM25Weight = other.Hybrid.BM25Weight
	}
	if other.Hybrid.MinScore != 0 {
		c.Hybrid.MinScore = other.Hybrid.MinScore
	}

	if other.Daemon.Host != "" {
		c.Daemon.Host = other.Daemon.Host
	}
	if other.Daemon.Port != 0 {
		c.Daemon.Port = other.Daemon.Port
	}
	if len(other.Daemon.CORSAllowedOrigins) > 0 {
		c.Daemon.CORSAllowedOrigins = other.Daemon.CORSAllowedOrigins
	}
	if other.Daemon.Auth.Enabled {
		c.Daemon.Auth.Enabled = true
	}
	if other.Daemon.Auth.APIKey != "" {
		c.Daemon.Auth.APIKey = other.Daemon.Auth.APIKey
	}
	if other.Daemon.DefaultIndex != "" {
		c.Daemon.DefaultIndex = other.Daemon.DefaultIndex
	}

	for name, path := range other.Indexes {
		c.Indexes[name] = path
	}
}

// applyEnvOverrides applies SIFT_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvPrefix + "STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(EnvPrefix + "EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv(EnvPrefix + "EMBEDDING_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv(EnvPrefix + "VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.Hybrid.VectorWeight = w
		}
	}
	if v := os.Getenv(EnvPrefix + "BM25_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.Hybrid.BM25Weight = w
		}
	}
	if v := os.Getenv(EnvPrefix + "HOST"); v != "" {
		c.Daemon.Host = v
	}
	if v := os.Getenv(EnvPrefix + "PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Daemon.Port = p
		}
	}
	if v := os.Getenv(EnvPrefix + "DEFAULT_INDEX"); v != "" {
		c.Daemon.DefaultIndex = v
	}
	if v := os.Getenv(EnvPrefix + "API_KEY"); v != "" {
		c.Daemon.Auth.APIKey = v
		c.Daemon.Auth.Enabled = true
	}
}

// Validate checks weight sums, thresholds, and enum-like fields, returning
// a structured INVALID_REQUEST error on failure.
func (c *Config) Validate() error {
	if c.Hybrid.Enabled {
		sum := c.Hybrid.VectorWeight + c.Hybrid.BM25Weight
		if sum <= 0 {
			return apperrors.InvalidRequestError("hybrid.vector_weight + hybrid.bm25_weight must be positive")
		}
	}

	if c.Graph.SimilarityThreshold < 0 || c.Graph.SimilarityThreshold > 1 {
		return apperrors.InvalidRequestError(fmt.Sprintf("graph.similarity_threshold must be in [0,1], got %f", c.Graph.SimilarityThreshold))
	}
	if c.Graph.KNeighbors < 0 {
		return apperrors.InvalidRequestError("graph.k_neighbors must be non-negative")
	}
	if c.Graph.MaxExpandDepth < 0 {
		return apperrors.InvalidRequestError("graph.max_expand_depth must be non-negative")
	}

	if c.Chunking.Enabled && c.Chunking.MaxTokens <= 0 {
		return apperrors.InvalidRequestError("chunking.max_tokens must be positive when chunking is enabled")
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		return apperrors.InvalidRequestError("chunking.overlap_tokens must be in [0, max_tokens)")
	}

	if c.Daemon.Port < 0 || c.Daemon.Port > 65535 {
		return apperrors.InvalidRequestError(fmt.Sprintf("daemon.port must be in [0,65535], got %d", c.Daemon.Port))
	}

	if c.Embedding.BaseURL == "" {
		return apperrors.InvalidRequestError("embedding.base_url must not be empty")
	}
	if c.Embedding.TimeoutSeconds < 0 {
		return apperrors.InvalidRequestError("embedding.timeout_seconds must be non-negative")
	}

	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return apperrors.IOFailureError(err).WithDetail("path", path)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// ExcludesForSource joins a source's own excludes with any default
// sensitive-file patterns the indexer always applies, deduplicated.
func ExcludesForSource(source SourceSpec, defaults []string) []string {
	seen := make(map[string]struct{}, len(source.Excludes)+len(defaults))
	out := make([]string, 0, len(source.Excludes)+len(defaults))
	for _, p := range append(append([]string{}, source.Excludes...), defaults...) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
