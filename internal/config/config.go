// Package config provides configuration loading and structs for the askdoc server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RateLimitPerMinute is the per-client request budget; 0 uses the default.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// StorageConfig holds paths for the store root, uploads, and metrics database.
type StorageConfig struct {
	DataDir       string `yaml:"data_dir"`
	UploadsDir    string `yaml:"uploads_dir"`
	MetricsDBPath string `yaml:"metrics_db_path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size"`
}

// LLMConfig holds answer-generation settings.
type LLMConfig struct {
	Model string `yaml:"model"`
}

// RetrievalConfig holds retrieval and chunking settings.
type RetrievalConfig struct {
	DefaultTopK int     `yaml:"default_top_k"`
	Alpha       float64 `yaml:"alpha"`
	ChunkSize   int     `yaml:"chunk_size"`
}

// WatchConfig holds drop-directory ingestion settings. When Directory is
// empty, the watcher is disabled.
type WatchConfig struct {
	Directory  string   `yaml:"directory"`
	Extensions []string `yaml:"extensions"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Storage.UploadsDir = expandPath(cfg.Storage.UploadsDir, configDir)
	cfg.Storage.MetricsDBPath = expandPath(cfg.Storage.MetricsDBPath, configDir)
	if cfg.Watch.Directory != "" {
		cfg.Watch.Directory = expandPath(cfg.Watch.Directory, configDir)
	}

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
