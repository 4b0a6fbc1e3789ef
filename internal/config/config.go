// Package config holds the per-project configuration for mnemo. Defaults are
// overridable by an optional <project>/.mnemo/config.yaml file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DirName is the per-project state directory.
const DirName = ".mnemo"

// IgnoreFileName is the project ignore file, one pattern per line.
const IgnoreFileName = ".mnemoignore"

// Config is the root configuration.
type Config struct {
	Scanner   ScannerConfig   `yaml:"scanner"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ScannerConfig controls the filesystem walk.
type ScannerConfig struct {
	// MaxFileBytes is the largest file that will be hashed and indexed.
	// Bigger files stay visible to the manifest but carry no hash.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	// ReferencePrefix marks files under a documentation-only directory.
	ReferencePrefix string `yaml:"reference_prefix"`
}

// ChunkingConfig controls strategy selection and fallback behavior.
type ChunkingConfig struct {
	MaxRetries         int      `yaml:"max_retries"`
	RetryDelaySeconds  float64  `yaml:"retry_delay_seconds"`
	Window             int      `yaml:"window"`
	Overlap            int      `yaml:"overlap"`
	MaxChunkChars      int      `yaml:"max_chunk_chars"`
	ToolEnabled        bool     `yaml:"tool_enabled"`
	ToolCommand        []string `yaml:"tool_command"`
	ToolTimeoutSeconds int      `yaml:"tool_timeout_seconds"`
	// PriorityPatterns route matching files to the tool-assisted strategy
	// regardless of extension.
	PriorityPatterns []string `yaml:"priority_patterns"`
	Workers          int      `yaml:"workers"`
}

// EmbeddingConfig controls the embedding service and its model runtime.
type EmbeddingConfig struct {
	OllamaURL     string `yaml:"ollama_url"`
	Model         string `yaml:"model"`
	FallbackModel string `yaml:"fallback_model"`
	Dimensions    int    `yaml:"dimensions"`
	Host          string `yaml:"host"`
	// Port 0 means pick a free ephemeral port at spawn time.
	Port                  int `yaml:"port"`
	StartupTimeoutSeconds int `yaml:"startup_timeout_seconds"`
	HealthTimeoutSeconds  int `yaml:"health_timeout_seconds"`
	EmbedTimeoutSeconds   int `yaml:"embed_timeout_seconds"`
	BatchSize             int `yaml:"batch_size"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Debug      bool `yaml:"debug"`
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Scanner: ScannerConfig{
			MaxFileBytes:    1 << 20,
			ReferencePrefix: "docs/",
		},
		Chunking: ChunkingConfig{
			MaxRetries:         2,
			RetryDelaySeconds:  1.0,
			Window:             40,
			Overlap:            10,
			MaxChunkChars:      8192,
			ToolEnabled:        false,
			ToolTimeoutSeconds: 120,
			PriorityPatterns:   []string{"README*", "ARCHITECTURE*", "AGENTS.md"},
			Workers:            0, // 0 = NumCPU
		},
		Embedding: EmbeddingConfig{
			OllamaURL:             "http://localhost:11434",
			Model:                 "nomic-embed-text",
			FallbackModel:         "nomic-embed-text",
			Dimensions:            768,
			Host:                  "127.0.0.1",
			Port:                  0,
			StartupTimeoutSeconds: 30,
			HealthTimeoutSeconds:  2,
			EmbedTimeoutSeconds:   120,
			BatchSize:             32,
		},
		Logging: LoggingConfig{
			Debug:      false,
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load returns the configuration for a project root, applying
// .mnemo/config.yaml on top of the defaults if it exists.
func Load(projectRoot string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(projectRoot, DirName, "config.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Dir returns the state directory for a project root.
func Dir(projectRoot string) string {
	return filepath.Join(projectRoot, DirName)
}
