// Package config loads storyd configuration from a YAML file and
// STORYD_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/fablesmith/storyd/internal/logging"
)

// Config is the full storyd configuration tree.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   logging.Config  `koanf:"logging"`
	Store     StoreConfig     `koanf:"store"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Library   LibraryConfig   `koanf:"library"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	// Backend is "chromem" (embedded, default) or "qdrant".
	Backend string        `koanf:"backend"`
	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds settings for the embedded chromem backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty disables persistence,
	// which is only useful in tests.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds settings for the qdrant gRPC backend.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// EmbeddingConfig holds the process-wide embedding defaults. Per-user
// settings and per-call overrides are layered on top at resolution time.
type EmbeddingConfig struct {
	// Mode is "local" (on-process ONNX models) or "api" (remote service).
	Mode string `koanf:"mode"`

	// LocalModel is the process-wide local model. Local mode always uses
	// this model regardless of per-call overrides.
	LocalModel string `koanf:"local_model"`

	// FallbackModel is tried when LocalModel cannot be loaded.
	FallbackModel string `koanf:"fallback_model"`

	// CacheDir stores downloaded model files.
	CacheDir string `koanf:"cache_dir"`

	// Provider, Model, BaseURL and APIKey are the api-mode defaults.
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`

	// RequestTimeout bounds a single remote embedding call.
	RequestTimeout Duration `koanf:"request_timeout"`

	// RateLimit caps remote requests per second; 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
}

// LibraryConfig holds the relational story library settings.
type LibraryConfig struct {
	// Path is the SQLite database file with the project's chapters,
	// plans, characters and foreshadowing rows.
	Path string `koanf:"path"`
}

// ApplyDefaults fills unset fields across the tree.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8600
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	c.Logging.ApplyDefaults()

	if c.Store.Backend == "" {
		c.Store.Backend = "chromem"
	}
	if c.Store.Chromem.Path == "" {
		c.Store.Chromem.Path = "data/vectorstore"
	}
	if c.Store.Qdrant.Host == "" {
		c.Store.Qdrant.Host = "localhost"
	}
	if c.Store.Qdrant.Port == 0 {
		c.Store.Qdrant.Port = 6334
	}

	if c.Embedding.Mode == "" {
		c.Embedding.Mode = "local"
	}
	if c.Embedding.LocalModel == "" {
		c.Embedding.LocalModel = "BAAI/bge-small-zh-v1.5"
	}
	if c.Embedding.FallbackModel == "" {
		c.Embedding.FallbackModel = "BAAI/bge-small-en-v1.5"
	}
	if c.Embedding.CacheDir == "" {
		c.Embedding.CacheDir = "data/models"
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.RequestTimeout == 0 {
		c.Embedding.RequestTimeout = Duration(60 * time.Second)
	}

	if c.Library.Path == "" {
		c.Library.Path = "data/story.db"
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	if err := c.Logging.Validate(); err != nil {
		return err
	}

	switch c.Store.Backend {
	case "chromem":
	case "qdrant":
		if c.Store.Qdrant.Host == "" {
			return fmt.Errorf("qdrant backend requires a host")
		}
		if c.Store.Qdrant.Port < 1 || c.Store.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", c.Store.Qdrant.Port)
		}
	default:
		return fmt.Errorf("unknown store backend %q (expected chromem or qdrant)", c.Store.Backend)
	}

	switch c.Embedding.Mode {
	case "local", "api":
	default:
		return fmt.Errorf("unknown embedding mode %q (expected local or api)", c.Embedding.Mode)
	}
	if c.Embedding.RateLimit < 0 {
		return fmt.Errorf("embedding rate limit cannot be negative")
	}

	return nil
}
