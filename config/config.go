// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads kbsearch settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poiesic/kbsearch/ai"
	"github.com/poiesic/kbsearch/cache"
	"github.com/poiesic/kbsearch/chunking"
	"github.com/poiesic/kbsearch/search"
)

const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// StorageConfig locates the chunk index and the document registry.
type StorageConfig struct {
	IndexPath    string `yaml:"index_path"`
	DocumentsDSN string `yaml:"documents_dsn"`
	Dimensions   int    `yaml:"dimensions"`
	SyncWrites   bool   `yaml:"sync_writes"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	Host              string        `yaml:"host"`
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxBatchSize      int           `yaml:"max_batch_size"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// ChunkingConfig bounds chunk sizes.
type ChunkingConfig struct {
	MinChars         int `yaml:"min_chars"`
	MaxChars         int `yaml:"max_chars"`
	OverlapSentences int `yaml:"overlap_sentences"`
	KeywordLimit     int `yaml:"keyword_limit"`
}

// SearchConfig holds search defaults and timeouts. An absent threshold uses
// the search default; an explicit 0 is kept.
type SearchConfig struct {
	Limit        int           `yaml:"limit"`
	Threshold    *float32      `yaml:"threshold,omitempty"`
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// CacheConfig sizes the search cache.
type CacheConfig struct {
	Disabled         bool          `yaml:"disabled"`
	MetadataTTL      time.Duration `yaml:"metadata_ttl"`
	ResultTTL        time.Duration `yaml:"result_ttl"`
	MetadataCapacity int64         `yaml:"metadata_capacity"`
	ResultCapacity   int64         `yaml:"result_capacity"`
}

// Config is the root configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Search    SearchConfig    `yaml:"search"`
	Cache     CacheConfig     `yaml:"cache"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		Storage: StorageConfig{
			IndexPath:    "kbsearch_db",
			DocumentsDSN: "kbsearch.sqlite",
		},
		Embedding: EmbeddingConfig{
			Provider:     ProviderOpenAI,
			Host:         aiDefaults.EmbeddingHost,
			Model:        aiDefaults.EmbeddingModel,
			APIKeyEnv:    "OPENAI_API_KEY",
			Timeout:      aiDefaults.Timeout,
			MaxBatchSize: aiDefaults.MaxBatchSize,
			Concurrency:  aiDefaults.Concurrency,
		},
		Chunking: ChunkingConfig{
			MinChars:         chunking.DefaultMinChars,
			MaxChars:         chunking.DefaultMaxChars,
			OverlapSentences: chunking.DefaultOverlapSentences,
			KeywordLimit:     chunking.DefaultKeywordLimit,
		},
		Search: SearchConfig{
			Limit:        search.DefaultLimit,
			Threshold:    search.Threshold(search.DefaultThreshold),
			EmbedTimeout: search.DefaultEmbedTimeout,
			QueryTimeout: search.DefaultQueryTimeout,
		},
		Cache: CacheConfig{
			MetadataTTL:      cache.DefaultMetadataTTL,
			ResultTTL:        cache.DefaultResultTTL,
			MetadataCapacity: cache.DefaultMetadataCapacity,
			ResultCapacity:   cache.DefaultResultCapacity,
		},
	}
}

// Load reads the config at path over the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

// Save writes cfg to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// applyDefaults restores defaults for values a file explicitly zeroed.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Storage.IndexPath == "" {
		c.Storage.IndexPath = d.Storage.IndexPath
	}
	if c.Storage.DocumentsDSN == "" {
		c.Storage.DocumentsDSN = d.Storage.DocumentsDSN
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = d.Embedding.Provider
	}
	if c.Embedding.APIKeyEnv == "" {
		c.Embedding.APIKeyEnv = d.Embedding.APIKeyEnv
	}
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = d.Embedding.Timeout
	}
	if c.Embedding.MaxBatchSize == 0 {
		c.Embedding.MaxBatchSize = d.Embedding.MaxBatchSize
	}
	if c.Embedding.Concurrency == 0 {
		c.Embedding.Concurrency = d.Embedding.Concurrency
	}
	if c.Search.Limit == 0 {
		c.Search.Limit = d.Search.Limit
	}
	if c.Search.Threshold == nil {
		c.Search.Threshold = d.Search.Threshold
	}
	if c.Cache.MetadataCapacity == 0 {
		c.Cache.MetadataCapacity = d.Cache.MetadataCapacity
	}
	if c.Cache.ResultCapacity == 0 {
		c.Cache.ResultCapacity = d.Cache.ResultCapacity
	}
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderMock:
	default:
		return fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider)
	}
	if c.Storage.Dimensions < 0 {
		return errors.New("storage.dimensions cannot be negative")
	}
	if c.Chunking.MinChars <= 0 || c.Chunking.MinChars > c.Chunking.MaxChars {
		return fmt.Errorf("chunking: need 0 < min_chars <= max_chars, got %d and %d", c.Chunking.MinChars, c.Chunking.MaxChars)
	}
	if c.Chunking.OverlapSentences < 0 {
		return errors.New("chunking.overlap_sentences cannot be negative")
	}
	if t := c.Search.Threshold; t != nil && (*t < -1 || *t > 1) {
		return fmt.Errorf("search.threshold %v outside [-1, 1]", *t)
	}
	if c.Search.Limit < 1 {
		return errors.New("search.limit must be at least 1")
	}
	return nil
}

// AIConfig builds the provider configuration, reading the API key from the
// environment variable named by APIKeyEnv.
func (c *Config) AIConfig() *ai.Config {
	opts := []ai.ConfigOption{
		ai.WithTimeout(c.Embedding.Timeout),
		ai.WithMaxBatchSize(c.Embedding.MaxBatchSize),
		ai.WithConcurrency(c.Embedding.Concurrency),
		ai.WithRequestsPerSecond(c.Embedding.RequestsPerSecond),
	}
	if c.Embedding.Host != "" {
		opts = append(opts, ai.WithEmbeddingHost(c.Embedding.Host))
	}
	if c.Embedding.Model != "" {
		opts = append(opts, ai.WithEmbeddingModel(c.Embedding.Model))
	}
	if key := os.Getenv(c.Embedding.APIKeyEnv); key != "" {
		opts = append(opts, ai.WithAPIKey(key))
	}
	return ai.NewConfig(opts...)
}

// ChunkerOptions returns the chunker settings as options.
func (c *Config) ChunkerOptions() []chunking.Option {
	opts := []chunking.Option{
		chunking.WithMinChars(c.Chunking.MinChars),
		chunking.WithMaxChars(c.Chunking.MaxChars),
		chunking.WithOverlapSentences(c.Chunking.OverlapSentences),
	}
	if c.Chunking.KeywordLimit > 0 {
		opts = append(opts, chunking.WithKeywordExtractor(
			chunking.NewKeywordExtractor(chunking.WithLimit(c.Chunking.KeywordLimit))))
	}
	return opts
}

// SearchOptions returns the search defaults as service options.
func (c *Config) SearchOptions() []search.Option {
	opts := []search.Option{
		search.WithDefaultLimit(c.Search.Limit),
		search.WithEmbedTimeout(c.Search.EmbedTimeout),
		search.WithQueryTimeout(c.Search.QueryTimeout),
	}
	if c.Search.Threshold != nil {
		opts = append(opts, search.WithDefaultThreshold(*c.Search.Threshold))
	}
	return opts
}

// CacheOptions returns the cache sizing as options.
func (c *Config) CacheOptions() []cache.Option {
	return []cache.Option{
		cache.WithMetadataTTL(c.Cache.MetadataTTL),
		cache.WithResultTTL(c.Cache.ResultTTL),
		cache.WithMetadataCapacity(c.Cache.MetadataCapacity),
		cache.WithResultCapacity(c.Cache.ResultCapacity),
	}
}
