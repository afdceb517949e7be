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

// Package kbsearch wires the chunk index, document registry, embedding
// provider and search cache into one handle.
package kbsearch

import (
	"errors"
	"log/slog"

	"github.com/poiesic/kbsearch/ai"
	"github.com/poiesic/kbsearch/ai/mock"
	"github.com/poiesic/kbsearch/ai/openai"
	"github.com/poiesic/kbsearch/cache"
	"github.com/poiesic/kbsearch/chunking"
	"github.com/poiesic/kbsearch/config"
	"github.com/poiesic/kbsearch/grounding"
	"github.com/poiesic/kbsearch/ingestion"
	"github.com/poiesic/kbsearch/reprocess"
	"github.com/poiesic/kbsearch/search"
	"github.com/poiesic/kbsearch/storage"
	"github.com/poiesic/kbsearch/storage/badger"
	"github.com/poiesic/kbsearch/storage/sqlite"
)

type Database struct {
	config      *config.Config
	backend     *badger.Backend
	index       *badger.ChunkIndex
	checkpoints *badger.CheckpointRepository
	groundings  *badger.GroundingRepository
	documents   *sqlite.DocumentRepository
	provider    ai.AIProvider
	cache       *cache.SearchCache
	logger      *slog.Logger
}

// Option configures a Database.
type Option func(*databaseOptions)

type databaseOptions struct {
	provider ai.AIProvider
	inMemory bool
	logger   *slog.Logger
}

// WithProvider uses provider instead of building one from the config.
// The Database takes ownership and closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *databaseOptions) {
		o.provider = provider
	}
}

// WithInMemory keeps the index and the registry in memory. Paths in the
// config are ignored.
func WithInMemory() Option {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *databaseOptions) {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
	}
}

// Open opens the stores named by cfg. A nil cfg uses config.Default().
func Open(cfg *config.Config, opts ...Option) (*Database, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Apply options
	options := &databaseOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	db := &Database{config: cfg, logger: options.logger.With("component", "kbsearch")}

	// Open backend
	backendOpts := []badger.BackendOption{
		badger.WithBackendLogger(options.logger),
		badger.WithSyncWrites(cfg.Storage.SyncWrites),
	}
	backend, err := badger.OpenBackend(cfg.Storage.IndexPath, options.inMemory, backendOpts...)
	if err != nil {
		return nil, err
	}
	db.backend = backend

	db.index, err = badger.NewChunkIndex(backend,
		badger.WithDimensions(cfg.Storage.Dimensions),
		badger.WithLogger(options.logger))
	if err != nil {
		db.Close()
		return nil, err
	}
	if db.checkpoints, err = badger.NewCheckpointRepository(backend); err != nil {
		db.Close()
		return nil, err
	}
	if db.groundings, err = badger.NewGroundingRepository(backend); err != nil {
		db.Close()
		return nil, err
	}

	// Open document registry
	dsn := cfg.Storage.DocumentsDSN
	if options.inMemory {
		dsn = sqlite.MemoryDSN
	}
	if db.documents, err = sqlite.OpenDocumentRepository(dsn); err != nil {
		db.Close()
		return nil, err
	}

	// Create AI provider with configured settings
	db.provider = options.provider
	if db.provider == nil {
		if db.provider, err = newProvider(cfg); err != nil {
			db.Close()
			return nil, err
		}
	}

	if !cfg.Cache.Disabled {
		cacheOpts := append(cfg.CacheOptions(), cache.WithLogger(options.logger))
		if db.cache, err = cache.New(cacheOpts...); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

func newProvider(cfg *config.Config) (ai.AIProvider, error) {
	if cfg.Embedding.Provider == config.ProviderMock {
		embedder := mock.NewMockEmbedder()
		embedder.Dimensions = cfg.Storage.Dimensions
		return mock.NewMockProviderWithEmbedder(embedder), nil
	}
	return openai.NewProvider(cfg.AIConfig())
}

// Close releases every component. It is safe to call on a partially opened Database.
func (db *Database) Close() error {
	var errs []error

	// Close AI provider first
	if db.provider != nil {
		if err := db.provider.Close(); err != nil {
			db.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if db.cache != nil {
		db.cache.Close()
	}
	if db.documents != nil {
		if err := db.documents.Close(); err != nil {
			db.logger.Error("error closing document registry", "err", err)
			errs = append(errs, err)
		}
	}

	// Close backend
	if db.backend != nil {
		if err := db.backend.Close(); err != nil {
			db.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (db *Database) Index() storage.ChunkIndex {
	return db.index
}

func (db *Database) Documents() storage.DocumentRepository {
	return db.documents
}

func (db *Database) Checkpoints() storage.CheckpointRepository {
	return db.checkpoints
}

func (db *Database) Groundings() storage.GroundingRepository {
	return db.groundings
}

// Cache returns the shared search cache, or nil when caching is disabled.
func (db *Database) Cache() *cache.SearchCache {
	return db.cache
}

// NewIngestionPipeline creates a pipeline that invalidates the shared cache.
// Options are applied after the configured chunker and cache.
func (db *Database) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	chunker, err := chunking.NewChunker(db.config.ChunkerOptions()...)
	if err != nil {
		return nil, err
	}
	base := []ingestion.Option{ingestion.WithChunker(chunker), ingestion.WithLogger(db.logger)}
	if db.cache != nil {
		base = append(base, ingestion.WithCache(db.cache))
	}
	return ingestion.NewPipeline(db.documents, db.index, db.provider, append(base, opts...)...)
}

// NewSearchService creates a search service sharing the Database's cache.
func (db *Database) NewSearchService(opts ...search.Option) (*search.Service, error) {
	base := append(db.config.SearchOptions(), search.WithLogger(db.logger))
	if db.cache != nil {
		base = append(base, search.WithCache(db.cache))
	}
	return search.NewService(db.index, db.provider, append(base, opts...)...)
}

// NewReprocessor creates a collection reprocessor that checkpoints into the index backend.
func (db *Database) NewReprocessor(pipeline *ingestion.Pipeline, cfg *reprocess.Config, opts ...reprocess.Option) (*reprocess.Reprocessor, error) {
	if pipeline == nil {
		return nil, reprocess.ErrReprocessorRequired
	}
	base := []reprocess.Option{reprocess.WithCheckpoints(db.checkpoints), reprocess.WithLogger(db.logger)}
	return reprocess.NewReprocessor(db.documents, pipeline, cfg, append(base, opts...)...)
}

// NewContentGrounder creates a content grounder whose fallback survives restarts.
func (db *Database) NewContentGrounder(searcher grounding.Searcher, opts ...grounding.ContentOption) (*grounding.ContentGrounder, error) {
	base := []grounding.ContentOption{
		grounding.WithFallbackStore(db.groundings),
		grounding.WithContentLogger(db.logger),
	}
	return grounding.NewContentGrounder(searcher, append(base, opts...)...)
}
