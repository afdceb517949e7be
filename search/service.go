package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/kbsearch/ai"
	"github.com/poiesic/kbsearch/cache"
	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/storage"
)

const (
	DefaultLimit        = 5
	DefaultThreshold    = float32(0.45)
	DefaultEmbedTimeout = 15 * time.Second
	DefaultQueryTimeout = 10 * time.Second
)

// Options controls a single search.
type Options struct {
	// Types restricts results to these chunk types. Empty means all types.
	Types []core.ChunkType

	// Limit caps the number of results. Zero means the service default.
	Limit int

	// Threshold is the minimum cosine similarity. Nil means the service
	// default; Threshold(-1) accepts every chunk.
	Threshold *float32
}

// Threshold returns t as an Options.Threshold value.
func Threshold(t float32) *float32 {
	return &t
}

// Service answers semantic queries against a chunk index, caching results
// per collection.
type Service struct {
	index        storage.ChunkIndex
	embedder     ai.Embedder
	cache        *cache.SearchCache
	limit        int
	threshold    float32
	embedTimeout time.Duration
	queryTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Service.
type Option func(*Service) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithCache enables result and metadata caching.
func WithCache(c *cache.SearchCache) Option {
	return func(s *Service) error {
		s.cache = c
		return nil
	}
}

// WithDefaultLimit sets the limit used when Options.Limit is zero.
func WithDefaultLimit(n int) Option {
	return func(s *Service) error {
		if n <= 0 {
			return ErrInvalidLimit
		}
		s.limit = n
		return nil
	}
}

// WithDefaultThreshold sets the threshold used when Options.Threshold is nil.
func WithDefaultThreshold(t float32) Option {
	return func(s *Service) error {
		if t < -1 || t > 1 {
			return ErrInvalidThreshold
		}
		s.threshold = t
		return nil
	}
}

// WithEmbedTimeout bounds the query embedding call.
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Service) error {
		if d > 0 {
			s.embedTimeout = d
		}
		return nil
	}
}

// WithQueryTimeout bounds the index query.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Service) error {
		if d > 0 {
			s.queryTimeout = d
		}
		return nil
	}
}

// NewService creates a new search service.
func NewService(index storage.ChunkIndex, provider ai.AIProvider, opts ...Option) (*Service, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	s := &Service{
		index:        index,
		embedder:     provider.Embedder(),
		limit:        DefaultLimit,
		threshold:    DefaultThreshold,
		embedTimeout: DefaultEmbedTimeout,
		queryTimeout: DefaultQueryTimeout,
		logger:       slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "search")

	return s, nil
}

// Search returns the chunks of collectionID most similar to query.
func (s *Service) Search(ctx context.Context, collectionID, query string, opts Options) ([]*core.SearchResult, error) {
	return s.SearchWithMonitor(ctx, collectionID, query, opts, nil)
}

// SearchWithMonitor searches like Search, reporting each stage to monitor.
func (s *Service) SearchWithMonitor(ctx context.Context, collectionID, query string, opts Options, monitor SearchMonitor) ([]*core.SearchResult, error) {
	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	qopts, err := s.resolve(collectionID, query, opts)
	if err != nil {
		return nil, err
	}

	monitor.Start(collectionID, query)

	// 1. Check the cache
	var key cache.Key
	if s.cache != nil {
		key = s.cache.ResultKey(collectionID, query, variant(qopts))
		if results, ok := s.cache.GetResults(key); ok {
			monitor.CacheHit(results)
			monitor.Finish(results)
			return results, nil
		}
	}
	monitor.CacheMiss()

	// 2. Embed the query
	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	vector, err := s.embedder.EmbedText(embedCtx, query)
	cancel()
	if err != nil {
		s.logger.Error("error generating embedding for query", "collection", collectionID, "err", err)
		return nil, core.NewProviderError("embed query", err)
	}
	monitor.AfterEmbedding(len(vector))

	// 3. Rank the collection
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	results, err := s.index.Query(queryCtx, collectionID, vector, qopts)
	cancel()
	if err != nil {
		if errors.Is(err, core.ErrInvalidQuery) {
			return nil, err
		}
		s.logger.Error("error querying index", "collection", collectionID, "err", err)
		return nil, core.NewIndexError("query", err)
	}
	monitor.AfterRanking(results)

	// 4. Populate the cache unless the caller gave up
	if s.cache != nil && ctx.Err() == nil {
		s.cache.SetResults(key, results)
	}

	monitor.Finish(results)
	return results, nil
}

// CollectionInfo returns the collection's summary, served from the cache when possible.
func (s *Service) CollectionInfo(ctx context.Context, collectionID string) (*core.CollectionInfo, error) {
	if collectionID == "" {
		return nil, fmt.Errorf("%w: collection id: %w", core.ErrInvalidQuery, core.ErrEmptyID)
	}

	var key cache.Key
	if s.cache != nil {
		key = s.cache.MetadataKey(collectionID)
		if info, ok := s.cache.GetMetadata(key); ok {
			return info, nil
		}
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	info, err := s.index.CollectionInfo(queryCtx, collectionID)
	cancel()
	if err != nil {
		s.logger.Error("error loading collection info", "collection", collectionID, "err", err)
		return nil, core.NewIndexError("collection info", err)
	}

	if s.cache != nil && ctx.Err() == nil {
		s.cache.SetMetadata(key, info)
	}
	return info, nil
}

func (s *Service) resolve(collectionID, query string, opts Options) (storage.QueryOptions, error) {
	if collectionID == "" {
		return storage.QueryOptions{}, fmt.Errorf("%w: collection id: %w", core.ErrInvalidQuery, core.ErrEmptyID)
	}
	if strings.TrimSpace(query) == "" {
		return storage.QueryOptions{}, fmt.Errorf("%w: empty query", core.ErrInvalidQuery)
	}
	if opts.Limit < 0 {
		return storage.QueryOptions{}, fmt.Errorf("%w: limit must not be negative, got %d", core.ErrInvalidQuery, opts.Limit)
	}
	if t := opts.Threshold; t != nil && (*t < -1 || *t > 1) {
		return storage.QueryOptions{}, fmt.Errorf("%w: threshold %v outside [-1, 1]", core.ErrInvalidQuery, *t)
	}
	for _, t := range opts.Types {
		if err := core.ValidateChunkType(t); err != nil {
			return storage.QueryOptions{}, fmt.Errorf("%w: %w", core.ErrInvalidQuery, err)
		}
	}

	qopts := storage.QueryOptions{
		Limit:     opts.Limit,
		Threshold: s.threshold,
		Types:     opts.Types,
	}
	if qopts.Limit == 0 {
		qopts.Limit = s.limit
	}
	if opts.Threshold != nil {
		qopts.Threshold = *opts.Threshold
	}
	return qopts, nil
}

// variant encodes the options that change a query's result set.
func variant(opts storage.QueryOptions) string {
	types := make([]string, len(opts.Types))
	for i, t := range opts.Types {
		types[i] = string(t)
	}
	slices.Sort(types)
	types = slices.Compact(types)

	return strconv.Itoa(opts.Limit) + "|" +
		strconv.FormatFloat(float64(opts.Threshold), 'g', -1, 32) + "|" +
		strings.Join(types, ",")
}
