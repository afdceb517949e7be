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

package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/poiesic/kbsearch/core"
)

const (
	DefaultMetadataTTL      = 5 * time.Minute
	DefaultResultTTL        = 30 * time.Minute
	DefaultMetadataCapacity = 1_000
	DefaultResultCapacity   = 10_000
)

var ErrInvalidCapacity = errors.New("cache capacity must be positive")

// Key addresses one cache entry. It captures the collection's generation at
// the time it was built, so a value computed before an invalidation can never
// be stored as current.
type Key struct {
	collection string
	generation uint64
	id         string
}

// Collection returns the collection the key belongs to.
func (k Key) Collection() string { return k.collection }

func (k Key) String() string {
	return k.collection + "\x00" + strconv.FormatUint(k.generation, 10) + "\x00" + k.id
}

// Stats reports cache counters since construction.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Invalidations uint64
	Errors        uint64
}

// SearchCache holds collection metadata and search results for one process.
// It is safe for concurrent use. Failures inside the cache are logged and
// reported as misses; they never reach callers.
type SearchCache struct {
	metadata *ristretto.Cache[string, *core.CollectionInfo]
	results  *ristretto.Cache[string, []*core.SearchResult]

	metadataTTL      time.Duration
	resultTTL        time.Duration
	metadataCapacity int64
	resultCapacity   int64

	mu          sync.Mutex
	generations map[string]uint64

	hits          atomic.Uint64
	misses        atomic.Uint64
	invalidations atomic.Uint64
	errors        atomic.Uint64

	logger *slog.Logger
}

// Option configures a SearchCache.
type Option func(*SearchCache) error

// WithMetadataTTL sets how long collection metadata stays cached.
// Default is 5 minutes.
func WithMetadataTTL(ttl time.Duration) Option {
	return func(c *SearchCache) error {
		c.metadataTTL = ttl
		return nil
	}
}

// WithResultTTL sets how long search results stay cached.
// Default is 30 minutes.
func WithResultTTL(ttl time.Duration) Option {
	return func(c *SearchCache) error {
		c.resultTTL = ttl
		return nil
	}
}

// WithMetadataCapacity sets the maximum number of cached metadata entries.
func WithMetadataCapacity(n int64) Option {
	return func(c *SearchCache) error {
		if n <= 0 {
			return ErrInvalidCapacity
		}
		c.metadataCapacity = n
		return nil
	}
}

// WithResultCapacity sets the maximum number of cached result sets.
func WithResultCapacity(n int64) Option {
	return func(c *SearchCache) error {
		if n <= 0 {
			return ErrInvalidCapacity
		}
		c.resultCapacity = n
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *SearchCache) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// New creates a SearchCache.
func New(opts ...Option) (*SearchCache, error) {
	c := &SearchCache{
		metadataTTL:      DefaultMetadataTTL,
		resultTTL:        DefaultResultTTL,
		metadataCapacity: DefaultMetadataCapacity,
		resultCapacity:   DefaultResultCapacity,
		generations:      make(map[string]uint64),
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "search-cache")

	var err error
	c.metadata, err = ristretto.NewCache(entryConfig[*core.CollectionInfo](c.metadataCapacity))
	if err != nil {
		return nil, err
	}
	c.results, err = ristretto.NewCache(entryConfig[[]*core.SearchResult](c.resultCapacity))
	if err != nil {
		c.metadata.Close()
		return nil, err
	}
	return c, nil
}

// entryConfig bounds a cache by entry count: every entry costs 1.
func entryConfig[V any](capacity int64) *ristretto.Config[string, V] {
	return &ristretto.Config[string, V]{
		NumCounters:        capacity * 10,
		MaxCost:            capacity,
		BufferItems:        64,
		IgnoreInternalCost: true,
	}
}

// Close releases the underlying caches.
func (c *SearchCache) Close() {
	c.metadata.Close()
	c.results.Close()
}

// Normalize canonicalizes a query: lowercased, trimmed, inner whitespace collapsed.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// ResultKey builds the key for a query's results. variant distinguishes
// otherwise identical queries run with different options.
func (c *SearchCache) ResultKey(collectionID, query, variant string) Key {
	return Key{
		collection: collectionID,
		generation: c.generation(collectionID),
		id:         "r:" + core.Fingerprint(Normalize(query), variant),
	}
}

// MetadataKey builds the key for a collection's metadata.
func (c *SearchCache) MetadataKey(collectionID string) Key {
	return Key{
		collection: collectionID,
		generation: c.generation(collectionID),
		id:         "m",
	}
}

func (c *SearchCache) generation(collectionID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[collectionID]
}

// current reports whether k was built after the latest invalidation of its collection.
func (c *SearchCache) current(k Key) bool {
	return c.generation(k.collection) == k.generation
}

// GetResults returns a copy of the cached results for k.
func (c *SearchCache) GetResults(k Key) ([]*core.SearchResult, bool) {
	var (
		results []*core.SearchResult
		ok      bool
	)
	c.guard("get results", func() {
		results, ok = c.results.Get(k.String())
	})
	if !ok || !c.current(k) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return cloneResults(results), true
}

// SetResults caches results under k unless the collection was invalidated
// after k was built.
func (c *SearchCache) SetResults(k Key, results []*core.SearchResult) {
	if !c.current(k) {
		c.logger.Debug("dropping stale results", "collection", k.collection)
		return
	}
	c.guard("set results", func() {
		c.results.SetWithTTL(k.String(), cloneResults(results), 1, c.resultTTL)
		c.results.Wait()
	})
}

// GetMetadata returns the cached metadata for k.
func (c *SearchCache) GetMetadata(k Key) (*core.CollectionInfo, bool) {
	var (
		info *core.CollectionInfo
		ok   bool
	)
	c.guard("get metadata", func() {
		info, ok = c.metadata.Get(k.String())
	})
	if !ok || !c.current(k) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return cloneInfo(info), true
}

// SetMetadata caches info under k unless the collection was invalidated
// after k was built.
func (c *SearchCache) SetMetadata(k Key, info *core.CollectionInfo) {
	if info == nil || !c.current(k) {
		return
	}
	c.guard("set metadata", func() {
		c.metadata.SetWithTTL(k.String(), cloneInfo(info), 1, c.metadataTTL)
		c.metadata.Wait()
	})
}

// DeleteByCollectionPrefix invalidates every entry belonging to collectionID.
// Result entries become unreachable immediately and age out of the cache.
func (c *SearchCache) DeleteByCollectionPrefix(collectionID string) {
	c.mu.Lock()
	old := c.generations[collectionID]
	c.generations[collectionID] = old + 1
	c.mu.Unlock()

	c.guard("invalidate", func() {
		c.metadata.Del(Key{collection: collectionID, generation: old, id: "m"}.String())
	})
	c.invalidations.Add(1)
	c.logger.Debug("invalidated collection", "collection", collectionID, "generation", old+1)
}

// Stats returns the cache counters.
func (c *SearchCache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Errors:        c.errors.Load(),
	}
}

// guard runs fn, converting a panic into a logged *core.CacheError.
func (c *SearchCache) guard(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := &core.CacheError{Op: op, Err: fmt.Errorf("%v", r)}
			c.errors.Add(1)
			c.logger.Warn("cache operation failed", "err", err)
		}
	}()
	fn()
}

func cloneResults(results []*core.SearchResult) []*core.SearchResult {
	out := make([]*core.SearchResult, len(results))
	for i, r := range results {
		copied := *r
		out[i] = &copied
	}
	return out
}

func cloneInfo(info *core.CollectionInfo) *core.CollectionInfo {
	copied := *info
	copied.TypeCounts = make(map[core.ChunkType]int, len(info.TypeCounts))
	for k, v := range info.TypeCounts {
		copied.TypeCounts[k] = v
	}
	return &copied
}
