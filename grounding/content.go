package grounding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/retry"
	"github.com/poiesic/kbsearch/search"
	"github.com/poiesic/kbsearch/storage"
)

const (
	DefaultContentLimit = 8
	DefaultRetryDelay   = 250 * time.Millisecond
)

// Content is grounding for one generation request.
type Content struct {
	CollectionID string
	Topic        string
	Results      []*core.SearchResult
	Fallback     bool // Served from the last successful grounding after a failure
	UpdatedAt    time.Time
}

// Text returns the chunk texts joined by blank lines.
func (c *Content) Text() string {
	texts := make([]string, len(c.Results))
	for i, r := range c.Results {
		texts[i] = r.Text
	}
	return strings.Join(texts, DefaultSeparator)
}

// ContentGrounder fetches type-filtered grounding for content generation.
type ContentGrounder struct {
	searcher   Searcher
	store      storage.GroundingRepository
	limit      int
	threshold  *float32
	retryDelay time.Duration
	logger     *slog.Logger
}

// ContentOption configures a ContentGrounder.
type ContentOption func(*ContentGrounder)

// WithFallbackStore keeps the last successful grounding per topic for use
// when search fails.
func WithFallbackStore(store storage.GroundingRepository) ContentOption {
	return func(g *ContentGrounder) {
		g.store = store
	}
}

// WithContentLimit sets the number of chunks fetched per topic.
func WithContentLimit(n int) ContentOption {
	return func(g *ContentGrounder) {
		if n > 0 {
			g.limit = n
		}
	}
}

// WithContentThreshold sets the similarity threshold.
// Default is the search service's threshold.
func WithContentThreshold(t float32) ContentOption {
	return func(g *ContentGrounder) {
		g.threshold = search.Threshold(t)
	}
}

// WithRetryDelay sets the pause before the single retry.
func WithRetryDelay(d time.Duration) ContentOption {
	return func(g *ContentGrounder) {
		g.retryDelay = d
	}
}

// WithContentLogger sets a custom logger.
// Default is slog.Default().
func WithContentLogger(logger *slog.Logger) ContentOption {
	return func(g *ContentGrounder) {
		if logger == nil {
			logger = slog.Default()
		}
		g.logger = logger
	}
}

// NewContentGrounder creates a new ContentGrounder.
func NewContentGrounder(searcher Searcher, opts ...ContentOption) (*ContentGrounder, error) {
	if searcher == nil {
		return nil, ErrSearcherRequired
	}
	g := &ContentGrounder{
		searcher:   searcher,
		limit:      DefaultContentLimit,
		retryDelay: DefaultRetryDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "content-grounder")
	return g, nil
}

// Ground searches collectionID for topic, restricted to types when given.
// A failed search is retried once. If it fails again the last successful
// grounding for the same collection and topic is returned with Fallback set;
// without one the search error is returned wrapped in ErrNoGrounding.
func (g *ContentGrounder) Ground(ctx context.Context, collectionID, topic string, types ...core.ChunkType) (*Content, error) {
	opts := search.Options{Types: types, Limit: g.limit, Threshold: g.threshold}

	var results []*core.SearchResult
	err := retry.WithBackoff(ctx, func(ctx context.Context) error {
		var err error
		results, err = g.searcher.Search(ctx, collectionID, topic, opts)
		if errors.Is(err, core.ErrInvalidQuery) {
			return retry.Permanent(err)
		}
		return err
	}, 2, g.retryDelay)

	if err == nil {
		content := &Content{
			CollectionID: collectionID,
			Topic:        topic,
			Results:      results,
			UpdatedAt:    time.Now().UTC(),
		}
		g.remember(ctx, content)
		return content, nil
	}

	if errors.Is(err, core.ErrInvalidQuery) || ctx.Err() != nil {
		return nil, err
	}

	g.logger.Warn("grounding search failed", "collection", collectionID, "topic", topic, "err", err)
	if fallback := g.recall(ctx, collectionID, topic); fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoGrounding, err)
}

// remember stores content as the topic's fallback. Empty results are not stored.
func (g *ContentGrounder) remember(ctx context.Context, content *Content) {
	if g.store == nil || len(content.Results) == 0 {
		return
	}
	err := g.store.SaveGrounding(ctx, &core.Grounding{
		CollectionID: content.CollectionID,
		Topic:        content.Topic,
		Results:      content.Results,
		UpdatedAt:    content.UpdatedAt,
	})
	if err != nil {
		g.logger.Warn("error saving grounding", "collection", content.CollectionID, "topic", content.Topic, "err", err)
	}
}

func (g *ContentGrounder) recall(ctx context.Context, collectionID, topic string) *Content {
	if g.store == nil {
		return nil
	}
	saved, err := g.store.LoadGrounding(context.WithoutCancel(ctx), collectionID, topic)
	if err != nil {
		g.logger.Warn("error loading grounding", "collection", collectionID, "topic", topic, "err", err)
		return nil
	}
	if saved == nil {
		return nil
	}
	return &Content{
		CollectionID: saved.CollectionID,
		Topic:        saved.Topic,
		Results:      saved.Results,
		Fallback:     true,
		UpdatedAt:    saved.UpdatedAt,
	}
}
