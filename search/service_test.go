package search

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/kbsearch/ai/mock"
	"github.com/poiesic/kbsearch/cache"
	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/storage"
	"github.com/poiesic/kbsearch/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingIndex records how often the wrapped index is queried.
type countingIndex struct {
	storage.ChunkIndex
	queries atomic.Int64
	infos   atomic.Int64
	err     error
}

func (c *countingIndex) Query(ctx context.Context, collectionID string, vector []float32, opts storage.QueryOptions) ([]*core.SearchResult, error) {
	c.queries.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.ChunkIndex.Query(ctx, collectionID, vector, opts)
}

func (c *countingIndex) CollectionInfo(ctx context.Context, collectionID string) (*core.CollectionInfo, error) {
	c.infos.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.ChunkIndex.CollectionInfo(ctx, collectionID)
}

// recordingMonitor captures the stages it observes.
type recordingMonitor struct {
	stages []string
}

func (m *recordingMonitor) Start(_, _ string) {
	m.stages = append(m.stages, "start")
}

func (m *recordingMonitor) CacheHit(_ []*core.SearchResult) {
	m.stages = append(m.stages, "hit")
}

func (m *recordingMonitor) CacheMiss() {
	m.stages = append(m.stages, "miss")
}

func (m *recordingMonitor) AfterEmbedding(_ int) {
	m.stages = append(m.stages, "embedded")
}

func (m *recordingMonitor) AfterRanking(_ []*core.SearchResult) {
	m.stages = append(m.stages, "ranked")
}

func (m *recordingMonitor) Finish(_ []*core.SearchResult) {
	m.stages = append(m.stages, "finish")
}

// unitAt returns a 2-d unit vector whose cosine with (1, 0) is sim.
func unitAt(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

type fixture struct {
	index    *countingIndex
	embedder *mock.MockEmbedder
	cache    *cache.SearchCache
	service  *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	idx, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	c, err := cache.New()
	require.NoError(t, err)
	t.Cleanup(c.Close)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, _ string) ([]float32, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []float32{1, 0}, nil
	}

	f := &fixture{
		index:    &countingIndex{ChunkIndex: idx},
		embedder: embedder,
		cache:    c,
	}
	f.service, err = NewService(f.index, mock.NewMockProviderWithEmbedder(embedder),
		append([]Option{WithCache(c)}, opts...)...)
	require.NoError(t, err)
	return f
}

func (f *fixture) store(t *testing.T, collectionID, documentID string, sims map[core.ChunkType]float64, order ...core.ChunkType) {
	t.Helper()
	chunks := make([]*core.Chunk, len(order))
	vectors := make([][]float32, len(order))
	for i, typ := range order {
		chunks[i] = &core.Chunk{
			ID:           documentID + "-" + string(typ),
			DocumentID:   documentID,
			CollectionID: collectionID,
			Text:         string(typ) + " text",
			Index:        i,
			Type:         typ,
		}
		vectors[i] = unitAt(sims[typ])
	}
	require.NoError(t, f.index.ReplaceChunks(context.Background(), documentID, chunks, vectors))
}

func TestNewService(t *testing.T) {
	idx, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	defer idx.Close()

	provider := mock.NewMockProvider()

	t.Run("valid configuration", func(t *testing.T) {
		s, err := NewService(idx, provider)
		require.NoError(t, err)
		assert.Equal(t, DefaultLimit, s.limit)
		assert.Equal(t, DefaultThreshold, s.threshold)
	})

	t.Run("with nil logger falls back to default", func(t *testing.T) {
		s, err := NewService(idx, provider, WithLogger(nil))
		require.NoError(t, err)
		assert.NotNil(t, s.logger)
	})

	t.Run("with custom logger", func(t *testing.T) {
		_, err := NewService(idx, provider, WithLogger(slog.Default()))
		require.NoError(t, err)
	})

	t.Run("nil index", func(t *testing.T) {
		_, err := NewService(nil, provider)
		assert.Equal(t, ErrIndexRequired, err)
	})

	t.Run("nil provider", func(t *testing.T) {
		_, err := NewService(idx, nil)
		assert.Equal(t, ErrAIProviderRequired, err)
	})

	t.Run("invalid defaults", func(t *testing.T) {
		_, err := NewService(idx, provider, WithDefaultLimit(0))
		assert.ErrorIs(t, err, ErrInvalidLimit)
		_, err = NewService(idx, provider, WithDefaultThreshold(1.5))
		assert.ErrorIs(t, err, ErrInvalidThreshold)
	})
}

func TestSearch_SingleChunkAboveThreshold(t *testing.T) {
	f := newFixture(t)
	f.store(t, "collectionA", "doc1",
		map[core.ChunkType]float64{core.ChunkTypePricing: 0.52, core.ChunkTypeFeature: 0.30},
		core.ChunkTypePricing, core.ChunkTypeFeature)

	results, err := f.service.Search(context.Background(), "collectionA", "How much does it cost?",
		Options{Limit: 5, Threshold: Threshold(0.45)})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "doc1-pricing", results[0].ChunkID)
	assert.Equal(t, core.ChunkTypePricing, results[0].Type)
	assert.InDelta(t, 0.52, results[0].Similarity, 1e-4)
}

func TestSearch_DefaultsApplied(t *testing.T) {
	f := newFixture(t)
	f.store(t, "col", "doc1",
		map[core.ChunkType]float64{core.ChunkTypePricing: 0.9, core.ChunkTypeFeature: 0.44},
		core.ChunkTypePricing, core.ChunkTypeFeature)

	results, err := f.service.Search(context.Background(), "col", "anything", Options{})
	require.NoError(t, err)
	require.Len(t, results, 1, "0.44 is below the default threshold")

	results, err = f.service.Search(context.Background(), "col", "anything", Options{Threshold: Threshold(-1)})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearch_ZeroThresholdIsHonored(t *testing.T) {
	f := newFixture(t)
	f.store(t, "col", "doc1",
		map[core.ChunkType]float64{core.ChunkTypePricing: 0.9, core.ChunkTypeFeature: 0.2, core.ChunkTypeTechnical: -0.3},
		core.ChunkTypePricing, core.ChunkTypeFeature, core.ChunkTypeTechnical)
	ctx := context.Background()

	results, err := f.service.Search(ctx, "col", "anything", Options{Threshold: Threshold(0)})
	require.NoError(t, err)
	require.Len(t, results, 2, "0 is a real threshold, not the default")
	assert.Equal(t, "doc1-feature", results[1].ChunkID)

	results, err = f.service.Search(ctx, "col", "anything", Options{})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = f.service.Search(ctx, "col", "anything", Options{Threshold: Threshold(-1)})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearch_SecondIdenticalQueryServedFromCache(t *testing.T) {
	f := newFixture(t)
	f.store(t, "col", "doc1",
		map[core.ChunkType]float64{core.ChunkTypePricing: 0.8},
		core.ChunkTypePricing)
	ctx := context.Background()

	first, err := f.service.Search(ctx, "col", "How much does it cost?", Options{})
	require.NoError(t, err)
	require.Equal(t, 1, f.embedder.CallCount())
	require.Equal(t, int64(1), f.index.queries.Load())

	second, err := f.service.Search(ctx, "col", "  how MUCH does it   cost? ", Options{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.embedder.CallCount(), "no provider call on cache hit")
	assert.Equal(t, int64(1), f.index.queries.Load(), "no index call on cache hit")
	assert.Equal(t, uint64(1), f.cache.Stats().Hits)
}

func TestSearch_DifferentOptionsMiss(t *testing.T) {
	f := newFixture(t)
	f.store(t, "col", "doc1",
		map[core.ChunkType]float64{core.ChunkTypePricing: 0.8},
		core.ChunkTypePricing)
	ctx := context.Background()

	_, err := f.service.Search(ctx, "col", "q", Options{})
	require.NoError(t, err)
	_, err = f.service.Search(ctx, "col", "q", Options{Types: []core.ChunkType{core.ChunkTypeFeature}})
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.index.queries.Load())
}

func TestSearch_InvalidationForcesRecompute(t *testing.T) {
	f := newFixture(t)
	f.store(t, "col", "doc1",
		map[core.ChunkType]float64{core.ChunkTypePricing: 0.8},
		core.ChunkTypePricing)
	ctx := context.Background()

	_, err := f.service.Search(ctx, "col", "q", Options{})
	require.NoError(t, err)

	f.store(t, "col", "doc1",
		map[core.ChunkType]float64{core.ChunkTypeFeature: 0.7},
		core.ChunkTypeFeature)
	f.cache.DeleteByCollectionPrefix("col")

	results, err := f.service.Search(ctx, "col", "q", Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc1-feature", results[0].ChunkID)
}

func TestSearch_TypeFilter(t *testing.T) {
	f := newFixture(t)
	f.store(t, "col", "doc1",
		map[core.ChunkType]float64{core.ChunkTypePricing: 0.9, core.ChunkTypeTechnical: 0.8},
		core.ChunkTypePricing, core.ChunkTypeTechnical)

	results, err := f.service.Search(context.Background(), "col", "q",
		Options{Types: []core.ChunkType{core.ChunkTypeTechnical}})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, core.ChunkTypeTechnical, results[0].Type)
}

func TestSearch_ResultProperties(t *testing.T) {
	f := newFixture(t)
	sims := map[core.ChunkType]float64{
		core.ChunkTypePricing:     0.95,
		core.ChunkTypeFeature:     0.40,
		core.ChunkTypeBenefit:     0.70,
		core.ChunkTypeUseCase:     0.46,
		core.ChunkTypeTechnical:   0.10,
		core.ChunkTypeTestimonial: 0.60,
		core.ChunkTypeGeneral:     0.50,
	}
	f.store(t, "col", "doc1", sims, core.ChunkTypes...)

	results, err := f.service.Search(context.Background(), "col", "q", Options{Limit: 3, Threshold: Threshold(0.45)})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(results), 3)
	for i, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, float32(0.45))
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Similarity, r.Similarity)
		}
	}
	assert.Equal(t, core.ChunkTypePricing, results[0].Type)
}

func TestSearch_EmptyCollectionIsNotAnError(t *testing.T) {
	f := newFixture(t)

	results, err := f.service.Search(context.Background(), "empty", "q", Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		collection string
		query      string
		opts       Options
	}{
		{"empty collection", "", "q", Options{}},
		{"blank query", "col", "   ", Options{}},
		{"negative limit", "col", "q", Options{Limit: -1}},
		{"threshold too high", "col", "q", Options{Threshold: Threshold(1.2)}},
		{"unknown type", "col", "q", Options{Types: []core.ChunkType{"bogus"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Search(ctx, tt.collection, tt.query, tt.opts)
			assert.ErrorIs(t, err, core.ErrInvalidQuery)
		})
	}
	assert.Zero(t, f.embedder.CallCount())
}

func TestSearch_ProviderErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("503 service unavailable")
	}

	results, err := f.service.Search(context.Background(), "col", "q", Options{})

	assert.Nil(t, results)
	assert.ErrorIs(t, err, core.ErrProvider)
	var pe *core.ProviderError
	assert.ErrorAs(t, err, &pe)
	assert.Zero(t, f.index.queries.Load())
}

func TestSearch_ProviderTimeout(t *testing.T) {
	f := newFixture(t, WithEmbedTimeout(20*time.Millisecond))
	f.embedder.EmbedTextFunc = func(ctx context.Context, _ string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := f.service.Search(context.Background(), "col", "q", Options{})

	assert.ErrorIs(t, err, core.ErrProvider)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSearch_IndexErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.index.err = errors.New("disk on fire")

	results, err := f.service.Search(context.Background(), "col", "q", Options{})

	assert.Nil(t, results)
	assert.ErrorIs(t, err, core.ErrIndex)

	// Failures are never cached.
	f.index.err = nil
	_, err = f.service.Search(context.Background(), "col", "q", Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.index.queries.Load())
}

func TestSearch_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.Search(ctx, "col", "q", Options{})

	assert.ErrorIs(t, err, core.ErrProvider)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.index.queries.Load())
}

func TestSearch_CancelledAfterRankingSkipsCache(t *testing.T) {
	f := newFixture(t)
	f.store(t, "col", "doc1",
		map[core.ChunkType]float64{core.ChunkTypePricing: 0.8},
		core.ChunkTypePricing)

	ctx, cancel := context.WithCancel(context.Background())
	f.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		cancel()
		return []float32{1, 0}, nil
	}

	// The index query runs on a derived context, so it fails once the parent is cancelled.
	_, err := f.service.Search(ctx, "col", "q", Options{})
	require.Error(t, err)

	f.embedder.EmbedTextFunc = nil
	_, ok := f.cache.GetResults(f.cache.ResultKey("col", "q", variant(storage.QueryOptions{
		Limit: DefaultLimit, Threshold: DefaultThreshold,
	})))
	assert.False(t, ok)
}

func TestSearch_WithoutCache(t *testing.T) {
	idx, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	defer idx.Close()

	provider := mock.NewMockProvider()
	s, err := NewService(idx, provider)
	require.NoError(t, err)

	for range 2 {
		_, err := s.Search(context.Background(), "col", "q", Options{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, provider.(*mock.MockProvider).GetMockEmbedder().CallCount())
}

func TestSearchWithMonitor_Stages(t *testing.T) {
	f := newFixture(t)
	f.store(t, "col", "doc1",
		map[core.ChunkType]float64{core.ChunkTypePricing: 0.8},
		core.ChunkTypePricing)

	m := &recordingMonitor{}
	_, err := f.service.SearchWithMonitor(context.Background(), "col", "q", Options{}, m)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "miss", "embedded", "ranked", "finish"}, m.stages)

	m = &recordingMonitor{}
	_, err = f.service.SearchWithMonitor(context.Background(), "col", "q", Options{}, m)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "hit", "finish"}, m.stages)
}

func TestCollectionInfo_ReadThrough(t *testing.T) {
	f := newFixture(t)
	f.store(t, "col", "doc1",
		map[core.ChunkType]float64{core.ChunkTypePricing: 0.8, core.ChunkTypeFeature: 0.1},
		core.ChunkTypePricing, core.ChunkTypeFeature)
	ctx := context.Background()

	info, err := f.service.CollectionInfo(ctx, "col")
	require.NoError(t, err)
	assert.Equal(t, 2, info.ChunkCount)
	assert.Equal(t, 1, info.DocumentCount)
	assert.Equal(t, 1, info.TypeCounts[core.ChunkTypePricing])

	_, err = f.service.CollectionInfo(ctx, "col")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.index.infos.Load())

	f.cache.DeleteByCollectionPrefix("col")
	_, err = f.service.CollectionInfo(ctx, "col")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.index.infos.Load())
}

func TestCollectionInfo_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CollectionInfo(context.Background(), "")
	assert.ErrorIs(t, err, core.ErrInvalidQuery)

	f.index.err = errors.New("boom")
	_, err = f.service.CollectionInfo(context.Background(), "col")
	assert.ErrorIs(t, err, core.ErrIndex)
}
