package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/kbsearch/ai/mock"
	"github.com/poiesic/kbsearch/cache"
	"github.com/poiesic/kbsearch/chunking"
	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/search"
	"github.com/poiesic/kbsearch/storage"
	"github.com/poiesic/kbsearch/storage/badger"
	"github.com/poiesic/kbsearch/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentences builds text of n distinct sentences, each about 70 characters.
func sentences(topic string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("Paragraph %02d explains how %s works for everyday customers.", i, topic)
	}
	return strings.Join(parts, " ")
}

type fixture struct {
	documents *sqlite.DocumentRepository
	index     *badger.ChunkIndex
	embedder  *mock.MockEmbedder
	cache     *cache.SearchCache
	pipeline  *Pipeline
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	documents, err := sqlite.OpenDocumentRepository(sqlite.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { documents.Close() })

	index, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	c, err := cache.New()
	require.NoError(t, err)
	t.Cleanup(c.Close)

	embedder := mock.NewMockEmbedder()
	embedder.Dimensions = 16

	pipeline, err := NewPipeline(documents, index, mock.NewMockProviderWithEmbedder(embedder),
		append([]Option{WithCache(c)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(pipeline.Release)

	return &fixture{
		documents: documents,
		index:     index,
		embedder:  embedder,
		cache:     c,
		pipeline:  pipeline,
	}
}

func TestNewPipeline(t *testing.T) {
	documents, err := sqlite.OpenDocumentRepository(sqlite.MemoryDSN)
	require.NoError(t, err)
	defer documents.Close()
	index, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	defer index.Close()
	provider := mock.NewMockProvider()

	t.Run("valid pipeline", func(t *testing.T) {
		pipeline, err := NewPipeline(documents, index, provider)
		require.NoError(t, err)
		defer pipeline.Release()

		assert.NotNil(t, pipeline.pool)
		assert.NotNil(t, pipeline.chunker)
		assert.NotNil(t, pipeline.proc)
	})

	t.Run("nil document repository", func(t *testing.T) {
		_, err := NewPipeline(nil, index, provider)
		assert.Equal(t, ErrDocumentRepositoryRequired, err)
	})

	t.Run("nil index", func(t *testing.T) {
		_, err := NewPipeline(documents, nil, provider)
		assert.Equal(t, ErrIndexRequired, err)
	})

	t.Run("nil provider", func(t *testing.T) {
		_, err := NewPipeline(documents, index, nil)
		assert.Equal(t, ErrAIProviderRequired, err)
	})

	t.Run("nil chunker", func(t *testing.T) {
		_, err := NewPipeline(documents, index, provider, WithChunker(nil))
		assert.Equal(t, ErrChunkerRequired, err)
	})
}

func TestPipeline_WithOptions(t *testing.T) {
	documents, err := sqlite.OpenDocumentRepository(sqlite.MemoryDSN)
	require.NoError(t, err)
	defer documents.Close()
	index, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	defer index.Close()
	provider := mock.NewMockProvider()

	t.Run("with pool size", func(t *testing.T) {
		pipeline, err := NewPipeline(documents, index, provider, WithPoolSize(4))
		require.NoError(t, err)
		defer pipeline.Release()
		assert.Equal(t, 4, pipeline.pool.Cap())
	})

	t.Run("with pool size zero defaults to 1", func(t *testing.T) {
		pipeline, err := NewPipeline(documents, index, provider, WithPoolSize(0))
		require.NoError(t, err)
		defer pipeline.Release()
		assert.Equal(t, 1, pipeline.pool.Cap())
	})

	t.Run("with nil logger falls back to default", func(t *testing.T) {
		pipeline, err := NewPipeline(documents, index, provider, WithLogger(nil))
		require.NoError(t, err)
		defer pipeline.Release()
		assert.NotNil(t, pipeline.logger)
	})

	t.Run("with multiple options", func(t *testing.T) {
		chunker, err := chunking.NewChunker(chunking.WithMinChars(50), chunking.WithMaxChars(100))
		require.NoError(t, err)

		pipeline, err := NewPipeline(documents, index, provider,
			WithPoolSize(2),
			WithLogger(slog.Default()),
			WithChunker(chunker),
			WithIndexTimeout(time.Second),
		)
		require.NoError(t, err)
		defer pipeline.Release()

		assert.Same(t, chunker, pipeline.chunker)
		assert.Equal(t, time.Second, pipeline.indexTimeout)
	})
}

func TestPipeline_Ingest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.pipeline.Ingest(ctx, Request{
		DocumentID:    "doc1",
		CollectionID:  "col",
		ExtractedText: sentences("billing", 30),
	})
	require.NoError(t, err)
	assert.Equal(t, "doc1", result.DocumentID)
	assert.Equal(t, 2, result.Chunks)

	chunks, err := f.index.GetChunks(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, "col", chunk.CollectionID)
		assert.NotEmpty(t, chunk.ID)
		assert.NotEmpty(t, chunk.Keywords)
	}
	assert.NotEqual(t, chunks[0].ID, chunks[1].ID)

	// All chunks embedded in one batched call.
	assert.Equal(t, 1, f.embedder.CallCount())
	assert.Equal(t, 2, f.embedder.TextCount())

	doc, err := f.documents.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, core.DocumentStatusReady, doc.Status)
	assert.Equal(t, 2, doc.ChunkCount)
	assert.Empty(t, doc.Error)
}

func TestPipeline_IngestEmptyText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, text := range []string{"", "   ", "Too short to chunk."} {
		result, err := f.pipeline.Ingest(ctx, Request{DocumentID: "doc1", CollectionID: "col", ExtractedText: text})
		require.NoError(t, err)
		assert.Zero(t, result.Chunks)
	}

	assert.Zero(t, f.embedder.CallCount(), "no provider calls for text without chunks")

	n, err := f.pipeline.GetChunkCount(ctx, "doc1")
	require.NoError(t, err)
	assert.Zero(t, n)

	doc, err := f.documents.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, core.DocumentStatusReady, doc.Status)
}

func TestPipeline_IngestValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Ingest(context.Background(), Request{CollectionID: "col", ExtractedText: "x"})
	assert.ErrorIs(t, err, core.ErrInvalidDocument)

	_, err = f.pipeline.Ingest(context.Background(), Request{DocumentID: "doc1", ExtractedText: "x"})
	assert.ErrorIs(t, err, core.ErrEmptyID)
}

func TestPipeline_ProviderFailureMarksDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, Request{DocumentID: "doc1", CollectionID: "col", ExtractedText: sentences("billing", 20)})
	require.NoError(t, err)

	f.embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("rate limited")
	}

	_, err = f.pipeline.Ingest(ctx, Request{DocumentID: "doc1", CollectionID: "col", ExtractedText: sentences("support", 20)})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrProvider)

	doc, err := f.documents.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, core.DocumentStatusFailed, doc.Status)
	assert.Contains(t, doc.Error, "rate limited")

	// The previous chunk set is untouched.
	chunks, err := f.index.GetChunks(ctx, "doc1")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Text, "billing")
}

func TestPipeline_ReprocessReplacesChunksAndInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc, err := search.NewService(f.index, mock.NewMockProviderWithEmbedder(f.embedder), search.WithCache(f.cache))
	require.NoError(t, err)

	_, err = f.pipeline.Ingest(ctx, Request{DocumentID: "doc1", CollectionID: "col", ExtractedText: sentences("billing", 20)})
	require.NoError(t, err)
	oldChunks, err := f.index.GetChunks(ctx, "doc1")
	require.NoError(t, err)

	anything := search.Options{Threshold: search.Threshold(-1), Limit: 50}
	before, err := svc.Search(ctx, "col", "how does billing work", anything)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	// Edit the stored text, then reprocess.
	doc, err := f.documents.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	doc.ExtractedText = sentences("onboarding", 20)
	require.NoError(t, f.documents.SaveDocument(ctx, doc))

	result, err := f.pipeline.Reprocess(ctx, "doc1")
	require.NoError(t, err)
	assert.Positive(t, result.Chunks)

	after, err := svc.Search(ctx, "col", "how does billing work", anything)
	require.NoError(t, err)
	require.NotEmpty(t, after)

	oldIDs := make(map[string]bool)
	for _, c := range oldChunks {
		oldIDs[c.ID] = true
	}
	for _, r := range after {
		assert.False(t, oldIDs[r.ChunkID], "old chunk %s returned after reprocess", r.ChunkID)
		assert.Contains(t, r.Text, "onboarding")
	}
	assert.Equal(t, uint64(2), f.cache.Stats().Invalidations, "ingest and reprocess each invalidate")
}

func TestPipeline_ReprocessUnknownDocument(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Reprocess(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.pipeline.Reprocess(context.Background(), "")
	assert.ErrorIs(t, err, core.ErrEmptyID)
}

func TestPipeline_MovingCollectionsInvalidatesBoth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, Request{DocumentID: "doc1", CollectionID: "a", ExtractedText: sentences("billing", 20)})
	require.NoError(t, err)

	staleKey := f.cache.ResultKey("a", "q", "")
	f.cache.SetResults(staleKey, []*core.SearchResult{{ChunkID: "old"}})

	_, err = f.pipeline.Ingest(ctx, Request{DocumentID: "doc1", CollectionID: "b", ExtractedText: sentences("billing", 20)})
	require.NoError(t, err)

	_, ok := f.cache.GetResults(f.cache.ResultKey("a", "q", ""))
	assert.False(t, ok)

	info, err := f.index.CollectionInfo(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, info.ChunkCount)
}

func TestPipeline_DeleteAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, Request{DocumentID: "doc1", CollectionID: "col", ExtractedText: sentences("billing", 30)})
	require.NoError(t, err)

	key := f.cache.ResultKey("col", "q", "")
	f.cache.SetResults(key, []*core.SearchResult{{ChunkID: "x"}})

	removed, err := f.pipeline.DeleteAll(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	n, err := f.pipeline.GetChunkCount(ctx, "doc1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, ok := f.cache.GetResults(f.cache.ResultKey("col", "q", ""))
	assert.False(t, ok)

	doc, err := f.documents.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, core.DocumentStatusPending, doc.Status)
	assert.Zero(t, doc.ChunkCount)

	// Deleting again is a no-op.
	removed, err = f.pipeline.DeleteAll(ctx, "doc1")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestPipeline_DeleteAllUnregisteredDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chunks := []*core.Chunk{{ID: "c0", DocumentID: "orphan", CollectionID: "col", Text: "t", Type: core.ChunkTypeGeneral}}
	require.NoError(t, f.index.ReplaceChunks(ctx, "orphan", chunks, [][]float32{{1, 0}}))

	removed, err := f.pipeline.DeleteAll(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, uint64(1), f.cache.Stats().Invalidations)
}

func TestPipeline_IngestAsync(t *testing.T) {
	f := newFixture(t, WithPoolSize(3))
	ctx := context.Background()

	reqs := make([]Request, 6)
	for i := range reqs {
		reqs[i] = Request{
			DocumentID:    fmt.Sprintf("doc%d", i),
			CollectionID:  "col",
			ExtractedText: sentences(fmt.Sprintf("topic %d", i), 20),
		}
	}
	reqs[5].CollectionID = ""

	require.NoError(t, f.pipeline.IngestAsync(ctx, reqs...))
	f.pipeline.Wait()

	docs, err := f.documents.ListDocuments(ctx, "col")
	require.NoError(t, err)
	require.Len(t, docs, 5, "invalid request is logged and skipped")
	for _, doc := range docs {
		assert.Equal(t, core.DocumentStatusReady, doc.Status)
	}
}

func TestPipeline_IngestAsyncAfterRelease(t *testing.T) {
	f := newFixture(t)
	f.pipeline.Release()

	err := f.pipeline.IngestAsync(context.Background(), Request{DocumentID: "d", CollectionID: "c"})
	assert.ErrorIs(t, err, ErrPipelineReleased)
}

func TestPipeline_SameDocumentSerialized(t *testing.T) {
	f := newFixture(t, WithPoolSize(8))
	ctx := context.Background()

	var inFlight, maxInFlight atomic.Int32
	f.embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.DeterministicVector(text, 16)
		}
		return out, nil
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pipeline.Ingest(ctx, Request{
				DocumentID:    "doc1",
				CollectionID:  "col",
				ExtractedText: sentences(fmt.Sprintf("version %d", i), 20),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Zero(t, f.pipeline.locks.size())

	chunks, err := f.index.GetChunks(ctx, "doc1")
	require.NoError(t, err)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index, "no interleaved or duplicated chunks")
	}
}

func TestPipeline_Release(t *testing.T) {
	f := newFixture(t)

	// Release should not panic
	f.pipeline.Release()

	// Multiple releases should not panic
	f.pipeline.Release()
}
