package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/kbsearch/ai"
	"github.com/poiesic/kbsearch/cache"
	"github.com/poiesic/kbsearch/chunking"
	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/storage"
)

// DefaultIndexTimeout bounds each index write.
const DefaultIndexTimeout = 30 * time.Second

// Request is a document ready for ingestion.
type Request struct {
	DocumentID    string
	CollectionID  string
	ExtractedText string
}

// Result reports the outcome of processing one document.
type Result struct {
	DocumentID   string
	CollectionID string
	Chunks       int
}

// Pipeline orchestrates the ingestion and reprocessing of documents.
type Pipeline struct {
	documents    storage.DocumentRepository
	index        storage.ChunkIndex
	embedder     ai.Embedder
	chunker      *chunking.Chunker
	cache        *cache.SearchCache
	pool         *ants.Pool
	proc         *processor
	locks        *keyedMutex
	indexTimeout time.Duration
	pending      sync.WaitGroup
	logger       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for asynchronous ingestion.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		// Release old pool
		if p.pool != nil {
			p.pool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithChunker replaces the default chunker.
func WithChunker(chunker *chunking.Chunker) Option {
	return func(p *Pipeline) error {
		if chunker == nil {
			return ErrChunkerRequired
		}
		p.chunker = chunker
		return nil
	}
}

// WithCache sets the search cache invalidated after every index write.
func WithCache(c *cache.SearchCache) Option {
	return func(p *Pipeline) error {
		p.cache = c
		return nil
	}
}

// WithIndexTimeout bounds each index write. Default is 30 seconds.
func WithIndexTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d > 0 {
			p.indexTimeout = d
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	documents storage.DocumentRepository,
	index storage.ChunkIndex,
	provider ai.AIProvider,
	opts ...Option,
) (*Pipeline, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	chunker, err := chunking.NewChunker()
	if err != nil {
		pool.Release()
		return nil, err
	}

	// Create pipeline with defaults
	p := &Pipeline{
		documents:    documents,
		index:        index,
		embedder:     provider.Embedder(),
		chunker:      chunker,
		pool:         pool,
		locks:        newKeyedMutex(),
		indexTimeout: DefaultIndexTimeout,
		logger:       slog.Default(),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	// Create processor after options are applied (so it gets final config)
	p.proc, err = newProcessor(index, p.embedder, p.chunker, p.indexTimeout, p.logger)
	if err != nil {
		p.Release()
		return nil, err
	}

	return p, nil
}

// Ingest records the document and replaces its indexed chunks with ones built
// from req.ExtractedText. Ingesting an existing document ID reprocesses it.
// Text shorter than the chunker minimum yields zero chunks and no provider call.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	doc := &core.Document{
		ID:            req.DocumentID,
		CollectionID:  req.CollectionID,
		ExtractedText: req.ExtractedText,
		Status:        core.DocumentStatusPending,
	}
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}

	unlock := p.locks.lock(doc.ID)
	defer unlock()

	// A document moving collections leaves stale results in the old one.
	previous, err := p.documents.GetDocument(ctx, doc.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if previous != nil {
		doc.ChunkCount = previous.ChunkCount
	}

	if err := p.documents.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}

	result, err := p.run(ctx, doc)
	if previous != nil && previous.CollectionID != doc.CollectionID {
		p.invalidate(previous.CollectionID)
	}
	return result, err
}

// IngestAsync submits each request to the worker pool and returns once all
// are queued. Failures are logged and recorded on the document's status.
// Call Wait to block until the submitted work completes.
func (p *Pipeline) IngestAsync(ctx context.Context, reqs ...Request) error {
	ctx = context.WithoutCancel(ctx)
	for _, req := range reqs {
		p.pending.Add(1)
		err := p.pool.Submit(func() {
			defer p.pending.Done()
			result, err := p.Ingest(ctx, req)
			if err != nil {
				p.logger.Error("error ingesting document", "document", req.DocumentID, "err", err)
				return
			}
			p.logger.Info("ingested document", "document", result.DocumentID, "chunks", result.Chunks)
		})
		if err != nil {
			p.pending.Done()
			if errors.Is(err, ants.ErrPoolClosed) {
				return ErrPipelineReleased
			}
			return err
		}
	}
	return nil
}

// Wait blocks until all work submitted with IngestAsync has finished.
func (p *Pipeline) Wait() {
	p.pending.Wait()
}

// Reprocess deletes every chunk of the stored document and rebuilds them
// from its stored text.
func (p *Pipeline) Reprocess(ctx context.Context, documentID string) (*Result, error) {
	if documentID == "" {
		return nil, core.ErrEmptyID
	}

	unlock := p.locks.lock(documentID)
	defer unlock()

	doc, err := p.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, doc)
}

// DeleteAll removes every chunk of documentID from the index and returns how
// many were removed. The document record stays, reset to pending.
func (p *Pipeline) DeleteAll(ctx context.Context, documentID string) (int, error) {
	if documentID == "" {
		return 0, core.ErrEmptyID
	}

	unlock := p.locks.lock(documentID)
	defer unlock()

	collectionID, err := p.collectionOf(ctx, documentID)
	if err != nil {
		return 0, err
	}

	indexCtx, cancel := context.WithTimeout(ctx, p.indexTimeout)
	removed, err := p.index.DeleteDocument(indexCtx, documentID)
	cancel()
	if err != nil {
		return 0, core.NewIndexError("delete document", err)
	}

	if collectionID != "" {
		p.invalidate(collectionID)
	}

	err = p.documents.UpdateStatus(ctx, documentID, core.DocumentStatusPending, 0, "")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return removed, err
	}

	p.logger.Info("deleted document chunks", "document", documentID, "chunks", removed)
	return removed, nil
}

// GetChunkCount returns the number of indexed chunks for documentID.
func (p *Pipeline) GetChunkCount(ctx context.Context, documentID string) (int, error) {
	if documentID == "" {
		return 0, core.ErrEmptyID
	}
	indexCtx, cancel := context.WithTimeout(ctx, p.indexTimeout)
	defer cancel()
	n, err := p.index.CountChunks(indexCtx, documentID)
	if err != nil {
		return 0, core.NewIndexError("count chunks", err)
	}
	return n, nil
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// run processes doc while its lock is held, tracking status and
// invalidating the collection's cache once the index has changed.
func (p *Pipeline) run(ctx context.Context, doc *core.Document) (*Result, error) {
	if err := p.documents.UpdateStatus(ctx, doc.ID, core.DocumentStatusProcessing, doc.ChunkCount, ""); err != nil {
		return nil, err
	}

	n, err := p.proc.process(ctx, doc)
	if err != nil {
		p.markFailed(ctx, doc, err)
		return nil, err
	}

	p.invalidate(doc.CollectionID)

	if err := p.documents.UpdateStatus(ctx, doc.ID, core.DocumentStatusReady, n, ""); err != nil {
		return nil, err
	}

	p.logger.Debug("processed document", "document", doc.ID, "collection", doc.CollectionID, "chunks", n)
	return &Result{DocumentID: doc.ID, CollectionID: doc.CollectionID, Chunks: n}, nil
}

func (p *Pipeline) markFailed(ctx context.Context, doc *core.Document, cause error) {
	// The caller may have cancelled; the status update must still land.
	ctx = context.WithoutCancel(ctx)
	if err := p.documents.UpdateStatus(ctx, doc.ID, core.DocumentStatusFailed, doc.ChunkCount, cause.Error()); err != nil {
		p.logger.Error("error recording failure", "document", doc.ID, "err", err)
	}
}

func (p *Pipeline) invalidate(collectionID string) {
	if p.cache != nil {
		p.cache.DeleteByCollectionPrefix(collectionID)
	}
}

// collectionOf finds the collection holding documentID, preferring the
// registry and falling back to the index.
func (p *Pipeline) collectionOf(ctx context.Context, documentID string) (string, error) {
	doc, err := p.documents.GetDocument(ctx, documentID)
	if err == nil {
		return doc.CollectionID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	chunks, err := p.index.GetChunks(ctx, documentID)
	if err != nil {
		return "", core.NewIndexError("get chunks", err)
	}
	if len(chunks) == 0 {
		return "", nil
	}
	return chunks[0].CollectionID, nil
}
