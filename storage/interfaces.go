package storage

import (
	"context"

	"github.com/poiesic/kbsearch/core"
)

// QueryOptions narrows a similarity query.
type QueryOptions struct {
	// Threshold is the minimum cosine similarity a chunk must reach.
	Threshold float32

	// Limit caps the number of results. Must be positive.
	Limit int

	// Types restricts results to these chunk types. Empty means all types.
	Types []core.ChunkType
}

// ChunkIndex stores chunk+vector tuples per collection and ranks them by similarity.
// Implementations must be thread-safe. Every failure is reported as a *core.IndexError,
// except invalid query parameters which wrap core.ErrInvalidQuery.
type ChunkIndex interface {
	// ReplaceChunks atomically removes every chunk stored for documentID and
	// inserts chunks with their vectors. chunks[i] pairs with vectors[i].
	// Passing no chunks removes the document's chunks.
	ReplaceChunks(ctx context.Context, documentID string, chunks []*core.Chunk, vectors [][]float32) error

	// Query returns chunks of collectionID whose similarity to vector is at least
	// opts.Threshold, ordered by similarity descending then chunk index ascending,
	// truncated to opts.Limit. An empty result is not an error.
	Query(ctx context.Context, collectionID string, vector []float32, opts QueryOptions) ([]*core.SearchResult, error)

	// DeleteDocument removes every chunk for documentID and returns how many were removed.
	DeleteDocument(ctx context.Context, documentID string) (int, error)

	// CountChunks returns the number of chunks stored for documentID.
	CountChunks(ctx context.Context, documentID string) (int, error)

	// GetChunks returns the chunks stored for documentID ordered by index.
	GetChunks(ctx context.Context, documentID string) ([]*core.Chunk, error)

	// CollectionInfo summarizes the chunks stored in collectionID.
	CollectionInfo(ctx context.Context, collectionID string) (*core.CollectionInfo, error)

	// Close releases resources held by the index.
	Close() error
}

// DocumentRepository tracks ingested documents and their processing status.
type DocumentRepository interface {
	// SaveDocument inserts or replaces a document.
	SaveDocument(ctx context.Context, doc *core.Document) error

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// ListDocuments returns the documents of a collection ordered by ID.
	ListDocuments(ctx context.Context, collectionID string) ([]*core.Document, error)

	// UpdateStatus records a status transition along with the resulting chunk
	// count and error message. Returns ErrNotFound if the document doesn't exist.
	UpdateStatus(ctx context.Context, id string, status core.DocumentStatus, chunkCount int, errMsg string) error

	// DeleteDocument removes a document. Returns ErrNotFound if it doesn't exist.
	DeleteDocument(ctx context.Context, id string) error

	// Close releases resources held by the repository.
	Close() error
}

// CheckpointRepository persists batch job progress.
type CheckpointRepository interface {
	// SaveCheckpoint persists a checkpoint, replacing any with the same name.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint retrieves a checkpoint by name.
	// Returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, name string) (*core.Checkpoint, error)

	// DeleteCheckpoint removes a checkpoint. Missing checkpoints are not an error.
	DeleteCheckpoint(ctx context.Context, name string) error
}

// GroundingRepository keeps the last successful grounding per collection and topic.
type GroundingRepository interface {
	// SaveGrounding persists g, replacing any earlier grounding for its topic.
	SaveGrounding(ctx context.Context, g *core.Grounding) error

	// LoadGrounding retrieves the grounding for a collection and topic.
	// Returns nil, nil if none has been saved.
	LoadGrounding(ctx context.Context, collectionID, topic string) (*core.Grounding, error)
}
