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

package badger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/storage"
)

// ErrBackendRequired is returned when a nil backend is passed to a constructor.
var ErrBackendRequired = errors.New("backend is required")

// ctxCheckInterval is how many records a scan reads between cancellation checks.
const ctxCheckInterval = 256

// ChunkIndex implements storage.ChunkIndex for BadgerDB.
//
// Chunk records live under a collection-scoped prefix so a query scans only its
// own collection. A per-document pointer key remembers which collection a
// document was last stored in, so replacing or deleting a document never has to
// be told its old collection.
type ChunkIndex struct {
	backend     *Backend
	ownsBackend bool
	dimensions  int
	logger      *slog.Logger
}

var _ storage.ChunkIndex = (*ChunkIndex)(nil)

// IndexOption configures a ChunkIndex.
type IndexOption func(*ChunkIndex) error

// WithDimensions fixes the vector dimension accepted by the index.
// Zero accepts any dimension as long as each write is self-consistent.
func WithDimensions(d int) IndexOption {
	return func(ci *ChunkIndex) error {
		if d < 0 {
			return fmt.Errorf("%w: negative dimensions", storage.ErrDimensionMismatch)
		}
		ci.dimensions = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) IndexOption {
	return func(ci *ChunkIndex) error {
		if logger == nil {
			logger = slog.Default()
		}
		ci.logger = logger
		return nil
	}
}

// NewChunkIndex creates a ChunkIndex on an open backend.
// The caller keeps ownership of backend.
func NewChunkIndex(backend *Backend, opts ...IndexOption) (*ChunkIndex, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	ci := &ChunkIndex{
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(ci); err != nil {
			return nil, err
		}
	}
	ci.logger = ci.logger.With("component", "chunk-index")
	return ci, nil
}

// Close closes the backend if the index opened it.
func (ci *ChunkIndex) Close() error {
	if ci.ownsBackend {
		return ci.backend.Close()
	}
	return nil
}

// ReplaceChunks deletes the document's existing chunks and stores the new set
// in a single transaction.
func (ci *ChunkIndex) ReplaceChunks(ctx context.Context, documentID string, chunks []*core.Chunk, vectors [][]float32) error {
	if err := ci.validateWrite(documentID, chunks, vectors); err != nil {
		return core.NewIndexError("replace chunks", err)
	}

	now := time.Now().UTC()
	err := ci.backend.WithTx(ctx, func(tx *badger.Txn) error {
		removed, err := deleteDocumentTx(tx, documentID)
		if err != nil {
			return err
		}

		for i, chunk := range chunks {
			if chunk.CreatedAt.IsZero() {
				chunk.CreatedAt = now
			}
			value := storage.MarshalChunkRecord(storage.NewChunkRecord(chunk, vectors[i]))
			if err := tx.Set(makeChunkKey(chunk.CollectionID, documentID, chunk.Index), value); err != nil {
				return err
			}
		}

		if len(chunks) > 0 {
			if err := tx.Set(makeDocumentPointerKey(documentID), []byte(chunks[0].CollectionID)); err != nil {
				return err
			}
		}

		ci.logger.Debug("replacing chunks", "document", documentID, "removed", removed, "added", len(chunks))
		return nil
	}, true)

	return core.NewIndexError("replace chunks", err)
}

func (ci *ChunkIndex) validateWrite(documentID string, chunks []*core.Chunk, vectors [][]float32) error {
	if documentID == "" {
		return core.ErrEmptyID
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", storage.ErrVectorCountMismatch, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := core.ValidateChunkSequence(documentID, chunks); err != nil {
		return err
	}

	collectionID := chunks[0].CollectionID
	if len(collectionID) > math.MaxUint16 || len(documentID) > math.MaxUint16 {
		return fmt.Errorf("%w: identifier too long", core.ErrInvalidChunk)
	}

	dims := ci.dimensions
	if dims == 0 {
		dims = len(vectors[0])
	}
	for i, chunk := range chunks {
		if chunk.CollectionID != collectionID {
			return fmt.Errorf("%w: %q and %q", storage.ErrMixedCollections, collectionID, chunk.CollectionID)
		}
		if len(vectors[i]) == 0 || len(vectors[i]) != dims {
			return fmt.Errorf("%w: chunk %d has %d, want %d", storage.ErrDimensionMismatch, i, len(vectors[i]), dims)
		}
	}
	return nil
}

// deleteDocumentTx removes every chunk of a document and its pointer key.
func deleteDocumentTx(tx *badger.Txn, documentID string) (int, error) {
	pointerKey := makeDocumentPointerKey(documentID)
	item, err := tx.Get(pointerKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	collectionID, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}

	keys := keysWithPrefix(tx, makeDocumentPrefix(string(collectionID), documentID))
	for _, key := range keys {
		if err := tx.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := tx.Delete(pointerKey); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Query ranks the collection's chunks against vector by cosine similarity.
func (ci *ChunkIndex) Query(ctx context.Context, collectionID string, vector []float32, opts storage.QueryOptions) ([]*core.SearchResult, error) {
	if collectionID == "" {
		return nil, fmt.Errorf("%w: collection id: %w", core.ErrInvalidQuery, core.ErrEmptyID)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", core.ErrInvalidQuery)
	}
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", core.ErrInvalidQuery, opts.Limit)
	}
	if ci.dimensions > 0 && len(vector) != ci.dimensions {
		return nil, core.NewIndexError("query", fmt.Errorf("%w: query has %d, index has %d",
			storage.ErrDimensionMismatch, len(vector), ci.dimensions))
	}

	results := []*core.SearchResult{}
	queryNorm := norm(vector)

	err := ci.backend.WithTx(ctx, func(tx *badger.Txn) error {
		return scanCollection(ctx, tx, collectionID, func(record *storage.ChunkRecord) error {
			if len(opts.Types) > 0 && !slices.Contains(opts.Types, record.Type) {
				return nil
			}
			if len(record.Vector) != len(vector) {
				return fmt.Errorf("%w: chunk %s has %d, query has %d",
					storage.ErrDimensionMismatch, record.ID, len(record.Vector), len(vector))
			}
			similarity := cosine(vector, queryNorm, record.Vector)
			if similarity >= opts.Threshold {
				results = append(results, record.SearchResult(similarity))
			}
			return nil
		})
	}, false)
	if err != nil {
		return nil, core.NewIndexError("query", err)
	}

	slices.SortFunc(results, compareResults)

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// compareResults orders by similarity descending, then chunk index and
// document ID ascending so equal scores rank deterministically.
func compareResults(a, b *core.SearchResult) int {
	if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Index, b.Index); c != 0 {
		return c
	}
	return cmp.Compare(a.DocumentID, b.DocumentID)
}

// scanCollection decodes every record in a collection, checking ctx periodically.
func scanCollection(ctx context.Context, tx *badger.Txn, collectionID string, fn func(*storage.ChunkRecord) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeCollectionPrefix(collectionID)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	n := 0
	for iter.Rewind(); iter.Valid(); iter.Next() {
		n++
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		var record *storage.ChunkRecord
		err := iter.Item().Value(func(val []byte) error {
			var err error
			record, err = storage.UnmarshalChunkRecord(val)
			return err
		})
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// DeleteDocument removes every chunk stored for documentID.
func (ci *ChunkIndex) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	var removed int
	err := ci.backend.WithTx(ctx, func(tx *badger.Txn) error {
		var err error
		removed, err = deleteDocumentTx(tx, documentID)
		return err
	}, true)
	if err != nil {
		return 0, core.NewIndexError("delete document", err)
	}
	ci.logger.Debug("deleted document chunks", "document", documentID, "removed", removed)
	return removed, nil
}

// CountChunks returns the number of chunks stored for documentID.
func (ci *ChunkIndex) CountChunks(ctx context.Context, documentID string) (int, error) {
	var count int
	err := ci.backend.WithTx(ctx, func(tx *badger.Txn) error {
		prefix, ok, err := documentPrefix(tx, documentID)
		if err != nil || !ok {
			return err
		}
		count = len(keysWithPrefix(tx, prefix))
		return nil
	}, false)
	if err != nil {
		return 0, core.NewIndexError("count chunks", err)
	}
	return count, nil
}

// GetChunks returns the chunks stored for documentID ordered by index.
func (ci *ChunkIndex) GetChunks(ctx context.Context, documentID string) ([]*core.Chunk, error) {
	chunks := []*core.Chunk{}
	err := ci.backend.WithTx(ctx, func(tx *badger.Txn) error {
		prefix, ok, err := documentPrefix(tx, documentID)
		if err != nil || !ok {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				record, err := storage.UnmarshalChunkRecord(val)
				if err != nil {
					return err
				}
				chunks = append(chunks, record.Chunk())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, core.NewIndexError("get chunks", err)
	}
	return chunks, nil
}

// documentPrefix resolves the chunk prefix of a document through its pointer key.
func documentPrefix(tx *badger.Txn, documentID string) ([]byte, bool, error) {
	item, err := tx.Get(makeDocumentPointerKey(documentID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	collectionID, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return makeDocumentPrefix(string(collectionID), documentID), true, nil
}

// CollectionInfo summarizes the chunks stored in collectionID.
func (ci *ChunkIndex) CollectionInfo(ctx context.Context, collectionID string) (*core.CollectionInfo, error) {
	info := &core.CollectionInfo{
		CollectionID: collectionID,
		TypeCounts:   make(map[core.ChunkType]int),
	}
	documents := make(map[string]struct{})

	err := ci.backend.WithTx(ctx, func(tx *badger.Txn) error {
		return scanCollection(ctx, tx, collectionID, func(record *storage.ChunkRecord) error {
			info.ChunkCount++
			info.TypeCounts[record.Type]++
			documents[record.DocumentID] = struct{}{}
			if info.Dimensions == 0 {
				info.Dimensions = len(record.Vector)
			}
			return nil
		})
	}, false)
	if err != nil {
		return nil, core.NewIndexError("collection info", err)
	}

	info.DocumentCount = len(documents)
	return info, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine returns the cosine similarity of a and b given a's precomputed norm.
// Zero vectors have similarity 0 with everything.
func cosine(a []float32, aNorm float64, b []float32) float32 {
	bNorm := norm(b)
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (aNorm * bNorm))
}
