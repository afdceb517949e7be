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

package reprocess

import (
	"context"
	"sort"

	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/storage"
)

const (
	// DefaultBatchSize is the default number of documents handled between checkpoints
	DefaultBatchSize = 25
)

// DocumentIterator iterates over the documents of a collection in batches,
// ordered by document ID.
type DocumentIterator struct {
	repo      storage.DocumentRepository
	batchSize int
}

// NewDocumentIterator creates a new document iterator.
// batchSize: number of documents per batch (must be > 0)
func NewDocumentIterator(repo storage.DocumentRepository, batchSize int) *DocumentIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &DocumentIterator{
		repo:      repo,
		batchSize: batchSize,
	}
}

// List returns the collection's documents with IDs greater than after.
// An empty after lists every document.
func (it *DocumentIterator) List(ctx context.Context, collectionID, after string) ([]*core.Document, error) {
	docs, err := it.repo.ListDocuments(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if after == "" {
		return docs, nil
	}
	i := sort.Search(len(docs), func(i int) bool { return docs[i].ID > after })
	return docs[i:], nil
}

// ForEach calls fn for each batch of documents. Iteration stops on the first
// error from fn. Context cancellation is checked between batches.
func (it *DocumentIterator) ForEach(ctx context.Context, docs []*core.Document, fn func([]*core.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for i := 0; i < len(docs); i += it.batchSize {
		end := min(i+it.batchSize, len(docs))

		if err := fn(docs[i:end]); err != nil {
			return err
		}

		// Check context after each batch
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
