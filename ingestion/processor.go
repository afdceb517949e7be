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

package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/kbsearch/ai"
	"github.com/poiesic/kbsearch/chunking"
	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/storage"
)

// processor rebuilds the indexed chunks of one document.
type processor struct {
	index        storage.ChunkIndex
	embedder     ai.Embedder
	chunker      *chunking.Chunker
	indexTimeout time.Duration
	logger       *slog.Logger
}

// newProcessor creates a new document processor.
func newProcessor(index storage.ChunkIndex, embedder ai.Embedder, chunker *chunking.Chunker, indexTimeout time.Duration, logger *slog.Logger) (*processor, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if chunker == nil {
		return nil, ErrChunkerRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &processor{
		index:        index,
		embedder:     embedder,
		chunker:      chunker,
		indexTimeout: indexTimeout,
		logger:       logger.With("processor", "chunks"),
	}, nil
}

// process chunks doc, embeds every chunk and replaces the document's chunks
// in the index. Text too short for a chunk clears the document's chunks
// without calling the embedder. Returns the number of chunks stored.
func (p *processor) process(ctx context.Context, doc *core.Document) (int, error) {
	chunks := p.chunker.Chunk(doc.ExtractedText)
	p.logger.Debug("chunked document", "document", doc.ID, "chunks", len(chunks))

	now := time.Now().UTC()
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		chunk.ID = uuid.NewString()
		chunk.DocumentID = doc.ID
		chunk.CollectionID = doc.CollectionID
		chunk.CreatedAt = now
		texts[i] = chunk.Text
	}

	var vectors [][]float32
	if len(chunks) > 0 {
		var err error
		vectors, err = p.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			p.logger.Error("error generating embeddings", "document", doc.ID, "err", err)
			return 0, core.NewProviderError("embed chunks", err)
		}
	}

	indexCtx, cancel := context.WithTimeout(ctx, p.indexTimeout)
	defer cancel()
	if err := p.index.ReplaceChunks(indexCtx, doc.ID, chunks, vectors); err != nil {
		p.logger.Error("error replacing chunks", "document", doc.ID, "err", err)
		return 0, core.NewIndexError("replace chunks", err)
	}

	return len(chunks), nil
}
