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

package core

import (
	"fmt"
	"slices"
)

// ValidateDocument validates a Document according to domain rules.
// Validation rules:
//   - ID must not be empty
//   - CollectionID must not be empty
//
// NOT validated:
//   - ExtractedText (empty text is valid and yields zero chunks)
//   - Status (assigned by the ingestion pipeline)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if doc.ID == "" {
		return fmt.Errorf("%w: document id: %w", ErrInvalidDocument, ErrEmptyID)
	}

	if doc.CollectionID == "" {
		return fmt.Errorf("%w: collection id: %w", ErrInvalidDocument, ErrEmptyID)
	}

	return nil
}

// ValidateChunk validates a Chunk prior to persistence.
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if chunk.DocumentID == "" {
		return fmt.Errorf("%w: document id: %w", ErrInvalidChunk, ErrEmptyID)
	}

	if chunk.CollectionID == "" {
		return fmt.Errorf("%w: collection id: %w", ErrInvalidChunk, ErrEmptyID)
	}

	if chunk.Index < 0 {
		return fmt.Errorf("%w: negative index %d", ErrInvalidChunk, chunk.Index)
	}

	if err := ValidateChunkType(chunk.Type); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, err)
	}

	return nil
}

// ValidateChunkType validates that a ChunkType has a known value.
func ValidateChunkType(t ChunkType) error {
	if !slices.Contains(ChunkTypes, t) {
		return fmt.Errorf("%w: %q", ErrInvalidChunkType, t)
	}
	return nil
}

// ValidateChunkSequence checks that chunks belong to one document and have
// contiguous indices starting at 0.
func ValidateChunkSequence(documentID string, chunks []*Chunk) error {
	for i, chunk := range chunks {
		if err := ValidateChunk(chunk); err != nil {
			return err
		}
		if chunk.DocumentID != documentID {
			return fmt.Errorf("%w: chunk %d belongs to document %q, expected %q",
				ErrInvalidChunk, i, chunk.DocumentID, documentID)
		}
		if chunk.Index != i {
			return fmt.Errorf("%w: index %d at position %d breaks contiguity", ErrInvalidChunk, chunk.Index, i)
		}
	}
	return nil
}
