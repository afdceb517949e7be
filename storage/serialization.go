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

package storage

import (
	"fmt"
	"time"

	"github.com/poiesic/kbsearch/core"
)

// ChunkRecord is the persisted shape of a chunk and its embedding vector.
type ChunkRecord struct {
	ID           string
	DocumentID   string
	CollectionID string
	Text         string
	Index        int
	Type         core.ChunkType
	Keywords     []string
	Vector       []float32
	CreatedAt    time.Time
}

// NewChunkRecord pairs a chunk with its vector.
func NewChunkRecord(chunk *core.Chunk, vector []float32) *ChunkRecord {
	return &ChunkRecord{
		ID:           chunk.ID,
		DocumentID:   chunk.DocumentID,
		CollectionID: chunk.CollectionID,
		Text:         chunk.Text,
		Index:        chunk.Index,
		Type:         chunk.Type,
		Keywords:     chunk.Keywords,
		Vector:       vector,
		CreatedAt:    chunk.CreatedAt,
	}
}

// Chunk returns the record without its vector.
func (r *ChunkRecord) Chunk() *core.Chunk {
	return &core.Chunk{
		ID:           r.ID,
		DocumentID:   r.DocumentID,
		CollectionID: r.CollectionID,
		Text:         r.Text,
		Index:        r.Index,
		Type:         r.Type,
		Keywords:     r.Keywords,
		CreatedAt:    r.CreatedAt,
	}
}

// SearchResult converts the record into a result with the given similarity.
func (r *ChunkRecord) SearchResult(similarity float32) *core.SearchResult {
	return &core.SearchResult{
		ChunkID:    r.ID,
		DocumentID: r.DocumentID,
		Text:       r.Text,
		Type:       r.Type,
		Index:      r.Index,
		Similarity: similarity,
		Keywords:   r.Keywords,
	}
}

// MarshalChunkRecord serializes a ChunkRecord to bytes.
func MarshalChunkRecord(record *ChunkRecord) []byte {
	buf := make([]byte, ChunkRecordMUS.Size(*record))
	ChunkRecordMUS.Marshal(*record, buf)
	return buf
}

// UnmarshalChunkRecord deserializes a ChunkRecord from bytes.
func UnmarshalChunkRecord(data []byte) (*ChunkRecord, error) {
	record, _, err := ChunkRecordMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk record: %w", ErrSerializationFailed, err)
	}
	return &record, nil
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(checkpoint *core.Checkpoint) []byte {
	buf := make([]byte, core.CheckpointMUS.Size(*checkpoint))
	core.CheckpointMUS.Marshal(*checkpoint, buf)
	return buf
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	checkpoint, _, err := core.CheckpointMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: checkpoint: %w", ErrSerializationFailed, err)
	}
	return &checkpoint, nil
}

// MarshalGrounding serializes a Grounding to bytes.
func MarshalGrounding(g *core.Grounding) []byte {
	buf := make([]byte, core.GroundingMUS.Size(*g))
	core.GroundingMUS.Marshal(*g, buf)
	return buf
}

// UnmarshalGrounding deserializes a Grounding from bytes.
func UnmarshalGrounding(data []byte) (*core.Grounding, error) {
	g, _, err := core.GroundingMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: grounding: %w", ErrSerializationFailed, err)
	}
	return &g, nil
}
