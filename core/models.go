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
	"encoding/hex"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// Fingerprint returns a hex BLAKE2b-128 digest of parts. Parts are
// NUL-separated, so ("ab", "c") and ("a", "bc") differ.
func Fingerprint(parts ...string) string {
	h, _ := blake2b.New(16, nil) // 16 bytes = 128 bits
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ChunkType is the content category assigned to a chunk by the classifier.
type ChunkType string

const (
	ChunkTypePricing     ChunkType = "pricing"
	ChunkTypeFeature     ChunkType = "feature"
	ChunkTypeBenefit     ChunkType = "benefit"
	ChunkTypeUseCase     ChunkType = "use_case"
	ChunkTypeTechnical   ChunkType = "technical"
	ChunkTypeTestimonial ChunkType = "testimonial"
	ChunkTypeGeneral     ChunkType = "general"
)

// ChunkTypes lists every valid chunk type.
var ChunkTypes = []ChunkType{
	ChunkTypePricing,
	ChunkTypeFeature,
	ChunkTypeBenefit,
	ChunkTypeUseCase,
	ChunkTypeTechnical,
	ChunkTypeTestimonial,
	ChunkTypeGeneral,
}

// DocumentStatus tracks where a document is in the ingestion lifecycle.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is the unit of ingestion. ExtractedText is produced by an
// external text-extraction collaborator.
type Document struct {
	ID            string
	CollectionID  string
	ExtractedText string
	Status        DocumentStatus
	ChunkCount    int
	Error         string // Last processing error, empty when Status is not failed
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Chunk is a bounded, contiguous slice of a document's text and the unit of retrieval.
type Chunk struct {
	ID           string
	DocumentID   string
	CollectionID string
	Text         string
	Index        int // Position within the document, contiguous from 0
	Type         ChunkType
	Keywords     []string
	CreatedAt    time.Time
}

// SearchResult is a chunk matched by a similarity query.
type SearchResult struct {
	ChunkID    string
	DocumentID string
	Text       string
	Type       ChunkType
	Index      int
	Similarity float32
	Keywords   []string
}

// CollectionInfo summarizes the indexed contents of a collection.
type CollectionInfo struct {
	CollectionID  string
	DocumentCount int
	ChunkCount    int
	TypeCounts    map[ChunkType]int
	Dimensions    int // Vector dimension of stored chunks, 0 when empty
}

// Checkpoint records the progress of a long-running batch job so it can resume.
type Checkpoint struct {
	Name           string
	LastDocumentID string
	Processed      int
	Failed         int
	UpdatedAt      time.Time
}

// Grounding is the factual context retrieved for one topic of a collection.
// The last successful grounding per topic is kept as a fallback.
type Grounding struct {
	CollectionID string
	Topic        string
	Results      []*SearchResult
	UpdatedAt    time.Time
}
