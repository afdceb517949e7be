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

// Package storage provides the storage abstraction layer for kbsearch.
//
// This package defines repository interfaces that decouple storage implementation
// from business logic:
//
//   - ChunkIndex: chunk+vector tuples per collection with similarity queries
//   - DocumentRepository: the document registry and ingestion status
//   - CheckpointRepository: progress of collection-wide batch jobs
//
// Implementations live in subpackages: storage/badger for the chunk index and
// checkpoints, storage/sqlite for the document registry.
//
// # Constructor Return Type Pattern
//
// Public constructors in the backend packages return concrete types that are
// asserted against these interfaces at compile time. Consumers should depend on
// the interfaces so tests can substitute in-memory implementations.
//
// # Persisted Format
//
// Records are encoded with mus-go serializers (see ChunkRecordMUS and the
// serializers in core). Decoding failures wrap ErrSerializationFailed.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support. Pass context.Background() for operations
// without specific timeout requirements.
package storage
