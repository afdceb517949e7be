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

// Package search provides threshold-based semantic search over indexed chunks.
//
// Service answers a query in four stages:
//   - Look up the normalized query in the SearchCache
//   - On a miss, embed the query with the configured provider
//   - Rank the collection's chunks by cosine similarity in the ChunkIndex
//   - Store the ranked results in the cache unless the caller cancelled
//
// Provider and index failures are returned as *core.ProviderError and
// *core.IndexError. They are never reported as an empty result set.
package search
