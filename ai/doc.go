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

// Package ai provides abstractions for the embedding services used by kbsearch.
//
// This package defines the Embedder interface and the BatchEmbedder wrapper that
// every caller goes through. Concrete providers live in subpackages:
//
//   - ai/openai: OpenAI-compatible embedding APIs via langchaingo
//   - ai/mock: deterministic test doubles
//
// # Batching
//
// BatchEmbedder splits large requests into provider-sized sub-batches, runs them
// on a bounded worker pool and reassembles the vectors in input order. Each call
// is bounded by a timeout and an optional request rate. Every failure is reported
// as a *core.ProviderError; the wrapper never retries.
package ai
