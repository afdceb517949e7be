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

package openai

import (
	"log/slog"

	"github.com/poiesic/kbsearch/ai"
)

// Provider implements ai.AIProvider using an OpenAI-compatible embedding service.
// The embedder it hands out is already wrapped in an ai.BatchEmbedder.
type Provider struct {
	config   *ai.Config
	embedder *ai.BatchEmbedder
	logger   *slog.Logger
}

// NewProvider creates a new AI provider with OpenAI-compatible services.
// The config is validated and normalized before use.
//
// Returns ai.AIProvider interface (not *Provider) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	raw, err := newEmbedder(config)
	if err != nil {
		return nil, err
	}

	batched, err := ai.NewBatchEmbedder(raw, config)
	if err != nil {
		return nil, err
	}

	return &Provider{
		config:   config,
		embedder: batched,
		logger:   slog.Default().With("component", "openai-provider"),
	}, nil
}

// Embedder returns the batching embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Close releases the embedder's worker pool.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider")
	p.embedder.Close()
	return nil
}
