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

package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/kbsearch/core"
	"golang.org/x/time/rate"
)

var (
	// ErrEmbedderRequired is returned when a nil provider is passed to NewBatchEmbedder.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrResultCount is returned when a provider answers with the wrong number of vectors.
	ErrResultCount = errors.New("provider returned wrong number of embeddings")
)

var _ Embedder = (*BatchEmbedder)(nil)

// BatchEmbedder wraps a provider Embedder with sub-batching, bounded
// concurrency, a per-call timeout and optional rate limiting.
// All errors it returns are *core.ProviderError.
type BatchEmbedder struct {
	provider  Embedder
	pool      *ants.Pool
	batchSize int
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// BatchOption configures a BatchEmbedder.
type BatchOption func(*BatchEmbedder) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchEmbedder) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// WithLimiter replaces the limiter derived from Config.RequestsPerSecond.
// Passing nil disables rate limiting.
func WithLimiter(limiter *rate.Limiter) BatchOption {
	return func(b *BatchEmbedder) error {
		b.limiter = limiter
		return nil
	}
}

// NewBatchEmbedder wraps provider using the batching settings in cfg.
// A nil cfg uses DefaultConfig().
func NewBatchEmbedder(provider Embedder, cfg *Config, opts ...BatchOption) (*BatchEmbedder, error) {
	if provider == nil {
		return nil, ErrEmbedderRequired
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, err
	}

	b := &BatchEmbedder{
		provider:  provider,
		pool:      pool,
		batchSize: cfg.MaxBatchSize,
		timeout:   cfg.Timeout,
		logger:    slog.Default(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(math.Ceil(cfg.RequestsPerSecond)))
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	for _, opt := range opts {
		if err := opt(b); err != nil {
			pool.Release()
			return nil, err
		}
	}
	b.logger = b.logger.With("component", "batch-embedder")
	return b, nil
}

// EmbedText embeds a single text.
func (b *BatchEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := b.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds texts, preserving input order. An empty input returns
// an empty result without contacting the provider.
func (b *BatchEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	results := make([][]float32, len(texts))
	batches := b.split(len(texts))

	b.logger.Debug("embedding texts", "count", len(texts), "batches", len(batches))

	if len(batches) == 1 {
		if err := b.runBatch(ctx, texts, results, batches[0]); err != nil {
			return nil, b.wrap(ctx, err)
		}
		return results, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for _, s := range batches {
		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			if err := b.runBatch(ctx, texts, results, s); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, b.wrap(ctx, firstErr)
	}
	return results, nil
}

// Close releases the worker pool.
func (b *BatchEmbedder) Close() {
	b.pool.Release()
}

type span struct{ start, end int }

func (b *BatchEmbedder) split(n int) []span {
	spans := make([]span, 0, (n+b.batchSize-1)/b.batchSize)
	for start := 0; start < n; start += b.batchSize {
		spans = append(spans, span{start, min(start+b.batchSize, n)})
	}
	return spans
}

func (b *BatchEmbedder) runBatch(ctx context.Context, texts []string, results [][]float32, s span) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	vectors, err := b.provider.EmbedTexts(ctx, texts[s.start:s.end])
	if err != nil {
		return err
	}
	if len(vectors) != s.end-s.start {
		return fmt.Errorf("%w: sent %d, received %d", ErrResultCount, s.end-s.start, len(vectors))
	}
	copy(results[s.start:s.end], vectors)
	return nil
}

func (b *BatchEmbedder) wrap(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	b.logger.Error("embedding failed", "err", err)
	return core.NewProviderError("embed", err)
}
