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
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/storage"
)

// Config holds configuration for a reprocessing run.
type Config struct {
	// BatchSize is the number of documents handled between checkpoints
	BatchSize int

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int

	// MaxRetries is the maximum number of attempts per document
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Restart ignores any saved checkpoint and starts from the first document
	Restart bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 10,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Summary describes a finished run.
type Summary struct {
	CollectionID string
	Total        int
	Processed    int
	Failed       int
	Resumed      bool
	Elapsed      time.Duration
}

// Reprocessor orchestrates reprocessing of every document in a collection.
type Reprocessor struct {
	documents   storage.DocumentRepository
	checkpoints storage.CheckpointRepository
	config      *Config
	progress    io.Writer
	processor   *BatchProcessor
	iterator    *DocumentIterator
	logger      *slog.Logger
}

// Option configures a Reprocessor.
type Option func(*Reprocessor)

// WithCheckpoints enables resumable runs.
func WithCheckpoints(checkpoints storage.CheckpointRepository) Option {
	return func(r *Reprocessor) {
		r.checkpoints = checkpoints
	}
}

// WithProgress sets where progress output is written (typically os.Stderr).
func WithProgress(w io.Writer) Option {
	return func(r *Reprocessor) {
		r.progress = w
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reprocessor) {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
	}
}

// NewReprocessor creates a new reprocessor.
func NewReprocessor(documents storage.DocumentRepository, reprocessor DocumentReprocessor, config *Config, opts ...Option) (*Reprocessor, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if reprocessor == nil {
		return nil, ErrReprocessorRequired
	}
	if config == nil {
		config = DefaultConfig()
	}

	r := &Reprocessor{
		documents: documents,
		config:    config,
		progress:  io.Discard,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reprocess")

	r.processor = NewBatchProcessor(reprocessor, config.MaxRetries, config.RetryDelay, r.logger)
	r.iterator = NewDocumentIterator(documents, config.BatchSize)
	return r, nil
}

// CheckpointName returns the checkpoint key used for collectionID.
func CheckpointName(collectionID string) string {
	return "reprocess:" + collectionID
}

// Run reprocesses every document of collectionID. With checkpoints enabled,
// a run interrupted by cancellation resumes after the last completed batch.
// Documents that keep failing are counted in the summary, not returned as errors.
func (r *Reprocessor) Run(ctx context.Context, collectionID string) (*Summary, error) {
	if collectionID == "" {
		return nil, ErrEmptyCollection
	}

	summary := &Summary{CollectionID: collectionID}
	checkpoint, err := r.loadCheckpoint(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	all, err := r.documents.ListDocuments(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	summary.Total = len(all)

	after := ""
	if checkpoint != nil {
		after = checkpoint.LastDocumentID
		summary.Processed = checkpoint.Processed
		summary.Failed = checkpoint.Failed
		summary.Resumed = true
	}
	remaining, err := r.iterator.List(ctx, collectionID, after)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	if summary.Total == 0 {
		fmt.Fprintf(r.progress, "No documents found in collection %s (0 documents)\n", collectionID)
		return summary, nil
	}

	if summary.Resumed {
		fmt.Fprintf(r.progress, "Resuming reprocessing of %s after %s (%d of %d remaining)\n",
			collectionID, after, len(remaining), summary.Total)
	} else {
		fmt.Fprintf(r.progress, "Starting reprocessing of %d documents in %s (batch size: %d)\n",
			summary.Total, collectionID, r.iterator.batchSize)
	}

	tracker := NewProgressTracker(r.progress, summary.Total, r.config.ReportInterval)
	tracker.Start(summary.Total - len(remaining))

	err = r.iterator.ForEach(ctx, remaining, func(batch []*core.Document) error {
		err := r.processor.Process(ctx, batch, func(_ *core.Document, err error) {
			summary.Processed++
			if err != nil {
				summary.Failed++
			}
			tracker.Record(err == nil)
		})
		if err != nil {
			return err
		}

		return r.saveCheckpoint(ctx, &core.Checkpoint{
			Name:           CheckpointName(collectionID),
			LastDocumentID: batch[len(batch)-1].ID,
			Processed:      summary.Processed,
			Failed:         summary.Failed,
		})
	})
	if err != nil {
		r.logger.Warn("reprocessing interrupted", "collection", collectionID, "processed", summary.Processed, "err", err)
		return summary, err
	}

	tracker.Finish()
	summary.Elapsed = tracker.Elapsed()

	if r.checkpoints != nil {
		if err := r.checkpoints.DeleteCheckpoint(ctx, CheckpointName(collectionID)); err != nil {
			return summary, fmt.Errorf("failed to clear checkpoint: %w", err)
		}
	}

	fmt.Fprintf(r.progress, "Reprocessing complete. Processed %d documents (%d failed) in %v\n",
		summary.Processed, summary.Failed, summary.Elapsed.Round(time.Millisecond))
	r.logger.Info("reprocessed collection", "collection", collectionID,
		"documents", summary.Processed, "failed", summary.Failed)

	return summary, nil
}

func (r *Reprocessor) loadCheckpoint(ctx context.Context, collectionID string) (*core.Checkpoint, error) {
	if r.checkpoints == nil {
		return nil, nil
	}
	if r.config.Restart {
		if err := r.checkpoints.DeleteCheckpoint(ctx, CheckpointName(collectionID)); err != nil {
			return nil, fmt.Errorf("failed to clear checkpoint: %w", err)
		}
		return nil, nil
	}
	checkpoint, err := r.checkpoints.LoadCheckpoint(ctx, CheckpointName(collectionID))
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return checkpoint, nil
}

func (r *Reprocessor) saveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	if r.checkpoints == nil {
		return nil
	}
	checkpoint.UpdatedAt = time.Now().UTC()
	// A completed batch is recorded even if the caller has just cancelled.
	if err := r.checkpoints.SaveCheckpoint(context.WithoutCancel(ctx), checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
