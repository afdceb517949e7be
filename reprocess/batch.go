package reprocess

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/ingestion"
	"github.com/poiesic/kbsearch/retry"
	"github.com/poiesic/kbsearch/storage"
)

// DocumentReprocessor rebuilds one document's chunks from its stored text.
// *ingestion.Pipeline implements it.
type DocumentReprocessor interface {
	Reprocess(ctx context.Context, documentID string) (*ingestion.Result, error)
}

var _ DocumentReprocessor = (*ingestion.Pipeline)(nil)

// BatchProcessor reprocesses batches of documents with retry.
type BatchProcessor struct {
	reprocessor    DocumentReprocessor
	maxRetries     int
	retryBaseDelay time.Duration
	logger         *slog.Logger
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts per document
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(reprocessor DocumentReprocessor, maxRetries int, retryBaseDelay time.Duration, logger *slog.Logger) *BatchProcessor {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		reprocessor:    reprocessor,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		logger:         logger,
	}
}

// Process reprocesses each document in turn, calling done with the outcome.
// A document that fails every attempt is logged and skipped. Only context
// cancellation stops the batch early.
func (bp *BatchProcessor) Process(ctx context.Context, docs []*core.Document, done func(doc *core.Document, err error)) error {
	for _, doc := range docs {
		err := retry.WithBackoff(ctx, func(ctx context.Context) error {
			_, err := bp.reprocessor.Reprocess(ctx, doc.ID)
			if isPermanent(err) {
				return retry.Permanent(err)
			}
			return err
		}, bp.maxRetries, bp.retryBaseDelay)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			bp.logger.Warn("failed to reprocess document", "document", doc.ID, "err", err)
		}
		done(doc, err)
	}
	return nil
}

// isPermanent reports whether retrying err cannot succeed.
func isPermanent(err error) bool {
	return errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, core.ErrInvalidDocument) ||
		errors.Is(err, core.ErrEmptyID)
}
