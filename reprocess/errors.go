package reprocess

import "errors"

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrReprocessorRequired is returned when no document reprocessor is provided.
	ErrReprocessorRequired = errors.New("document reprocessor required")

	// ErrEmptyCollection is returned when Run is called without a collection ID.
	ErrEmptyCollection = errors.New("collection id required")
)
