package grounding

import "errors"

var (
	// ErrSearcherRequired is returned when a searcher is not provided.
	ErrSearcherRequired = errors.New("searcher required")

	// ErrNoGrounding is returned when search fails and no fallback exists.
	ErrNoGrounding = errors.New("no grounding available")
)
