// Package reprocess rebuilds the indexed chunks of every document in a
// collection, typically after a change of chunking rules or embedding model.
//
// Runs are explicit and never scheduled. Documents are visited in ID order
// in batches; after each batch a checkpoint records the last document
// visited so an interrupted run resumes where it stopped. Each document is
// retried with exponential backoff, and a document that still fails is
// counted and skipped rather than aborting the run.
package reprocess
