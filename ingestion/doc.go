// Package ingestion turns extracted document text into indexed, searchable chunks.
//
// The Pipeline type manages the ingestion workflow for documents, including:
//   - Recording the document and its processing status
//   - Chunking, classifying and keyword-tagging the text
//   - Embedding every chunk in batched provider calls
//   - Replacing the document's chunks in the index in one transaction
//   - Invalidating the collection's cached search results
//
// Processing of a single document is serialized; different documents are
// processed concurrently. IngestAsync runs documents on a worker pool and
// logs per-document failures instead of returning them.
package ingestion
