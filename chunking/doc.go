// Package chunking turns extracted document text into retrievable chunks.
//
// A Chunker splits text into sentences and packs them into chunks bounded by
// MinChars and MaxChars, carrying a configurable number of sentences over from
// one chunk to the next. Every emitted chunk is tagged by a Classifier and
// annotated by a KeywordExtractor before it is returned.
//
// All types in this package are pure string processing and are safe for
// concurrent use once constructed.
package chunking
