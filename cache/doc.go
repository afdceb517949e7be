// Package cache provides the per-process search cache.
//
// SearchCache keeps two bounded, TTL-based stores built on ristretto: collection
// metadata and search results. Result keys hash the normalized query, so
// queries that differ only in case or whitespace share an entry.
//
// Invalidation is per collection. DeleteByCollectionPrefix advances the
// collection's generation; keys built earlier no longer match and values
// computed against the old generation are refused on store.
//
// Eviction under capacity pressure follows ristretto's sampled LFU admission
// policy rather than strict LRU.
package cache
