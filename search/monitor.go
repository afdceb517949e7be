package search

import (
	"github.com/poiesic/kbsearch/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(collectionID, query string)
	CacheHit(results []*core.SearchResult)
	CacheMiss()
	AfterEmbedding(dimensions int)
	AfterRanking(results []*core.SearchResult)
	Finish(results []*core.SearchResult)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_, _ string)                   {}
func (n *noopMonitor) CacheHit(_ []*core.SearchResult)     {}
func (n *noopMonitor) CacheMiss()                          {}
func (n *noopMonitor) AfterEmbedding(_ int)                {}
func (n *noopMonitor) AfterRanking(_ []*core.SearchResult) {}
func (n *noopMonitor) Finish(_ []*core.SearchResult)       {}
