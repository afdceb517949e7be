package chunking

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultKeywordLimit     = 10
	DefaultKeywordMinLength = 4
)

var defaultStopWords = []string{
	"about", "above", "after", "again", "against", "also", "because", "been", "before",
	"being", "below", "between", "both", "could", "does", "doing", "down", "during",
	"each", "even", "every", "from", "further", "have", "having", "here", "into", "just",
	"like", "make", "makes", "many", "more", "most", "much", "must", "only", "other",
	"ours", "over", "same", "should", "some", "such", "than", "that", "their", "theirs",
	"them", "then", "there", "these", "they", "this", "those", "through", "under",
	"until", "very", "want", "well", "were", "what", "when", "where", "which", "while",
	"will", "with", "within", "without", "would", "your", "yours", "yourself",
}

// KeywordExtractor picks the most frequent significant terms from text.
type KeywordExtractor struct {
	limit     int
	minLength int
	stopWords map[string]struct{}
}

// KeywordOption configures a KeywordExtractor.
type KeywordOption func(*KeywordExtractor)

// WithLimit sets the maximum number of keywords returned. Default is 10.
func WithLimit(n int) KeywordOption {
	return func(k *KeywordExtractor) {
		if n > 0 {
			k.limit = n
		}
	}
}

// WithMinLength sets the minimum token length in characters. Default is 4.
func WithMinLength(n int) KeywordOption {
	return func(k *KeywordExtractor) {
		if n > 0 {
			k.minLength = n
		}
	}
}

// WithStopWords replaces the stop-word list.
func WithStopWords(words ...string) KeywordOption {
	return func(k *KeywordExtractor) {
		k.stopWords = toSet(words)
	}
}

// NewKeywordExtractor creates a KeywordExtractor with English stop words.
func NewKeywordExtractor(opts ...KeywordOption) *KeywordExtractor {
	k := &KeywordExtractor{
		limit:     DefaultKeywordLimit,
		minLength: DefaultKeywordMinLength,
		stopWords: toSet(defaultStopWords),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Extract returns up to limit keywords ordered by descending frequency.
// Ties keep the order in which the terms first appear.
func (k *KeywordExtractor) Extract(text string) []string {
	counts := make(map[string]int)
	var order []string

	for _, token := range strings.Fields(stripPunctuation(strings.ToLower(text))) {
		if utf8.RuneCountInString(token) < k.minLength {
			continue
		}
		if _, stop := k.stopWords[token]; stop {
			continue
		}
		if counts[token] == 0 {
			order = append(order, token)
		}
		counts[token]++
	}

	slices.SortStableFunc(order, func(a, b string) int {
		return cmp.Compare(counts[b], counts[a])
	})

	if len(order) > k.limit {
		order = order[:k.limit]
	}
	return order
}

func stripPunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, s)
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}
